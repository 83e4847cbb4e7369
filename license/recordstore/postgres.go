package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

const defaultPostgresTable = "licenses"

var errRetryInsert = errors.New("record inserted concurrently")

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTableName sets the PostgreSQL table name. Default: "licenses".
func WithTableName(name string) PostgresOption {
	return func(s *Postgres) {
		s.tableName = name
	}
}

// Postgres implements license.Store on PostgreSQL. Mutate locks the row with
// SELECT ... FOR UPDATE for the duration of the read-modify-write.
type Postgres struct {
	pool      *pgxpool.Pool
	tableName string
}

var _ license.Store = (*Postgres)(nil)

// NewPostgres creates a PostgreSQL-backed store.
// It auto-creates the table and the subscription index on initialization.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	s := &Postgres{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validIdentifier.MatchString(s.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.tableName)
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			license_key             TEXT PRIMARY KEY,
			billing_customer_id     TEXT NOT NULL DEFAULT '',
			billing_subscription_id TEXT NOT NULL DEFAULT '',
			email                   TEXT NOT NULL DEFAULT '',
			status                  TEXT NOT NULL,
			current_period_end      BIGINT NOT NULL DEFAULT 0,
			created_at              BIGINT NOT NULL DEFAULT 0,
			device_id               TEXT NOT NULL DEFAULT '',
			last_event_at           BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%s_subscription
			ON %s (billing_subscription_id) WHERE billing_subscription_id <> '';
	`, s.tableName, s.tableName, s.tableName)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *Postgres) columns() string {
	return `license_key, billing_customer_id, billing_subscription_id, email, status,
		current_period_end, created_at, device_id, last_event_at`
}

func scanRecord(row pgx.Row) (*license.Record, error) {
	var rec license.Record
	err := row.Scan(&rec.LicenseKey, &rec.BillingCustomerID, &rec.BillingSubscriptionID,
		&rec.Email, &rec.Status, &rec.CurrentPeriodEnd, &rec.CreatedAt, &rec.DeviceID, &rec.LastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Postgres) Get(ctx context.Context, key string) (*license.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1`, s.columns(), s.tableName)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, key))
	if err != nil && !errors.Is(err, license.ErrNotFound) {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return rec, err
}

func (s *Postgres) Put(ctx context.Context, rec license.Record) error {
	_, err := s.Mutate(ctx, rec.LicenseKey, overwrite(rec))
	return err
}

func (s *Postgres) Mutate(ctx context.Context, key string, fn license.MutateFunc) (*license.Record, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		var stored *license.Record
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			query := fmt.Sprintf(`SELECT %s FROM %s WHERE license_key = $1 FOR UPDATE`, s.columns(), s.tableName)
			current, err := scanRecord(tx.QueryRow(ctx, query, key))
			if errors.Is(err, license.ErrNotFound) {
				current = nil
			} else if err != nil {
				return fmt.Errorf("lock license: %w", err)
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				stored = current
				return nil
			}
			if err := license.CheckTransition(key, current, next); err != nil {
				return err
			}

			if current == nil {
				tag, err := tx.Exec(ctx, fmt.Sprintf(`
					INSERT INTO %s (%s)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
					ON CONFLICT (license_key) DO NOTHING
				`, s.tableName, s.columns()), recordArgs(next)...)
				if err != nil {
					return fmt.Errorf("insert license: %w", err)
				}
				if tag.RowsAffected() == 0 {
					return errRetryInsert
				}
			} else {
				_, err := tx.Exec(ctx, fmt.Sprintf(`
					UPDATE %s SET
						billing_customer_id = $2,
						billing_subscription_id = $3,
						email = $4,
						status = $5,
						current_period_end = $6,
						created_at = $7,
						device_id = $8,
						last_event_at = $9
					WHERE license_key = $1
				`, s.tableName), recordArgs(next)...)
				if err != nil {
					return fmt.Errorf("update license: %w", err)
				}
			}
			stored = next
			return nil
		})
		if errors.Is(err, errRetryInsert) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, license.ErrConflict
}

func recordArgs(rec *license.Record) []any {
	return []any{
		rec.LicenseKey, rec.BillingCustomerID, rec.BillingSubscriptionID, rec.Email,
		string(rec.Status), rec.CurrentPeriodEnd, rec.CreatedAt, rec.DeviceID, rec.LastEventAt,
	}
}

func (s *Postgres) FindBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	query := fmt.Sprintf(`SELECT license_key FROM %s WHERE billing_subscription_id = $1 LIMIT 1`, s.tableName)
	var key string
	err := s.pool.QueryRow(ctx, query, subscriptionID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", license.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find by subscription: %w", err)
	}
	return key, nil
}

func (s *Postgres) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT license_key FROM %s ORDER BY license_key`, s.tableName)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

func (s *Postgres) Close(_ context.Context) error {
	return nil // caller manages the pgxpool.Pool lifecycle
}
