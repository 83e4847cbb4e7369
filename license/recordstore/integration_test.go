package recordstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

// The database-backed stores run the shared contract only when a test server
// is configured through the environment.

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LICENSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LICENSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	n := 0
	runStoreContract(t, func(t *testing.T) license.Store {
		n++
		table := fmt.Sprintf("licenses_test_%d_%d", time.Now().UnixNano(), n)
		s, err := NewPostgres(ctx, pool, WithTableName(table))
		require.NoError(t, err)
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		})
		return s
	})
}

func TestPostgresRejectsBadTableName(t *testing.T) {
	_, err := NewPostgres(context.Background(), nil, WithTableName("licenses; DROP TABLE x"))
	require.Error(t, err)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("LICENSE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LICENSE_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(fmt.Sprintf("license_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	n := 0
	runStoreContract(t, func(t *testing.T) license.Store {
		n++
		s, err := NewMongo(ctx, db, WithCollectionName(fmt.Sprintf("licenses_%d", n)))
		require.NoError(t, err)
		return s
	})
}
