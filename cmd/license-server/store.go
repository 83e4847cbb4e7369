package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-subscription-license/internal/config"
	"github.com/CloudNativeWorks/cnw-subscription-license/license"
	"github.com/CloudNativeWorks/cnw-subscription-license/license/recordstore"
)

// openStore connects the configured record store. The returned func releases
// the underlying client.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (license.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s, err := recordstore.NewPostgres(ctx, pool, recordstore.WithTableName(cfg.PostgresTable))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case config.DriverMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}
		s, err := recordstore.NewMongo(ctx, client.Database(cfg.MongoDatabase),
			recordstore.WithCollectionName(cfg.MongoCollection))
		if err != nil {
			disconnect()
			return nil, nil, err
		}
		return s, disconnect, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		return recordstore.NewRedis(client, recordstore.WithKeyPrefix(cfg.RedisPrefix)), closeClient, nil

	case config.DriverMemory, "":
		logger.Warn("using in-memory license store; records are lost on restart")
		return recordstore.NewMemory(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
