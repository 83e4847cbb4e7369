package recordstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CloudNativeWorks/cnw-subscription-license/license"
)

const defaultMongoCollection = "licenses"

// MongoOption configures a Mongo store.
type MongoOption func(*Mongo)

// WithCollectionName sets the MongoDB collection name. Default: "licenses".
func WithCollectionName(name string) MongoOption {
	return func(s *Mongo) {
		s.collectionName = name
	}
}

// mongoRecord is the stored document: the record plus a version counter
// used for compare-and-swap.
type mongoRecord struct {
	license.Record `bson:",inline"`
	Version        int64 `bson:"version"`
}

// Mongo implements license.Store on MongoDB. Mutate replaces a document only
// if its version is unchanged since it was read.
type Mongo struct {
	collection     *mongo.Collection
	collectionName string
}

var _ license.Store = (*Mongo)(nil)

// NewMongo creates a MongoDB-backed store.
// It creates the subscription index on initialization.
func NewMongo(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*Mongo, error) {
	s := &Mongo{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validIdentifier.MatchString(s.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.collectionName)
	}
	s.collection = db.Collection(s.collectionName)

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "billing_subscription_id", Value: 1}},
	})
	return err
}

func (s *Mongo) load(ctx context.Context, key string) (*mongoRecord, error) {
	var doc mongoRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &doc, nil
}

func (s *Mongo) Get(ctx context.Context, key string) (*license.Record, error) {
	doc, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return &doc.Record, nil
}

func (s *Mongo) Put(ctx context.Context, rec license.Record) error {
	_, err := s.Mutate(ctx, rec.LicenseKey, overwrite(rec))
	return err
}

func (s *Mongo) Mutate(ctx context.Context, key string, fn license.MutateFunc) (*license.Record, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		doc, err := s.load(ctx, key)
		if err != nil && !errors.Is(err, license.ErrNotFound) {
			return nil, err
		}
		var current *license.Record
		if doc != nil {
			current = &doc.Record
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return current, nil
		}
		if err := license.CheckTransition(key, current, next); err != nil {
			return nil, err
		}

		if doc == nil {
			_, err := s.collection.InsertOne(ctx, mongoRecord{Record: *next, Version: 1})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("insert license: %w", err)
			}
			return next, nil
		}

		res, err := s.collection.ReplaceOne(ctx,
			bson.M{"_id": key, "version": doc.Version},
			mongoRecord{Record: *next, Version: doc.Version + 1},
		)
		if err != nil {
			return nil, fmt.Errorf("replace license: %w", err)
		}
		if res.MatchedCount == 0 {
			continue
		}
		return next, nil
	}
	return nil, license.ErrConflict
}

func (s *Mongo) FindBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	var doc struct {
		Key string `bson:"_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})
	err := s.collection.FindOne(ctx, bson.M{"billing_subscription_id": subscriptionID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", license.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find by subscription: %w", err)
	}
	return doc.Key, nil
}

func (s *Mongo) Keys(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	var docs []struct {
		Key string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys, nil
}

func (s *Mongo) Close(_ context.Context) error {
	return nil // caller manages the mongo.Database lifecycle
}
