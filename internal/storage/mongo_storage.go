// Path: internal/storage/mongo_storage.go
package storage

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"push-broker/internal/config"
)

// registryDocument stores one registry key. Hashes use Fields, markers use
// ExpiresAt and are removed by the TTL index.
type registryDocument struct {
	Key       string            `bson:"_id"`
	Fields    map[string]string `bson:"fields,omitempty"`
	ExpiresAt *time.Time        `bson:"expiresAt,omitempty"`
}

// MongoRegistry is the MongoDB implementation of the registry store.
type MongoRegistry struct {
	collection *mongo.Collection
	now        func() time.Time
}

// MongoOption configures a MongoRegistry.
type MongoOption func(*MongoRegistry)

// WithMongoClock replaces time.Now for marker expiry.
func WithMongoClock(now func() time.Time) MongoOption {
	return func(s *MongoRegistry) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMongoRegistry creates a new storage adapter for the channel registry.
func NewMongoRegistry(db *mongo.Database, collectionName string, opts ...MongoOption) *MongoRegistry {
	s := &MongoRegistry{
		collection: db.Collection(collectionName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectMongo connects to cfg.URI and verifies the primary is reachable.
func ConnectMongo(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the TTL index that expires liveness markers. Mongo's
// TTL monitor runs about once a minute, so reads also filter on expiresAt.
func (s *MongoRegistry) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (s *MongoRegistry) liveFilter(extra bson.M) bson.M {
	filter := bson.M{
		"$or": bson.A{
			bson.M{"expiresAt": bson.M{"$exists": false}},
			bson.M{"expiresAt": bson.M{"$gt": s.now().UTC()}},
		},
	}
	for k, v := range extra {
		filter[k] = v
	}
	return filter
}

func (s *MongoRegistry) HSet(ctx context.Context, key, field, value string) error {
	opts := options.Update().SetUpsert(true)
	update := bson.M{"$set": bson.M{"fields." + field: value}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": key}, update, opts)
	return err
}

func (s *MongoRegistry) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var doc registryDocument
	opts := options.FindOne().SetProjection(bson.M{"fields." + field: 1})
	err := s.collection.FindOne(ctx, s.liveFilter(bson.M{"_id": key}), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	v, ok := doc.Fields[field]
	return v, ok, nil
}

func (s *MongoRegistry) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var doc registryDocument
	err := s.collection.FindOne(ctx, s.liveFilter(bson.M{"_id": key})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if doc.Fields == nil {
		return map[string]string{}, nil
	}
	return doc.Fields, nil
}

// HDel removes a field and drops the document once its hash is empty.
func (s *MongoRegistry) HDel(ctx context.Context, key, field string) error {
	update := bson.M{"$unset": bson.M{"fields." + field: ""}}
	if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": key}, update); err != nil {
		return err
	}
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key, "fields": bson.M{}})
	return err
}

func (s *MongoRegistry) Del(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (s *MongoRegistry) SetMarker(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	expires := s.now().Add(ttl).UTC()
	doc := registryDocument{Key: key, ExpiresAt: &expires}
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts)
	return err
}

func (s *MongoRegistry) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx, s.liveFilter(bson.M{"_id": key}), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *MongoRegistry) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := s.liveFilter(bson.M{
		"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)},
	})
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []registryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys, nil
}

// Healthcheck pings the primary.
func (s *MongoRegistry) Healthcheck(ctx context.Context) error {
	if err := s.collection.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}
