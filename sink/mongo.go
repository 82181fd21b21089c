package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AlexRomero01/Bridge-Server/logger"
	"github.com/AlexRomero01/Bridge-Server/record"
)

// MongoSink stores commit records as documents, one per idempotency key.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink connects to MongoDB and verifies the connection with a ping.
func NewMongoSink(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo URI cannot be empty")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB connection test failed: %v", err)
	}

	logger.Info("connected to MongoDB, collection %s.%s", database, collection)
	return &MongoSink{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

// Name implements Sink.
func (s *MongoSink) Name() string { return "mongo" }

// Write upserts the record keyed by its _id, merging variant subdocuments
// into any stored copy. A commit never removes variants the document already
// holds, and a partial commit never downgrades a stored complete one: once
// partial is false it stays false and keeps its seal reason.
func (s *MongoSink) Write(ctx context.Context, rec record.CommitRecord) error {
	set := bson.M{
		"device_id": rec.Device,
		"epoch":     rec.Epoch,
	}
	for variant, fields := range rec.FieldsByVariant() {
		set[string(variant)] = fields
	}
	if rec.Partial {
		set["partial"] = bson.M{"$ifNull": bson.A{"$partial", true}}
		set["seal_reason"] = bson.M{"$ifNull": bson.A{"$seal_reason", rec.SealReason}}
	} else {
		set["partial"] = false
		set["seal_reason"] = rec.SealReason
	}

	filter := bson.M{"_id": rec.Key}
	update := mongo.Pipeline{{{Key: "$set", Value: set}}}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Concurrent upsert of the same key already stored the record.
			return nil
		}
		return fmt.Errorf("mongo upsert %s: %w", rec.Key, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ Sink = (*MongoSink)(nil)
