package sink

import (
	"context"
	"fmt"
)

// DocumentBackend selects the document store implementation.
type DocumentBackend string

const (
	// Mongo is the default document store
	Mongo DocumentBackend = "mongo"
	// Postgres stores documents as JSONB rows
	Postgres DocumentBackend = "postgres"
)

// DocumentConfig configures the document store sink.
type DocumentConfig struct {
	Backend    string
	URI        string
	Database   string
	Collection string
	DSN        string
}

// NewDocumentSink creates the configured document store backend.
func NewDocumentSink(ctx context.Context, cfg DocumentConfig) (Sink, error) {
	switch DocumentBackend(cfg.Backend) {
	case Mongo, "":
		return NewMongoSink(ctx, cfg.URI, cfg.Database, cfg.Collection)
	case Postgres:
		return NewPostgresSink(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported document backend: %s", cfg.Backend)
	}
}
