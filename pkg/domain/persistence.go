package domain

import "context"

// DocumentStore is the local record store contract implemented by the memory,
// sqlite and postgres backends.
type DocumentStore interface {
	// Put inserts (empty Revision) or updates (Revision equal to the stored
	// one) a document and returns it with a freshly assigned revision.
	// A stale or unexpected revision yields a *ConflictError.
	Put(ctx context.Context, doc Document) (Document, Result, error)
	// Get returns the document or an error matching ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// Find runs an indexed scan, building indexes first if needed.
	Find(ctx context.Context, q Query) ([]Document, error)
	// EnsureIndexes builds secondary indexes once; safe for concurrent use.
	EnsureIndexes(ctx context.Context) error
	Close() error
}
