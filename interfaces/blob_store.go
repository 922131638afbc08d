package interfaces

import "context"

// BlobStore is content-addressed storage for message part payloads.
// Put is idempotent: writing the same key twice is a no-op.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
