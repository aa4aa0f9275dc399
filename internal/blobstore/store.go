// Package blobstore implements the object-storage contract the core
// consumes as an external collaborator (§6): put(id, bytes), get(id),
// delete(id). The envelope engine is the only caller; nothing upstream
// of it ever needs to know which backend is configured.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when id has no stored object.
var ErrNotFound = errors.New("blobstore: object not found")

// Store is the blob key/value contract named in §6.
type Store interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
