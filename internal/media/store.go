package media

import (
	"context"
	"io"
)

// Store is the interface for object persistence. Swap implementations by
// changing the concrete type injected at startup — the disk backend stores
// objects under a local root, the s3 backend works with any S3-compatible
// provider (MinIO, ArvanCloud, AWS S3).
//
// All implementations must be safe for concurrent use by multiple request
// handlers.
type Store interface {
	// Put streams reader into the store under a freshly generated id and
	// returns the created object. The write is atomic: a partially written
	// object is never visible to Get or List, and on failure no object is
	// created.
	Put(ctx context.Context, reader io.Reader, originalFilename, declaredContentType string) (*Object, error)

	// Get returns the object's content and metadata. Returns ErrNotFound for
	// syntactically invalid ids (without touching storage), missing ids, and
	// previously deleted ids.
	Get(ctx context.Context, id, ext string) (io.ReadCloser, *Object, error)

	// Stat returns the object's metadata without its content.
	Stat(ctx context.Context, id, ext string) (*Object, error)

	// List returns a snapshot of all live objects. It never includes a
	// partially written object.
	List(ctx context.Context) ([]*Object, error)

	// Delete removes the object. Deleting an already-deleted or nonexistent
	// id returns ErrNotFound.
	Delete(ctx context.Context, id, ext string) error
}
