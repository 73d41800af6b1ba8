// Package blobfs defines the filesystem-like contract over storage backends.
//
// All backends (the bucket adapter in objectstore, and whatever comes next)
// implement the Filesystem interface. Callers depend only on this package —
// never on a specific backend package.
//
// Usage:
//
//	client, err := gcs.New(ctx, gcs.Config{Project: "my-project"})
//	if err != nil { ... }
//
//	fs := objectstore.New(client, "my-bucket", objectstore.Config{Directory: "media"})
//
//	n, err := fs.Write(ctx, "reports/2026.csv", data)
package blobfs

import (
	"context"
	"time"
)

// Metadata is arbitrary string-keyed metadata attached to a key.
type Metadata map[string]string

// Filesystem is the single interface all storage backends must implement.
//
// Operational failures (missing object, backend rejection, network error)
// come back as *errs.Error values; inspect them with the errs.Is* predicates.
// errs.IsFatal marks configuration-tier failures that will not recover
// without operator intervention.
type Filesystem interface {
	// Read returns the full content stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous content, and
	// returns the number of bytes written.
	Write(ctx context.Context, key string, data []byte) (int64, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error

	// Rename moves the content stored under src to dst.
	// Backends without a native move may implement it as copy-then-delete;
	// see the backend's documentation for its failure window.
	Rename(ctx context.Context, src, dst string) error

	// Keys returns every key in the backend's configured scope, plus a
	// synthesized directory key for each non-root parent, sorted
	// lexicographically ascending.
	Keys(ctx context.Context) ([]string, error)

	// MTime returns the last-modified time of the object stored under key.
	MTime(ctx context.Context, key string) (time.Time, error)

	// IsDirectory reports whether key denotes a directory. Object stores
	// have no intrinsic directories; a directory is any object whose path
	// ends with a separator.
	IsDirectory(ctx context.Context, key string) (bool, error)

	// SetMetadata records metadata for key in the backend instance.
	// Metadata recorded before a Write is attached to the stored object;
	// metadata recorded afterwards stays local until the next Write.
	SetMetadata(key string, md Metadata)

	// GetMetadata returns the metadata previously recorded for key, or an
	// empty map when none was recorded. It never consults the backend.
	GetMetadata(key string) Metadata
}
