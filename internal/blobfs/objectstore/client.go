package objectstore

import (
	"context"
	"time"
)

// Predefined ACLs an upload may request. The set mirrors what bucket-style
// backends accept as canned ACLs; drivers translate them to their native form.
const (
	ACLProjectPrivate = "projectPrivate"
	ACLPublicRead     = "publicRead"
)

// Object describes a stored object as reported by the backend.
type Object struct {
	// Path is the full object path within the bucket.
	Path string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// Updated is when the object was last written.
	Updated time.Time

	// ContentType is the MIME type, when the backend reports one.
	ContentType string

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// Metadata is the string-keyed user metadata stored with the object.
	Metadata map[string]string
}

// UploadOptions carries per-upload settings for ObjectClient.Upload.
type UploadOptions struct {
	// CacheControl sets the object's Cache-Control header. Empty means none.
	CacheControl string

	// PredefinedACL applies a canned ACL at upload time. Empty means the
	// bucket default.
	PredefinedACL string
}

// ObjectClient is the seam between the adapter and a concrete object store.
// Drivers (gcs, minio) implement it; the adapter never imports them.
//
// Every method returns *errs.Error values so the adapter can apply its
// error-tier policy without knowing which backend it talks to.
type ObjectClient interface {
	// BucketExists reports whether bucket exists and is reachable.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// CreateBucket provisions bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// Stat returns the descriptor of the object at path without
	// downloading its content.
	Stat(ctx context.Context, bucket, path string) (*Object, error)

	// Download returns the raw content of the object at path.
	Download(ctx context.Context, bucket, path string) ([]byte, error)

	// Upload stores data at obj.Path with obj.Metadata attached,
	// replacing any existing object. A multipart insert: descriptor and
	// content travel in one request.
	Upload(ctx context.Context, bucket string, obj *Object, data []byte, opts UploadOptions) error

	// Copy duplicates the object described by src to dstPath within bucket.
	Copy(ctx context.Context, bucket string, src *Object, dstPath string) error

	// Delete removes the object at path.
	Delete(ctx context.Context, bucket, path string) error

	// List returns descriptors for every object in bucket whose path
	// starts with prefix. An empty prefix lists the whole bucket.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)

	// GrantPublicRead makes the object at path readable without
	// credentials.
	GrantPublicRead(ctx context.Context, bucket, path string) error
}
