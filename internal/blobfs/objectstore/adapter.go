// Package objectstore implements blobfs.Filesystem on top of a bucket-style
// object store reached through an injected ObjectClient.
//
// Keys are translated to backend paths under an optional directory prefix.
// The bucket is probed lazily on first use and, when configured, created on
// demand. The adapter keeps two small pieces of per-instance state: a
// single-slot cache of the most recently fetched object descriptor, and an
// in-memory metadata map consulted at write time.
//
// Usage:
//
//	client, err := gcs.New(ctx, gcs.Config{Project: "my-project"})
//	if err != nil { ... }
//
//	fs := objectstore.New(client, "assets", objectstore.Config{
//		Directory: "media",
//		Create:    true,
//	})
//
//	data, err := fs.Read(ctx, "covers/1.png") // reads assets/media/covers/1.png
package objectstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nkoutsov/blobfs/internal/blobfs"
	"github.com/nkoutsov/blobfs/internal/errs"
	"github.com/nkoutsov/blobfs/internal/logger"
)

// Config holds the adapter-level settings layered over a bucket.
type Config struct {
	// Directory is an optional path prefix. When set, every key is stored
	// under it: key "a.txt" with Directory "media" lands at "media/a.txt".
	Directory string

	// Create makes the adapter provision the bucket on first use when it
	// does not exist. When false, a missing bucket is a fatal
	// configuration error.
	Create bool

	// CacheControl, when set, is attached as the Cache-Control header of
	// every written object.
	CacheControl string
}

// Adapter implements blobfs.Filesystem over an ObjectClient.
// It is safe for concurrent use by multiple goroutines.
type Adapter struct {
	client ObjectClient
	bucket string
	cfg    Config

	// guardMu serializes the lazy bucket probe so concurrent first use
	// performs at most one existence check and one creation attempt.
	guardMu   sync.Mutex
	confirmed bool
	guardErr  error // sticky fatal error; set once, returned forever

	// mu guards the single-slot descriptor cache and the metadata map.
	mu       sync.Mutex
	lastPath string
	lastObj  *Object
	metadata map[string]blobfs.Metadata
}

var _ blobfs.Filesystem = (*Adapter)(nil)

// New returns an Adapter over client targeting bucket.
func New(client ObjectClient, bucket string, cfg Config) *Adapter {
	return &Adapter{
		client:   client,
		bucket:   bucket,
		cfg:      cfg,
		metadata: make(map[string]blobfs.Metadata),
	}
}

// computePath translates an abstraction-level key to a backend object path.
// Without a configured directory the key passes through unchanged. A "/"
// inside a key is not escaped and nests in the backend namespace verbatim.
func (a *Adapter) computePath(key string) string {
	if a.cfg.Directory == "" {
		return key
	}
	return strings.Trim(a.cfg.Directory, "/") + "/" + strings.Trim(key, "/")
}

// ensureBucket resolves the bucket's existence exactly once per adapter
// lifetime: unknown → confirmed, or unknown → absent → created. When the
// bucket is absent and cannot (or must not) be created, the resulting fatal
// error is sticky and every subsequent operation returns it.
func (a *Adapter) ensureBucket(ctx context.Context) error {
	a.guardMu.Lock()
	defer a.guardMu.Unlock()

	if a.confirmed {
		return nil
	}
	if a.guardErr != nil {
		return a.guardErr
	}

	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err == nil && ok {
		a.confirmed = true
		return nil
	}

	if !a.cfg.Create {
		a.guardErr = errs.Wrap(errs.ErrKindBucketMissing,
			fmt.Sprintf("bucket %q does not exist", a.bucket), err)
		return a.guardErr
	}

	if cerr := a.client.CreateBucket(ctx, a.bucket); cerr != nil {
		a.guardErr = errs.Wrap(errs.ErrKindBucketMissing,
			fmt.Sprintf("bucket %q could not be created", a.bucket), cerr)
		return a.guardErr
	}

	logger.FromContext(ctx).With().Str("bucket", a.bucket).Logger().Info("bucket created")
	a.confirmed = true
	return nil
}

// --- blobfs.Filesystem implementation ---

// Read returns the full content stored under key.
func (a *Adapter) Read(ctx context.Context, key string) ([]byte, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a.client.Download(ctx, a.bucket, a.computePath(key))
}

// Write stores data under key and returns the number of bytes written.
//
// The upload attaches any metadata recorded for the key and, when
// CacheControl is configured, the Cache-Control header plus a projectPrivate
// predefined ACL. A public-read grant always follows as a second call and
// overrides that upload-time ACL, so written objects end up publicly
// readable either way. The two calls are not a transaction: when the grant
// fails after a successful upload, Write reports failure even though the
// object now exists with its upload-time ACL.
func (a *Adapter) Write(ctx context.Context, key string, data []byte) (int64, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return 0, err
	}

	path := a.computePath(key)
	obj := &Object{
		Path:     path,
		Metadata: a.metadataForPath(path),
	}

	var opts UploadOptions
	if a.cfg.CacheControl != "" {
		opts.CacheControl = a.cfg.CacheControl
		opts.PredefinedACL = ACLProjectPrivate
	}

	if err := a.client.Upload(ctx, a.bucket, obj, data, opts); err != nil {
		return 0, err
	}
	if err := a.client.GrantPublicRead(ctx, a.bucket, path); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Exists reports whether an object is stored under key. It stats the backend
// directly, bypassing the descriptor cache.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return false, err
	}
	return a.pathExists(ctx, a.computePath(key))
}

// Delete removes the object stored under key. The descriptor cache is
// cleared before the backend call, so a failed delete never leaves a stale
// descriptor behind.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.lastPath, a.lastObj = "", nil
	a.mu.Unlock()

	return a.client.Delete(ctx, a.bucket, a.computePath(key))
}

// Rename moves the content stored under src to dst as a copy followed by a
// delete; the backend offers no atomic move. A copy failure aborts before
// the delete, preserving the source. If the process dies between the two
// calls, both source and target exist with identical content.
func (a *Adapter) Rename(ctx context.Context, src, dst string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	srcObj, err := a.getObject(ctx, a.computePath(src))
	if err != nil {
		return err
	}
	if err := a.client.Copy(ctx, a.bucket, srcObj, a.computePath(dst)); err != nil {
		return err
	}
	return a.Delete(ctx, src)
}

// Keys returns every object key under the configured directory plus a
// synthesized directory key for each non-root parent, deduplicated and
// sorted lexicographically ascending.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}

	var prefix string
	if a.cfg.Directory != "" {
		prefix = strings.Trim(a.cfg.Directory, "/") + "/"
	}

	objs, err := a.client.List(ctx, a.bucket, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(objs)*2)
	for _, o := range objs {
		seen[o.Path] = struct{}{}
		if dir := parentDir(o.Path); dir != "" {
			seen[dir] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// MTime returns the last-modified time of the object stored under key,
// served through the descriptor cache.
func (a *Adapter) MTime(ctx context.Context, key string) (time.Time, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return time.Time{}, err
	}

	obj, err := a.getObject(ctx, a.computePath(key))
	if err != nil {
		return time.Time{}, err
	}
	return obj.Updated, nil
}

// IsDirectory reports whether key denotes a directory. Directories are
// represented purely as objects whose path ends with a separator; there is
// no intrinsic directory entity in the backend.
func (a *Adapter) IsDirectory(ctx context.Context, key string) (bool, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return false, err
	}
	return a.pathExists(ctx, a.computePath(key)+"/")
}

// SetMetadata records metadata for key, overwriting any prior value. The
// metadata lives in process memory and is attached to the stored object on
// the next Write of the same key; it is never pushed retroactively.
func (a *Adapter) SetMetadata(key string, md blobfs.Metadata) {
	path := a.computePath(key)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[path] = maps.Clone(md)
}

// GetMetadata returns the metadata previously recorded for key, or an empty
// map when none was recorded. It never consults the backend.
func (a *Adapter) GetMetadata(key string) blobfs.Metadata {
	a.mu.Lock()
	defer a.mu.Unlock()

	if md, ok := a.metadata[a.computePath(key)]; ok && md != nil {
		return maps.Clone(md)
	}
	return blobfs.Metadata{}
}

// --- internals ---

// getObject fetches the descriptor for path, serving repeated lookups of the
// same path from the single-slot cache. The slot never serves a descriptor
// for a different path; it may serve a stale one for the same path when the
// backend changed out-of-band (there is no TTL).
func (a *Adapter) getObject(ctx context.Context, path string) (*Object, error) {
	a.mu.Lock()
	if a.lastObj != nil && a.lastPath == path {
		obj := a.lastObj
		a.mu.Unlock()
		return obj, nil
	}
	a.mu.Unlock()

	obj, err := a.client.Stat(ctx, a.bucket, path)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastPath, a.lastObj = path, obj
	a.mu.Unlock()
	return obj, nil
}

// pathExists stats path directly, mapping "not found" to a clean false.
func (a *Adapter) pathExists(ctx context.Context, path string) (bool, error) {
	_, err := a.client.Stat(ctx, a.bucket, path)
	if err != nil {
		if errs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// metadataForPath returns the recorded metadata for path as a plain map for
// the upload descriptor, or nil when none was recorded.
func (a *Adapter) metadataForPath(path string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(map[string]string(a.metadata[path]))
}

// parentDir returns the directory key of path's parent ("a/b/" for
// "a/b/c.txt"), or "" when the parent is the listing root.
func parentDir(path string) string {
	i := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if i < 0 {
		return ""
	}
	return path[:i+1]
}
