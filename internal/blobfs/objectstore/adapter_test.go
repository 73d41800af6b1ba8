package objectstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nkoutsov/blobfs/internal/blobfs"
	"github.com/nkoutsov/blobfs/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory ObjectClient that records the calls the adapter
// makes, so tests can assert on cache behavior and call sequences.
type fakeClient struct {
	mu sync.Mutex

	bucketExists bool
	createErr    error

	data    map[string][]byte
	objects map[string]Object
	uploads map[string]UploadOptions
	grants  []string

	bucketChecks int
	creates      int
	statCalls    int

	failGrant bool
	failCopy  bool
}

func newFakeClient(bucketExists bool) *fakeClient {
	return &fakeClient{
		bucketExists: bucketExists,
		data:         make(map[string][]byte),
		objects:      make(map[string]Object),
		uploads:      make(map[string]UploadOptions),
	}
}

func (f *fakeClient) put(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[path] = data
	f.objects[path] = Object{Path: path, Size: int64(len(data)), Updated: time.Unix(1700000000, 0)}
}

func (f *fakeClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketChecks++
	return f.bucketExists, nil
}

func (f *fakeClient) CreateBucket(ctx context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	f.bucketExists = true
	return nil
}

func (f *fakeClient) Stat(ctx context.Context, bucket, path string) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statCalls++
	obj, ok := f.objects[path]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "object not found")
	}
	return &obj, nil
}

func (f *fakeClient) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[path]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "object not found")
	}
	return data, nil
}

func (f *fakeClient) Upload(ctx context.Context, bucket string, obj *Object, data []byte, opts UploadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[obj.Path] = data
	stored := *obj
	stored.Size = int64(len(data))
	stored.Updated = time.Unix(1700000000, 0)
	f.objects[obj.Path] = stored
	f.uploads[obj.Path] = opts
	return nil
}

func (f *fakeClient) Copy(ctx context.Context, bucket string, src *Object, dstPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCopy {
		return errs.New(errs.ErrKindStorageFailed, "copy failed")
	}
	data, ok := f.data[src.Path]
	if !ok {
		return errs.New(errs.ErrKindNotFound, "source not found")
	}
	f.data[dstPath] = data
	dst := *src
	dst.Path = dstPath
	f.objects[dstPath] = dst
	return nil
}

func (f *fakeClient) Delete(ctx context.Context, bucket, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[path]; !ok {
		return errs.New(errs.ErrKindNotFound, "object not found")
	}
	delete(f.data, path)
	delete(f.objects, path)
	return nil
}

func (f *fakeClient) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Object
	for path, obj := range f.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeClient) GrantPublicRead(ctx context.Context, bucket, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGrant {
		return errs.New(errs.ErrKindPermissionDenied, "grant rejected")
	}
	f.grants = append(f.grants, path)
	return nil
}

func newAdapter(t *testing.T, cfg Config) (*Adapter, *fakeClient) {
	t.Helper()
	client := newFakeClient(true)
	return New(client, "test-bucket", cfg), client
}

// --- path translation ---

func TestComputePath(t *testing.T) {
	tests := []struct {
		name      string
		directory string
		key       string
		want      string
	}{
		{"no directory passes through", "", "a.txt", "a.txt"},
		{"no directory keeps slashes", "", "/nested/a.txt/", "/nested/a.txt/"},
		{"directory prefixes key", "media", "a.txt", "media/a.txt"},
		{"directory trimmed of separators", "/media/", "a.txt", "media/a.txt"},
		{"key trimmed of separators", "media", "/sub/a.txt/", "media/sub/a.txt"},
		{"slash inside key is kept verbatim", "media", "sub/a.txt", "media/sub/a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAdapter(t, Config{Directory: tt.directory})
			assert.Equal(t, tt.want, a.computePath(tt.key))
		})
	}
}

// --- read / write ---

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t, Config{})

	content := []byte("hello object store")
	n, err := a.Write(ctx, "greeting.txt", content)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)

	got, err := a.Read(ctx, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestReadMissingObject(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t, Config{})

	_, err := a.Read(ctx, "nope.txt")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestWriteGrantsPublicRead(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{Directory: "media"})

	_, err := a.Write(ctx, "a.txt", []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"media/a.txt"}, client.grants)
	assert.Empty(t, client.uploads["media/a.txt"].PredefinedACL)
}

func TestWriteCacheControl(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{CacheControl: "max-age=3600"})

	_, err := a.Write(ctx, "a.txt", []byte("x"))
	require.NoError(t, err)

	// Upload carries the private ACL, but the unconditional public-read
	// grant still follows: the object ends up publicly readable.
	opts := client.uploads["a.txt"]
	assert.Equal(t, "max-age=3600", opts.CacheControl)
	assert.Equal(t, ACLProjectPrivate, opts.PredefinedACL)
	assert.Equal(t, []string{"a.txt"}, client.grants)
}

func TestWriteGrantFailureReportsError(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.failGrant = true

	_, err := a.Write(ctx, "a.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, errs.IsPermissionDenied(err))

	// The upload itself succeeded; the object exists despite the failure.
	assert.Contains(t, client.data, "a.txt")
}

func TestWriteAttachesPendingMetadata(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})

	a.SetMetadata("a.txt", blobfs.Metadata{"owner": "ops"})
	_, err := a.Write(ctx, "a.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "ops", client.objects["a.txt"].Metadata["owner"])

	// Metadata recorded after the write stays adapter-local.
	a.SetMetadata("a.txt", blobfs.Metadata{"owner": "dev"})
	assert.Equal(t, "ops", client.objects["a.txt"].Metadata["owner"])
	assert.Equal(t, blobfs.Metadata{"owner": "dev"}, a.GetMetadata("a.txt"))
}

// --- delete ---

func TestDeleteThenExists(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	require.NoError(t, a.Delete(ctx, "a.txt"))

	ok, err := a.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingObject(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t, Config{})

	err := a.Delete(ctx, "nope.txt")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestDeleteClearsDescriptorCache(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	_, err := a.MTime(ctx, "a.txt")
	require.NoError(t, err)
	before := client.statCalls

	// The slot is cleared even though the delete targets another key.
	_ = a.Delete(ctx, "other.txt")

	_, err = a.MTime(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, before+1, client.statCalls)
}

// --- rename ---

func TestRename(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("old.txt", []byte("payload"))

	require.NoError(t, a.Rename(ctx, "old.txt", "new.txt"))

	okOld, err := a.Exists(ctx, "old.txt")
	require.NoError(t, err)
	assert.False(t, okOld)

	okNew, err := a.Exists(ctx, "new.txt")
	require.NoError(t, err)
	assert.True(t, okNew)

	got, err := a.Read(ctx, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRenameMissingSource(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("keep.txt", []byte("x"))

	err := a.Rename(ctx, "nope.txt", "new.txt")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))

	// Backend state is untouched.
	assert.Len(t, client.data, 1)
	assert.Contains(t, client.data, "keep.txt")
}

func TestRenameCopyFailurePreservesSource(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("old.txt", []byte("payload"))
	client.failCopy = true

	err := a.Rename(ctx, "old.txt", "new.txt")
	require.Error(t, err)

	assert.Contains(t, client.data, "old.txt")
	assert.NotContains(t, client.data, "new.txt")
}

// --- keys ---

func TestKeys(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("root.txt", []byte("x"))
	client.put("docs/a.txt", []byte("x"))
	client.put("docs/b.txt", []byte("x"))
	client.put("docs/sub/c.txt", []byte("x"))

	keys, err := a.Keys(ctx)
	require.NoError(t, err)

	// Parent directory keys are synthesized once per directory, and the
	// whole listing is sorted.
	assert.Equal(t, []string{
		"docs/",
		"docs/a.txt",
		"docs/b.txt",
		"docs/sub/",
		"docs/sub/c.txt",
		"root.txt",
	}, keys)
}

func TestKeysScopedToDirectory(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{Directory: "media"})
	client.put("media/a.txt", []byte("x"))
	client.put("other/b.txt", []byte("x"))

	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"media/", "media/a.txt"}, keys)
}

// --- mtime / directories / cache ---

func TestMTime(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	mt, err := a.MTime(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), mt)

	_, err = a.MTime(ctx, "missing.txt")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestMTimeUsesDescriptorCache(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	_, err := a.MTime(ctx, "a.txt")
	require.NoError(t, err)
	_, err = a.MTime(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, client.statCalls)

	// A different path misses the slot.
	client.put("b.txt", []byte("x"))
	_, err = a.MTime(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, client.statCalls)
}

func TestExistsBypassesDescriptorCache(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	for i := 0; i < 2; i++ {
		ok, err := a.Exists(ctx, "a.txt")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 2, client.statCalls)
}

func TestIsDirectory(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("docs/", nil)
	client.put("docs/a.txt", []byte("x"))

	ok, err := a.IsDirectory(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.IsDirectory(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// --- metadata accessors ---

func TestMetadataAccessors(t *testing.T) {
	a, _ := newAdapter(t, Config{Directory: "media"})

	assert.Equal(t, blobfs.Metadata{}, a.GetMetadata("a.txt"))

	a.SetMetadata("a.txt", blobfs.Metadata{"k": "v1"})
	assert.Equal(t, blobfs.Metadata{"k": "v1"}, a.GetMetadata("a.txt"))

	a.SetMetadata("a.txt", blobfs.Metadata{"k": "v2"})
	assert.Equal(t, blobfs.Metadata{"k": "v2"}, a.GetMetadata("a.txt"))
}

func TestGetMetadataReturnsCopy(t *testing.T) {
	a, _ := newAdapter(t, Config{})

	a.SetMetadata("a.txt", blobfs.Metadata{"k": "v"})
	got := a.GetMetadata("a.txt")
	got["k"] = "mutated"

	assert.Equal(t, blobfs.Metadata{"k": "v"}, a.GetMetadata("a.txt"))
}

// --- bucket guard ---

func TestBucketMissingWithoutCreateIsFatal(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(false)
	a := New(client, "absent", Config{Create: false})

	_, err := a.Read(ctx, "a.txt")
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Zero(t, client.creates)
	assert.Empty(t, client.data)

	// The failure is sticky and the probe is not repeated.
	_, err = a.Write(ctx, "a.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 1, client.bucketChecks)
}

func TestBucketCreatedOnFirstUse(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(false)
	a := New(client, "fresh", Config{Create: true})

	_, err := a.Write(ctx, "a.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.creates)

	// Existence is resolved once for the adapter lifetime.
	_, err = a.Write(ctx, "b.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, client.bucketChecks)
	assert.Equal(t, 1, client.creates)
}

func TestBucketCreateFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(false)
	client.createErr = errs.New(errs.ErrKindPermissionDenied, "no provisioning rights")
	a := New(client, "fresh", Config{Create: true})

	_, err := a.Read(ctx, "a.txt")
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))

	_, err = a.Read(ctx, "a.txt")
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, 1, client.creates)
}

func TestBucketProbeOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	a, client := newAdapter(t, Config{})
	client.put("a.txt", []byte("x"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Exists(ctx, "a.txt")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.bucketChecks)
}
