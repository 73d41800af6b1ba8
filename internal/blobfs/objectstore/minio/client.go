// Package minio provides an S3-compatible implementation of
// objectstore.ObjectClient backed by minio-go. It works against MinIO, AWS
// S3, and anything else speaking the S3 wire protocol.
//
// Usage:
//
//	client, err := minio.New(ctx, minio.DefaultConfig("localhost:9000", "minioadmin", "minioadmin"))
//	if err != nil { ... }
//
//	fs := objectstore.New(client, "assets", objectstore.Config{Create: true})
package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nkoutsov/blobfs/internal/blobfs/objectstore"
	"github.com/nkoutsov/blobfs/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// amzACLHeader is the canned-ACL request header. minio-go passes it through
// verbatim when it appears in UserMetadata.
const amzACLHeader = "x-amz-acl"

// Config holds the settings needed to connect to an S3-compatible backend.
type Config struct {
	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string

	// AccessKey is the access key ID.
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string

	// PresignTTL bounds the lifetime of the signed URLs used for content
	// downloads. Zero means DefaultPresignTTL.
	PresignTTL time.Duration
}

// DefaultPresignTTL is the signed-URL lifetime used when Config.PresignTTL
// is zero. Downloads start immediately, so the value only needs to cover
// request latency.
const DefaultPresignTTL = 15 * time.Minute

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) Config {
	return Config{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    false,
	}
}

// Client is an S3-compatible implementation of objectstore.ObjectClient.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	mc         *miniogo.Client
	httpc      *http.Client
	region     string
	presignTTL time.Duration
}

var _ objectstore.ObjectClient = (*Client)(nil)

// New connects to the backend using cfg and returns a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	mc, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &Client{
		mc:         mc,
		httpc:      http.DefaultClient,
		region:     cfg.Region,
		presignTTL: ttl,
	}, nil
}

// --- objectstore.ObjectClient implementation ---

// BucketExists reports whether bucket exists and is reachable.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return false, mapError(err, "failed to check bucket")
	}
	return ok, nil
}

// CreateBucket provisions bucket in the configured region.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	if err := c.mc.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: c.region}); err != nil {
		return mapError(err, "failed to create bucket")
	}
	return nil
}

// Stat returns the descriptor of the object at path without downloading it.
func (c *Client) Stat(ctx context.Context, bucket, path string) (*objectstore.Object, error) {
	info, err := c.mc.StatObject(ctx, bucket, path, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &objectstore.Object{
		Path:        path,
		Size:        info.Size,
		Updated:     info.LastModified,
		ContentType: info.ContentType,
		ETag:        info.ETag,
		Metadata:    info.UserMetadata,
	}, nil
}

// Download fetches the raw object content with a signed GET against the
// object's URL. Any status other than 200 surfaces as an error.
func (c *Client) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	u, err := c.mc.PresignedGetObject(ctx, bucket, path, c.presignTTL, nil)
	if err != nil {
		return nil, mapError(err, "failed to sign object URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to build download request", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, mapError(err, "failed to download object")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp.StatusCode, "failed to download object")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read object body", err)
	}
	return data, nil
}

// Upload stores data at obj.Path with obj.Metadata attached. A requested
// predefined ACL travels as the canned-ACL header of the same request.
func (c *Client) Upload(ctx context.Context, bucket string, obj *objectstore.Object, data []byte, opts objectstore.UploadOptions) error {
	meta := make(map[string]string, len(obj.Metadata)+1)
	for k, v := range obj.Metadata {
		meta[k] = v
	}
	if acl := cannedACL(opts.PredefinedACL); acl != "" {
		meta[amzACLHeader] = acl
	}

	_, err := c.mc.PutObject(ctx, bucket, obj.Path, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType:  obj.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: meta,
	})
	if err != nil {
		return mapError(err, "failed to upload object")
	}
	return nil
}

// Copy duplicates the object described by src to dstPath. The backend copies
// the stored metadata along with the content.
func (c *Client) Copy(ctx context.Context, bucket string, src *objectstore.Object, dstPath string) error {
	_, err := c.mc.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: bucket, Object: dstPath},
		miniogo.CopySrcOptions{Bucket: bucket, Object: src.Path},
	)
	if err != nil {
		return mapError(err, "failed to copy object")
	}
	return nil
}

// Delete removes the object at path.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	if err := c.mc.RemoveObject(ctx, bucket, path, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

// List returns descriptors for every object in bucket under prefix.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error) {
	var results []objectstore.Object

	for obj := range c.mc.ListObjects(ctx, bucket, miniogo.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		results = append(results, objectstore.Object{
			Path:        obj.Key,
			Size:        obj.Size,
			Updated:     obj.LastModified,
			ContentType: obj.ContentType,
			ETag:        obj.ETag,
		})
	}

	return results, nil
}

// GrantPublicRead makes the object at path readable without credentials.
// S3 has no standalone per-object grant call in the SDK, so the grant is a
// self-copy carrying a public-read canned ACL; the stored user metadata is
// re-applied to survive the metadata replacement the ACL change requires.
func (c *Client) GrantPublicRead(ctx context.Context, bucket, path string) error {
	info, err := c.mc.StatObject(ctx, bucket, path, miniogo.StatObjectOptions{})
	if err != nil {
		return mapError(err, "failed to stat object before grant")
	}

	meta := make(map[string]string, len(info.UserMetadata)+1)
	for k, v := range info.UserMetadata {
		meta[k] = v
	}
	meta[amzACLHeader] = "public-read"

	_, err = c.mc.CopyObject(ctx,
		miniogo.CopyDestOptions{
			Bucket:          bucket,
			Object:          path,
			UserMetadata:    meta,
			ReplaceMetadata: true,
		},
		miniogo.CopySrcOptions{Bucket: bucket, Object: path},
	)
	if err != nil {
		return mapError(err, "failed to grant public read")
	}
	return nil
}

// cannedACL translates the adapter's predefined ACL names to their S3
// equivalents.
func cannedACL(predefined string) string {
	switch predefined {
	case objectstore.ACLProjectPrivate:
		return "private"
	case objectstore.ACLPublicRead:
		return "public-read"
	default:
		return ""
	}
}
