// Package gcs provides a Google Cloud Storage implementation of
// objectstore.ObjectClient, speaking the JSON API through
// google.golang.org/api/storage/v1.
//
// Usage:
//
//	client, err := gcs.New(ctx, gcs.Config{
//		Project:         "my-project",
//		CredentialsFile: "/etc/blobfs/sa.json",
//	})
//	if err != nil { ... }
//
//	fs := objectstore.New(client, "assets", objectstore.Config{})
package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nkoutsov/blobfs/internal/blobfs/objectstore"
	"github.com/nkoutsov/blobfs/internal/errs"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// Config holds the settings needed to talk to Google Cloud Storage.
type Config struct {
	// Project is the GCP project buckets are created under. Only needed
	// when the adapter is configured to provision missing buckets.
	Project string

	// CredentialsFile is an optional path to a service-account JSON key.
	// When empty, Application Default Credentials are used.
	CredentialsFile string
}

// Client is a Google Cloud Storage implementation of objectstore.ObjectClient.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	svc     *storage.Service
	project string
}

var _ objectstore.ObjectClient = (*Client)(nil)

// New builds the storage service and returns a Client. Additional
// option.ClientOption values (custom HTTP client, endpoint override for
// emulators, …) are passed through to the service constructor.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create storage service", err)
	}

	return &Client{svc: svc, project: cfg.Project}, nil
}

// --- objectstore.ObjectClient implementation ---

// BucketExists reports whether bucket exists. A 404 from the API is a clean
// false, not an error.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.svc.Buckets.Get(bucket).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return false, nil
		}
		return false, mapError(err, "failed to check bucket")
	}
	return true, nil
}

// CreateBucket provisions bucket under the configured project.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	if c.project == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket creation requires a project")
	}

	_, err := c.svc.Buckets.Insert(c.project, &storage.Bucket{Name: bucket}).Context(ctx).Do()
	if err != nil {
		return mapError(err, "failed to create bucket")
	}
	return nil
}

// Stat returns the descriptor of the object at path without downloading it.
func (c *Client) Stat(ctx context.Context, bucket, path string) (*objectstore.Object, error) {
	o, err := c.svc.Objects.Get(bucket, path).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return toObject(o), nil
}

// Download fetches the raw object content via an authenticated media GET.
// Any status other than 200 surfaces as an error.
func (c *Client) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	resp, err := c.svc.Objects.Get(bucket, path).Context(ctx).Download()
	if err != nil {
		return nil, mapError(err, "failed to download object")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read object body", err)
	}
	return data, nil
}

// Upload performs a multipart insert: object descriptor and content travel
// in one request.
func (c *Client) Upload(ctx context.Context, bucket string, obj *objectstore.Object, data []byte, opts objectstore.UploadOptions) error {
	desc := &storage.Object{
		Name:         obj.Path,
		CacheControl: opts.CacheControl,
		ContentType:  obj.ContentType,
		Metadata:     obj.Metadata,
	}

	call := c.svc.Objects.Insert(bucket, desc).Media(bytes.NewReader(data))
	if opts.PredefinedACL != "" {
		call = call.PredefinedAcl(opts.PredefinedACL)
	}

	if _, err := call.Context(ctx).Do(); err != nil {
		return mapError(err, "failed to upload object")
	}
	return nil
}

// Copy duplicates the object described by src to dstPath, carrying the
// source descriptor's content type and metadata.
func (c *Client) Copy(ctx context.Context, bucket string, src *objectstore.Object, dstPath string) error {
	desc := &storage.Object{
		Name:        dstPath,
		ContentType: src.ContentType,
		Metadata:    src.Metadata,
	}

	_, err := c.svc.Objects.Copy(bucket, src.Path, bucket, dstPath, desc).Context(ctx).Do()
	if err != nil {
		return mapError(err, "failed to copy object")
	}
	return nil
}

// Delete removes the object at path.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	if err := c.svc.Objects.Delete(bucket, path).Context(ctx).Do(); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

// List returns descriptors for every object in bucket under prefix,
// following pagination to the end.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]objectstore.Object, error) {
	var results []objectstore.Object

	call := c.svc.Objects.List(bucket)
	if prefix != "" {
		call = call.Prefix(prefix)
	}

	err := call.Pages(ctx, func(page *storage.Objects) error {
		for _, o := range page.Items {
			results = append(results, *toObject(o))
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "failed to list objects")
	}
	return results, nil
}

// GrantPublicRead inserts an allUsers/READER access control on the object.
func (c *Client) GrantPublicRead(ctx context.Context, bucket, path string) error {
	acl := &storage.ObjectAccessControl{
		Entity: "allUsers",
		Role:   "READER",
	}

	_, err := c.svc.ObjectAccessControls.Insert(bucket, path, acl).Context(ctx).Do()
	if err != nil {
		return mapError(err, "failed to grant public read")
	}
	return nil
}

// --- internal ---

// toObject converts an API object resource into the adapter descriptor.
// Updated arrives as an RFC 3339 string; an unparsable value yields a zero
// time rather than an error.
func toObject(o *storage.Object) *objectstore.Object {
	updated, _ := time.Parse(time.RFC3339, o.Updated)

	return &objectstore.Object{
		Path:        o.Name,
		Size:        int64(o.Size),
		Updated:     updated,
		ContentType: o.ContentType,
		ETag:        o.Etag,
		Metadata:    o.Metadata,
	}
}
