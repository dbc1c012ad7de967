// Package storage abstracts the object-storage backend behind a narrow client
// interface with two real implementations: AWS S3 through aws-sdk-go-v2 and
// any S3-compatible endpoint through minio-go.
package storage

import (
	"context"
	"net/http"
	"time"
)

// Credentials is the closed set of authentication modes: explicit static keys
// or the ambient role of the process/instance. It is resolved once from
// configuration and passed uniformly to every client and transfer task instead
// of re-checking a use-role flag per call site.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseRole   bool   `json:"use_role"`
}

// ExplicitCredentials selects static access/secret key authentication.
func ExplicitCredentials(accessKey, secretKey string) Credentials {
	return Credentials{AccessKey: accessKey, SecretKey: secretKey}
}

// AmbientRole selects environment-resolved credentials (instance profile,
// env vars, shared config). Key material is cleared.
func AmbientRole() Credentials {
	return Credentials{UseRole: true}
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Page is one page of a marker-paginated listing.
type Page struct {
	Objects    []ObjectInfo
	NextMarker string
	Truncated  bool
}

// PutOptions carries the per-upload knobs the build host controls.
type PutOptions struct {
	Metadata             map[string]string
	ContentType          string
	ContentEncoding      string
	StorageClass         string
	ServerSideEncryption bool
}

// ResponseHeaders are response-header overrides baked into a presigned URL.
type ResponseHeaders struct {
	ContentDisposition string
}

// Client is the storage capability the publisher consumes. Implementations
// must treat deleting a missing key as success.
type Client interface {
	Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (etag string, err error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	ListPage(ctx context.Context, bucket, prefix, marker string) (Page, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration, headers ResponseHeaders) (string, error)
	ListBuckets(ctx context.Context) ([]string, error)
}

// Options selects and configures a backend. A non-empty Endpoint picks the
// S3-compatible minio backend; otherwise AWS S3 proper is used.
type Options struct {
	Credentials Credentials
	Endpoint    string
	Region      string
	PathStyle   bool
	HTTPClient  *http.Client
}

// NewClient builds a storage client for the given options.
func NewClient(ctx context.Context, opts Options) (Client, error) {
	if opts.Endpoint != "" {
		return NewMinioClient(opts)
	}
	return NewS3Client(ctx, opts)
}
