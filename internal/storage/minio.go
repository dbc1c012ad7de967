package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

// MinioClient implements Client for S3-compatible endpoints (MinIO, Ceph,
// DigitalOcean Spaces and friends) through minio-go.
type MinioClient struct {
	client *minio.Client
	core   *minio.Core
}

// NewMinioClient builds a client for the S3-compatible endpoint in opts. The
// endpoint may carry an http:// or https:// scheme; its absence means TLS.
func NewMinioClient(opts Options) (*MinioClient, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3-compatible endpoint must be provided")
	}

	secure := true
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	var creds *credentials.Credentials
	if opts.Credentials.UseRole {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(opts.Credentials.AccessKey, opts.Credentials.SecretKey, "")
	}

	minioOpts := &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: opts.Region,
	}
	if opts.PathStyle {
		minioOpts.BucketLookup = minio.BucketLookupPath
	}
	if opts.HTTPClient != nil {
		minioOpts.Transport = opts.HTTPClient.Transport
	}

	client, err := minio.New(endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("init s3-compatible client: %w", err)
	}
	return &MinioClient{
		client: client,
		core:   &minio.Core{Client: client},
	}, nil
}

func (c *MinioClient) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{
		UserMetadata:    opts.Metadata,
		ContentType:     opts.ContentType,
		ContentEncoding: opts.ContentEncoding,
		StorageClass:    opts.StorageClass,
	}
	if opts.ServerSideEncryption {
		putOpts.ServerSideEncryption = encrypt.NewSSE()
	}

	info, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), putOpts)
	if err != nil {
		return "", err
	}
	return info.ETag, nil
}

func (c *MinioClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (c *MinioClient) ListPage(ctx context.Context, bucket, prefix, marker string) (Page, error) {
	result, err := c.core.ListObjects(bucket, prefix, marker, "", 1000)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Objects:    make([]ObjectInfo, 0, len(result.Contents)),
		NextMarker: result.NextMarker,
		Truncated:  result.IsTruncated,
	}
	for _, obj := range result.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}
	if page.NextMarker == "" && page.Truncated && len(page.Objects) > 0 {
		page.NextMarker = page.Objects[len(page.Objects)-1].Key
	}
	return page, nil
}

func (c *MinioClient) Delete(ctx context.Context, bucket, key string) error {
	return c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (c *MinioClient) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration, headers ResponseHeaders) (string, error) {
	params := url.Values{}
	if headers.ContentDisposition != "" {
		params.Set("response-content-disposition", headers.ContentDisposition)
	}
	u, err := c.client.PresignedGetObject(ctx, bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

func (c *MinioClient) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := c.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

var _ Client = (*MinioClient)(nil)
