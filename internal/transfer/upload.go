// Package transfer defines the serializable upload and download tasks that
// move artifact bytes. A task carries everything it needs, credentials
// included, so it can run unchanged on the controller or on a remote agent
// that holds the file; the client is rebuilt from the carried options on
// whichever machine executes it.
package transfer

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/martazobro/s3-plugin/internal/domain"
	"github.com/martazobro/s3-plugin/internal/executor"
	"github.com/martazobro/s3-plugin/internal/storage"
)

// Task kinds registered with the executor.
const (
	KindUpload   = "s3.upload"
	KindDownload = "s3.download"
)

func init() {
	executor.Register(KindUpload, func() executor.Runner { return &UploadTask{} })
	executor.Register(KindDownload, func() executor.Runner { return &DownloadTask{} })
}

// newClient is swapped out in tests to avoid the network.
var newClient = storage.NewClient

// ClientOptions is the backend selection a task carries across the execution
// boundary. Proxy settings deliberately stay behind: the executing machine
// reaches the backend with its own network configuration.
type ClientOptions struct {
	Credentials storage.Credentials `json:"credentials"`
	Endpoint    string              `json:"endpoint,omitempty"`
	Region      string              `json:"region,omitempty"`
	PathStyle   bool                `json:"path_style,omitempty"`
}

func (o ClientOptions) storageOptions() storage.Options {
	return storage.Options{
		Credentials: o.Credentials,
		Endpoint:    o.Endpoint,
		Region:      o.Region,
		PathStyle:   o.PathStyle,
	}
}

// UploadTask uploads one local file to its resolved destination.
type UploadTask struct {
	Client               ClientOptions      `json:"client"`
	Destination          domain.Destination `json:"destination"`
	Artifact             domain.Artifact    `json:"artifact"`
	Metadata             map[string]string  `json:"metadata,omitempty"`
	StorageClass         string             `json:"storage_class,omitempty"`
	ServerSideEncryption bool               `json:"server_side_encryption,omitempty"`
	Gzip                 bool               `json:"gzip,omitempty"`
	Produced             bool               `json:"produced,omitempty"`
}

// Run reads the artifact, optionally gzips it, and puts it at the
// destination. The fingerprint checksum is always computed over the raw file
// content, not the compressed body.
func (t *UploadTask) Run(ctx context.Context) (any, error) {
	data, err := os.ReadFile(t.Artifact.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.Artifact.Path, err)
	}
	sum := md5.Sum(data)

	opts := storage.PutOptions{
		Metadata:             t.Metadata,
		ContentType:          contentTypeFor(t.Artifact.Path),
		StorageClass:         t.StorageClass,
		ServerSideEncryption: t.ServerSideEncryption,
	}

	body := data
	if t.Gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return nil, fmt.Errorf("gzip %s: %w", t.Artifact.Path, err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("gzip %s: %w", t.Artifact.Path, err)
		}
		body = buf.Bytes()
		opts.ContentEncoding = "gzip"
	}

	client, err := newClient(ctx, t.Client.storageOptions())
	if err != nil {
		return nil, err
	}
	if _, err := client.Put(ctx, t.Destination.Bucket, t.Destination.Key, body, opts); err != nil {
		return nil, fmt.Errorf("put %s: %w", t.Destination, err)
	}

	return domain.FingerprintRecord{
		Artifact: t.Artifact,
		MD5:      hex.EncodeToString(sum[:]),
		Produced: t.Produced,
	}, nil
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
