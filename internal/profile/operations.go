package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/martazobro/s3-plugin/internal/domain"
	"github.com/martazobro/s3-plugin/internal/executor"
	"github.com/martazobro/s3-plugin/internal/retry"
	"github.com/martazobro/s3-plugin/internal/storage"
	"github.com/martazobro/s3-plugin/internal/transfer"
)

// UploadOptions are the per-upload switches the build host controls.
type UploadOptions struct {
	SearchPathLength     int
	Metadata             map[string]string
	StorageClass         string
	Region               string
	FromRemoteAgent      bool
	ManagedArtifacts     bool
	ServerSideEncryption bool
	Flatten              bool
	Gzip                 bool
}

// Upload publishes one local file. A directory input fails immediately and is
// never retried; everything after that point, destination resolution
// included, runs under the profile's bounded retry policy and re-runs from
// scratch on each attempt.
func (p *Profile) Upload(ctx context.Context, build domain.Build, bucket, filePath string, opts UploadOptions) (*domain.FingerprintRecord, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", filePath, domain.ErrIsDirectory)
	}

	artifact := domain.Artifact{
		Name:         filepath.Base(filePath),
		Path:         filePath,
		LastModified: info.ModTime(),
	}

	dest := domain.DestinationForPath(bucket, filePath, opts.SearchPathLength, opts.Flatten)
	produced := false
	if opts.ManagedArtifacts {
		dest = domain.DestinationForBuild(bucket, build, p.Name, artifact.Name)
		produced = domain.ProducedByBuild(build.StartTime, artifact.LastModified)
	}

	task := transfer.UploadTask{
		Client:               p.transferClientOptions(opts.Region),
		Destination:          dest,
		Artifact:             artifact,
		Metadata:             opts.Metadata,
		StorageClass:         opts.StorageClass,
		ServerSideEncryption: opts.ServerSideEncryption,
		Gzip:                 opts.Gzip,
		Produced:             produced,
	}
	exec := p.executorFor(opts.FromRemoteAgent)

	record, err := retry.Do(p.retryPolicy(), "put "+dest.String(), func() (domain.FingerprintRecord, error) {
		return runTransfer(ctx, exec, transfer.KindUpload, &task)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("destination", dest.String()).
		Str("md5", record.MD5).
		Bool("produced", record.Produced).
		Msg("artifact uploaded")
	return &record, nil
}

// BatchFailure records one artifact that could not be downloaded.
type BatchFailure struct {
	Artifact domain.Artifact
	Err      error
}

// BatchResult is the outcome of a bulk download: successes in input order
// plus a structured per-item failure report. The batch itself never fails.
type BatchResult struct {
	Downloaded []domain.FingerprintRecord
	Failures   []BatchFailure
}

// DownloadAll fetches every candidate whose artifact base name matches the
// glob filter into targetDir. Per-item failures are written to sink and
// collected, and never abort the remaining artifacts; no retry policy applies
// here. Managed keys carry base names only, so flatten does not change the
// target path.
func (p *Profile) DownloadAll(ctx context.Context, build domain.Build, bucket string, candidates []domain.FingerprintRecord, filter, targetDir string, flatten bool, sink io.Writer) BatchResult {
	var result BatchResult
	for _, candidate := range candidates {
		name := filepath.Base(candidate.Artifact.Name)
		if !matchesFilter(filter, name) {
			continue
		}

		dest := domain.DestinationForBuild(bucket, build, p.Name, name)
		task := transfer.DownloadTask{
			Client:      p.transferClientOptions(""),
			Destination: dest,
			Artifact:    candidate.Artifact,
			TargetPath:  filepath.Join(targetDir, name),
		}

		record, err := runTransfer(ctx, p.executorFor(true), transfer.KindDownload, &task)
		if err != nil {
			fmt.Fprintf(sink, "download %s: %v\n", dest, err)
			log.Error().Err(err).Str("destination", dest.String()).Msg("artifact download failed")
			result.Failures = append(result.Failures, BatchFailure{Artifact: candidate.Artifact, Err: err})
			continue
		}
		result.Downloaded = append(result.Downloaded, record)
	}
	return result
}

// matchesFilter applies a filename glob to an artifact base name. An empty
// filter matches everything; a pattern that fails to parse matches nothing.
func matchesFilter(filter, name string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	ok, err := path.Match(filter, name)
	return err == nil && ok
}

// List returns every object key under the build's managed namespace, issuing
// follow-up pages with the marker from the previous page until the backend
// reports no truncation. Page order is preserved and each key appears once.
//
// The filter argument is accepted for interface parity but not applied;
// callers that want filtered results filter the returned keys themselves.
func (p *Profile) List(ctx context.Context, build domain.Build, bucket, expandedFilter string) ([]string, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}

	prefix := domain.ManagedPrefix(build, p.Name)
	var keys []string
	marker := ""
	for {
		page, err := client.ListPage(ctx, bucket, prefix, marker)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.Truncated {
			break
		}
		marker = page.NextMarker
	}
	return keys, nil
}

// Delete removes one managed artifact of the given build. There is no
// existence check and no retry; deleting a key that is already gone succeeds.
func (p *Profile) Delete(ctx context.Context, build domain.Build, bucket string, record domain.FingerprintRecord) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	dest := domain.DestinationForBuild(bucket, build, p.Name, record.Artifact.Name)
	if err := client.Delete(ctx, dest.Bucket, dest.Key); err != nil {
		return fmt.Errorf("delete %s: %w", dest, err)
	}
	return nil
}

// DownloadURL signs a time-limited download link for one managed artifact.
// The content-disposition override makes a browser save the file under the
// key's base name instead of the full namespaced path. Failures surface
// immediately; signing is not retried.
func (p *Profile) DownloadURL(ctx context.Context, build domain.Build, bucket string, record domain.FingerprintRecord) (string, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return "", err
	}
	dest := domain.DestinationForBuild(bucket, build, p.Name, record.Artifact.Name)
	return client.PresignGet(ctx, dest.Bucket, dest.Key, p.SignedURLExpiry, responseHeadersFor(dest))
}

// Invalidate drops cached CDN copies of the given paths, each stripped of the
// first searchPathLength bytes and rooted at /. It runs under the same retry
// policy as uploads.
func (p *Profile) Invalidate(ctx context.Context, searchPathLength int, paths ...string) error {
	if p.invalidator == nil {
		return fmt.Errorf("cdn invalidation is not configured for %s", p)
	}

	cdnPaths := make([]string, 0, len(paths))
	for _, fp := range paths {
		key := fp
		if searchPathLength > 0 && searchPathLength <= len(fp) {
			key = fp[searchPathLength:]
		}
		key = strings.ReplaceAll(key, "\\", "/")
		cdnPaths = append(cdnPaths, "/"+strings.TrimPrefix(key, "/"))
	}

	_, err := retry.Do(p.retryPolicy(), fmt.Sprintf("invalidate paths %v", paths), func() (struct{}, error) {
		return struct{}{}, p.invalidator.Invalidate(ctx, cdnPaths)
	})
	return err
}

// responseHeadersFor builds the content-disposition override for a signed
// URL: the key's base name only, never directory components.
func responseHeadersFor(dest domain.Destination) storage.ResponseHeaders {
	name := strings.TrimSpace(dest.BaseName())
	return storage.ResponseHeaders{
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
	}
}

func (p *Profile) transferClientOptions(regionOverride string) transfer.ClientOptions {
	opts := p.storageOptions(regionOverride)
	return transfer.ClientOptions{
		Credentials: opts.Credentials,
		Endpoint:    opts.Endpoint,
		Region:      opts.Region,
		PathStyle:   opts.PathStyle,
	}
}

func runTransfer(ctx context.Context, exec executor.Executor, kind string, payload any) (domain.FingerprintRecord, error) {
	var record domain.FingerprintRecord
	task, err := executor.NewTask(kind, payload)
	if err != nil {
		return record, err
	}
	raw, err := exec.Execute(ctx, task)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("decode %s result: %w", kind, err)
	}
	return record, nil
}
