package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martazobro/s3-plugin/internal/config"
	"github.com/martazobro/s3-plugin/internal/domain"
	"github.com/martazobro/s3-plugin/internal/executor"
	"github.com/martazobro/s3-plugin/internal/retry"
	"github.com/martazobro/s3-plugin/internal/storage"
	"github.com/martazobro/s3-plugin/internal/transfer"
)

// fakeStorage scripts ListPage by incoming marker and records every call.
type fakeStorage struct {
	pages       map[string]storage.Page
	listMarkers []string
	listErr     error

	deleted   []string
	deleteErr error

	presignExpiry  time.Duration
	presignHeaders storage.ResponseHeaders
	presignURL     string

	bucketsErr error
}

func (f *fakeStorage) Put(context.Context, string, string, []byte, storage.PutOptions) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeStorage) Get(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeStorage) ListPage(_ context.Context, _, _, marker string) (storage.Page, error) {
	f.listMarkers = append(f.listMarkers, marker)
	if f.listErr != nil {
		return storage.Page{}, f.listErr
	}
	return f.pages[marker], nil
}

func (f *fakeStorage) Delete(_ context.Context, _, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) PresignGet(_ context.Context, bucket, key string, expiry time.Duration, headers storage.ResponseHeaders) (string, error) {
	f.presignExpiry = expiry
	f.presignHeaders = headers
	if f.presignURL == "" {
		return "https://signed.example/" + bucket + "/" + key, nil
	}
	return f.presignURL, nil
}

func (f *fakeStorage) ListBuckets(context.Context) ([]string, error) {
	if f.bucketsErr != nil {
		return nil, f.bucketsErr
	}
	return []string{"artifacts"}, nil
}

var _ storage.Client = (*fakeStorage)(nil)

// fakeAgent decodes upload tasks itself and fails a scripted number of times
// before answering with a fingerprint record.
type fakeAgent struct {
	failures int
	calls    int
	lastTask transfer.UploadTask
}

func (f *fakeAgent) Execute(_ context.Context, task executor.Task) ([]byte, error) {
	f.calls++
	if err := json.Unmarshal(task.Payload, &f.lastTask); err != nil {
		return nil, err
	}
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	return json.Marshal(domain.FingerprintRecord{
		Artifact: f.lastTask.Artifact,
		MD5:      "d41d8cd98f00b204e9800998ecf8427e",
		Produced: f.lastTask.Produced,
	})
}

func testProfileConfig() config.ProfileConfig {
	return config.ProfileConfig{
		Name:                   "prod",
		AccessKey:              "AKIATEST",
		SecretKey:              "topsecret",
		SignedURLExpirySeconds: 60,
		MaxUploadRetries:       "3",
		RetryWaitTime:          "0",
	}
}

func newTestProfile(t *testing.T, fake *fakeStorage, opts ...Option) *Profile {
	t.Helper()
	opts = append([]Option{WithClient(fake)}, opts...)
	return New(testProfileConfig(), config.StorageConfig{Bucket: "artifacts"}, opts...)
}

func testBuild() domain.Build {
	return domain.Build{JobName: "nightly", Number: 42, StartTime: time.Now()}
}

func TestListFollowsMarkersAcrossPages(t *testing.T) {
	fake := &fakeStorage{pages: map[string]storage.Page{
		"": {
			Objects:    []storage.ObjectInfo{{Key: "jobs/nightly/42/prod/a.jar"}, {Key: "jobs/nightly/42/prod/b.jar"}},
			NextMarker: "A",
			Truncated:  true,
		},
		"A": {
			Objects:    []storage.ObjectInfo{{Key: "jobs/nightly/42/prod/c.jar"}},
			NextMarker: "B",
			Truncated:  true,
		},
		"B": {
			Objects:    []storage.ObjectInfo{{Key: "jobs/nightly/42/prod/d.jar"}},
			NextMarker: "C",
			Truncated:  true,
		},
		"C": {
			Objects: []storage.ObjectInfo{{Key: "jobs/nightly/42/prod/e.jar"}},
		},
	}}
	p := newTestProfile(t, fake)

	keys, err := p.List(context.Background(), testBuild(), "artifacts", "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"jobs/nightly/42/prod/a.jar",
		"jobs/nightly/42/prod/b.jar",
		"jobs/nightly/42/prod/c.jar",
		"jobs/nightly/42/prod/d.jar",
		"jobs/nightly/42/prod/e.jar",
	}, keys)
	assert.Equal(t, []string{"", "A", "B", "C"}, fake.listMarkers)
}

func TestListDoesNotApplyFilter(t *testing.T) {
	fake := &fakeStorage{pages: map[string]storage.Page{
		"": {Objects: []storage.ObjectInfo{
			{Key: "jobs/nightly/42/prod/app.jar"},
			{Key: "jobs/nightly/42/prod/report.html"},
		}},
	}}
	p := newTestProfile(t, fake)

	keys, err := p.List(context.Background(), testBuild(), "artifacts", "*.jar")
	require.NoError(t, err)
	assert.Len(t, keys, 2, "filter argument must not reduce the listing")
}

func TestDeleteMissingKeySucceeds(t *testing.T) {
	fake := &fakeStorage{}
	p := newTestProfile(t, fake)

	record := domain.FingerprintRecord{Artifact: domain.Artifact{Name: "ghost.jar"}}
	err := p.Delete(context.Background(), testBuild(), "artifacts", record)

	require.NoError(t, err)
	assert.Equal(t, []string{"jobs/nightly/42/prod/ghost.jar"}, fake.deleted)
}

func TestDownloadURLContentDisposition(t *testing.T) {
	fake := &fakeStorage{}
	p := newTestProfile(t, fake)

	record := domain.FingerprintRecord{Artifact: domain.Artifact{Name: "deep/path/app.jar"}}
	url, err := p.DownloadURL(context.Background(), testBuild(), "artifacts", record)
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	assert.Equal(t, `attachment; filename="app.jar"`, fake.presignHeaders.ContentDisposition)
	assert.Equal(t, 60*time.Second, fake.presignExpiry)
}

func TestLegacyProfileSignedURLExpiry(t *testing.T) {
	p := NewLegacy(testProfileConfig(), config.StorageConfig{})
	assert.Equal(t, 4*time.Second, p.SignedURLExpiry)
}

func TestUploadRejectsDirectoryWithoutRetry(t *testing.T) {
	agent := &fakeAgent{}
	p := newTestProfile(t, &fakeStorage{}, WithAgent(agent))

	_, err := p.Upload(context.Background(), testBuild(), "artifacts", t.TempDir(), UploadOptions{FromRemoteAgent: true})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIsDirectory)
	assert.Zero(t, agent.calls, "directory input must fail before any transfer attempt")
}

func TestUploadManagedComputesDestinationAndProduced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	agent := &fakeAgent{}
	p := newTestProfile(t, &fakeStorage{}, WithAgent(agent))

	build := testBuild()
	build.StartTime = time.Now().Add(-time.Minute) // file written after build start

	record, err := p.Upload(context.Background(), build, "artifacts", path, UploadOptions{
		FromRemoteAgent:  true,
		ManagedArtifacts: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "jobs/nightly/42/prod/app.jar", agent.lastTask.Destination.Key)
	assert.True(t, record.Produced)
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	agent := &fakeAgent{failures: 2}
	p := newTestProfile(t, &fakeStorage{}, WithAgent(agent))

	record, err := p.Upload(context.Background(), testBuild(), "artifacts", path, UploadOptions{FromRemoteAgent: true})
	require.NoError(t, err)
	assert.Equal(t, 3, agent.calls)
	assert.Equal(t, "app.jar", record.Artifact.Name)
}

func TestUploadExhaustsRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	agent := &fakeAgent{failures: 100}
	p := newTestProfile(t, &fakeStorage{}, WithAgent(agent))

	_, err := p.Upload(context.Background(), testBuild(), "artifacts", path, UploadOptions{
		FromRemoteAgent: true,
		Flatten:         true,
	})

	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, agent.calls)
	assert.Contains(t, exhausted.Target, "put s3://artifacts/app.jar")
}

func TestUploadUnmanagedKeyScenarios(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.jar")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	agent := &fakeAgent{}
	p := newTestProfile(t, &fakeStorage{}, WithAgent(agent))

	// Strip the temp dir plus separator, leaving the base name.
	searchLen := len(dir) + 1
	_, err := p.Upload(context.Background(), testBuild(), "artifacts", path, UploadOptions{
		FromRemoteAgent:  true,
		SearchPathLength: searchLen,
	})
	require.NoError(t, err)
	assert.Equal(t, "app.jar", agent.lastTask.Destination.Key)

	_, err = p.Upload(context.Background(), testBuild(), "artifacts", path, UploadOptions{
		FromRemoteAgent: true,
		Flatten:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "app.jar", agent.lastTask.Destination.Key)
}

func TestDownloadAllPartialFailure(t *testing.T) {
	// One object exists, one is missing; the batch must deliver the first
	// and report the second without failing wholesale.
	store := map[string][]byte{
		"jobs/nightly/42/prod/good.jar": []byte("good"),
	}
	local := scriptedDownloader{store: store}

	p := newTestProfile(t, &fakeStorage{}, WithAgent(local))

	candidates := []domain.FingerprintRecord{
		{Artifact: domain.Artifact{Name: "good.jar"}},
		{Artifact: domain.Artifact{Name: "missing.jar"}},
		{Artifact: domain.Artifact{Name: "skipped.html"}},
	}

	var sink bytes.Buffer
	result := p.DownloadAll(context.Background(), testBuild(), "artifacts", candidates, "*.jar", t.TempDir(), false, &sink)

	require.Len(t, result.Downloaded, 1)
	assert.Equal(t, "good.jar", result.Downloaded[0].Artifact.Name)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "missing.jar", result.Failures[0].Artifact.Name)
	assert.Contains(t, sink.String(), "missing.jar")
}

// scriptedDownloader serves download tasks from an in-memory object map.
type scriptedDownloader struct {
	store map[string][]byte
}

func (s scriptedDownloader) Execute(_ context.Context, task executor.Task) ([]byte, error) {
	var dl transfer.DownloadTask
	if err := json.Unmarshal(task.Payload, &dl); err != nil {
		return nil, err
	}
	data, ok := s.store[dl.Destination.Key]
	if !ok {
		return nil, fmt.Errorf("get %s: no such key", dl.Destination)
	}
	if err := os.WriteFile(dl.TargetPath, data, 0o644); err != nil {
		return nil, err
	}
	return json.Marshal(domain.FingerprintRecord{Artifact: dl.Artifact})
}

func TestCheckSurfacesClientError(t *testing.T) {
	fake := &fakeStorage{bucketsErr: errors.New("forbidden")}
	p := newTestProfile(t, fake)

	err := p.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestInvalidateRequiresConfiguredCDN(t *testing.T) {
	p := newTestProfile(t, &fakeStorage{})
	err := p.Invalidate(context.Background(), 0, "/build/out/app.jar")
	assert.Error(t, err)
}

func TestInvalidateStripsPrefixAndRetries(t *testing.T) {
	inv := &fakeInvalidator{failures: 1}
	p := newTestProfile(t, &fakeStorage{}, WithInvalidator(inv))

	err := p.Invalidate(context.Background(), 6, "build/out/app.jar", "build/out/report.html")
	require.NoError(t, err)

	assert.Equal(t, 2, inv.calls)
	assert.Equal(t, []string{"/out/app.jar", "/out/report.html"}, inv.lastPaths)
}

func TestInvalidateExhaustsRetries(t *testing.T) {
	inv := &fakeInvalidator{failures: 100}
	p := newTestProfile(t, &fakeStorage{}, WithInvalidator(inv))

	err := p.Invalidate(context.Background(), 0, "/app.jar")
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, inv.calls)
}

type fakeInvalidator struct {
	failures  int
	calls     int
	lastPaths []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, paths []string) error {
	f.calls++
	f.lastPaths = paths
	if f.calls <= f.failures {
		return errors.New("rate limited")
	}
	return nil
}

func TestShouldProxyMatchesFullHostname(t *testing.T) {
	p := newTestProfile(t, &fakeStorage{})
	p.NoProxyPatterns = []string{`s3\.amazonaws\.com`, `.*\.internal`}

	assert.False(t, p.shouldProxy("s3.amazonaws.com"))
	assert.False(t, p.shouldProxy("repo.internal"))
	// A pattern match is full-string, never substring.
	assert.True(t, p.shouldProxy("s3.amazonaws.com.evil.example"))
	assert.True(t, p.shouldProxy("internal"))
}

func TestHTTPClientOnlyWhenProxyConfigured(t *testing.T) {
	p := newTestProfile(t, &fakeStorage{})
	assert.Nil(t, p.httpClient())

	p.ProxyHost = "proxy.corp"
	p.ProxyPort = 3128
	assert.NotNil(t, p.httpClient())

	p.NoProxyPatterns = []string{`s3\.amazonaws\.com`}
	assert.Nil(t, p.httpClient(), "default endpoint host is exempted")
}

func TestProfileStringRedactsSecrets(t *testing.T) {
	p := newTestProfile(t, &fakeStorage{})
	s := p.String()
	assert.NotContains(t, s, "topsecret")
	assert.NotContains(t, s, "AKIATEST", "full access key is not printed")
}

func TestUseRoleClearsKeyMaterial(t *testing.T) {
	cfg := testProfileConfig()
	cfg.UseRole = true
	p := New(cfg, config.StorageConfig{})

	assert.True(t, p.Credentials.UseRole)
	assert.Empty(t, p.Credentials.AccessKey)
	assert.Empty(t, p.Credentials.SecretKey)
}

func TestRetryPolicyDefaultsWhenUnparseable(t *testing.T) {
	cfg := testProfileConfig()
	cfg.MaxUploadRetries = "not-a-number"
	cfg.RetryWaitTime = ""
	p := New(cfg, config.StorageConfig{})

	assert.Equal(t, config.DefaultMaxUploadRetries, p.MaxRetries)
	assert.Equal(t, time.Duration(config.DefaultRetryWaitSeconds)*time.Second, p.RetryWait)
}
