// Package profile ties a storage account configuration to the publisher's
// operations: upload, bulk download, list, delete, signed URLs, CDN
// invalidation and a connectivity check.
package profile

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/martazobro/s3-plugin/internal/cdn"
	"github.com/martazobro/s3-plugin/internal/config"
	"github.com/martazobro/s3-plugin/internal/executor"
	"github.com/martazobro/s3-plugin/internal/retry"
	"github.com/martazobro/s3-plugin/internal/storage"
)

// defaultEndpointHost is the hostname checked against no-proxy patterns when
// no custom endpoint is configured.
const defaultEndpointHost = "s3.amazonaws.com"

// Profile is one storage account plus its operation policies. The storage
// client is built lazily and memoized: exactly one client exists per Profile
// after first use, and configuration changes after that point have no effect
// until the process restarts. That limitation is deliberate and documented
// rather than silently worked around.
type Profile struct {
	Name            string
	Credentials     storage.Credentials
	MaxRetries      int
	RetryWait       time.Duration
	SignedURLExpiry time.Duration

	ProxyHost       string
	ProxyPort       int
	NoProxyPatterns []string

	endpoint  string
	region    string
	pathStyle bool

	local       executor.Executor
	agent       executor.Executor
	invalidator cdn.Invalidator

	once      sync.Once
	client    storage.Client
	clientErr error
}

// Option configures a Profile at construction.
type Option func(*Profile)

// WithClient injects a pre-built storage client. Used by tests and by hosts
// that manage client lifecycles themselves.
func WithClient(c storage.Client) Option {
	return func(p *Profile) { p.client = c }
}

// WithAgent installs the remote execution capability transfers are dispatched
// to when an operation asks to run where the file lives.
func WithAgent(e executor.Executor) Option {
	return func(p *Profile) { p.agent = e }
}

// WithInvalidator installs the CDN invalidation capability.
func WithInvalidator(i cdn.Invalidator) Option {
	return func(p *Profile) { p.invalidator = i }
}

// New builds a Profile from configuration. When the profile uses the ambient
// role, any configured key material is cleared at construction.
func New(cfg config.ProfileConfig, store config.StorageConfig, opts ...Option) *Profile {
	creds := storage.ExplicitCredentials(cfg.AccessKey, cfg.SecretKey)
	if cfg.UseRole {
		creds = storage.AmbientRole()
	}

	p := &Profile{
		Name:            cfg.Name,
		Credentials:     creds,
		MaxRetries:      cfg.MaxRetries(),
		RetryWait:       time.Duration(cfg.RetryWaitSeconds()) * time.Second,
		SignedURLExpiry: time.Duration(cfg.SignedURLExpirySeconds) * time.Second,
		ProxyHost:       cfg.ProxyHost,
		ProxyPort:       cfg.ProxyPort,
		NoProxyPatterns: cfg.NoProxyPatterns,
		endpoint:        store.Endpoint,
		region:          store.Region,
		pathStyle:       store.PathStyle,
		local:           executor.Local{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewLegacy builds a Profile from a configuration that predates the signed
// URL expiry setting, which hard-coded a 4 second window.
func NewLegacy(cfg config.ProfileConfig, store config.StorageConfig, opts ...Option) *Profile {
	cfg.SignedURLExpirySeconds = config.LegacySignedURLExpirySeconds
	return New(cfg, store, opts...)
}

// String identifies the profile without exposing the secret key.
func (p *Profile) String() string {
	return fmt.Sprintf("profile %q (access key %s)", p.Name, redactKey(p.Credentials.AccessKey))
}

func redactKey(key string) string {
	if key == "" {
		return "<ambient role>"
	}
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// Client returns the memoized storage client, building it on first use.
// Connect forces the construction at a well-defined setup step instead.
func (p *Profile) Client(ctx context.Context) (storage.Client, error) {
	p.once.Do(func() {
		if p.client != nil {
			return
		}
		p.client, p.clientErr = storage.NewClient(ctx, p.storageOptions(""))
	})
	return p.client, p.clientErr
}

// Connect eagerly builds the storage client so later operations cannot fail
// on lazy construction.
func (p *Profile) Connect(ctx context.Context) error {
	_, err := p.Client(ctx)
	return err
}

// Check probes connectivity by listing buckets through the memoized client.
func (p *Profile) Check(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("check %s: %w", p, err)
	}
	return nil
}

func (p *Profile) storageOptions(regionOverride string) storage.Options {
	region := p.region
	if regionOverride != "" {
		region = regionOverride
	}
	return storage.Options{
		Credentials: p.Credentials,
		Endpoint:    p.endpoint,
		Region:      region,
		PathStyle:   p.pathStyle,
		HTTPClient:  p.httpClient(),
	}
}

func (p *Profile) retryPolicy() retry.Policy {
	return retry.New(p.MaxRetries, p.RetryWait)
}

// executorFor picks the remote agent when the operation asks for it and one
// is configured; everything else runs in-process.
func (p *Profile) executorFor(remote bool) executor.Executor {
	if remote && p.agent != nil {
		return p.agent
	}
	return p.local
}

// httpClient returns a proxied client when a proxy is configured and the
// target host is not exempted, nil otherwise (nil means the SDK default).
func (p *Profile) httpClient() *http.Client {
	if p.ProxyHost == "" || !p.shouldProxy(p.targetHost()) {
		return nil
	}
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.ProxyHost, strconv.Itoa(p.ProxyPort)),
	}
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}
}

// shouldProxy reports whether outbound requests to hostname go through the
// proxy. Each no-proxy pattern is a regular expression matched against the
// full hostname, not a substring.
func (p *Profile) shouldProxy(hostname string) bool {
	for _, pattern := range p.NoProxyPatterns {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("invalid no-proxy pattern, ignoring")
			continue
		}
		if re.MatchString(hostname) {
			return false
		}
	}
	return true
}

func (p *Profile) targetHost() string {
	if p.endpoint == "" {
		return defaultEndpointHost
	}
	host := p.endpoint
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
