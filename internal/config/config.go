package config

import (
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults applied when a setting is absent or unparseable.
const (
	DefaultSignedURLExpirySeconds = 60
	// Configurations written before the expiry setting existed hard-coded
	// a 4 second window; loading such a profile keeps that value.
	LegacySignedURLExpirySeconds = 4
	DefaultMaxUploadRetries      = 5
	DefaultRetryWaitSeconds      = 5
)

type Config struct {
	Server  ServerConfig
	Profile ProfileConfig
	Storage StorageConfig
	CDN     CDNConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	AllowedOrigins []string
}

// ProfileConfig is the credential and policy surface of one storage profile.
// MaxUploadRetries and RetryWaitTime arrive as free-form strings and are
// parsed with a fallback, matching how older installations stored them.
type ProfileConfig struct {
	Name                   string
	AccessKey              string
	SecretKey              string
	ProxyHost              string
	ProxyPort              int
	NoProxyPatterns        []string
	UseRole                bool
	SignedURLExpirySeconds int
	MaxUploadRetries       string
	RetryWaitTime          string
}

// MaxRetries parses MaxUploadRetries, falling back to the default when the
// value is missing or not a number.
func (p ProfileConfig) MaxRetries() int {
	return parseIntOr(p.MaxUploadRetries, DefaultMaxUploadRetries)
}

// RetryWaitSeconds parses RetryWaitTime with the same fallback rule.
func (p ProfileConfig) RetryWaitSeconds() int {
	return parseIntOr(p.RetryWaitTime, DefaultRetryWaitSeconds)
}

type StorageConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	PathStyle bool
}

type CDNConfig struct {
	Enabled        bool
	DistributionID string
}

var (
	once     sync.Once
	instance *Config
)

// Load reads configuration from the environment (with .env support) exactly
// once per process.
func Load() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "release")
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("PROFILE_NAME", "default")
		viper.SetDefault("PROFILE_ACCESS_KEY", "")
		viper.SetDefault("PROFILE_SECRET_KEY", "")
		viper.SetDefault("PROFILE_PROXY_HOST", "")
		viper.SetDefault("PROFILE_PROXY_PORT", 0)
		viper.SetDefault("PROFILE_NO_PROXY", "")
		viper.SetDefault("PROFILE_USE_ROLE", false)
		viper.SetDefault("PROFILE_SIGNED_URL_EXPIRY_SECONDS", DefaultSignedURLExpirySeconds)
		viper.SetDefault("PROFILE_MAX_UPLOAD_RETRIES", "")
		viper.SetDefault("PROFILE_RETRY_WAIT_TIME", "")
		viper.SetDefault("STORAGE_BUCKET", "")
		viper.SetDefault("STORAGE_ENDPOINT", "")
		viper.SetDefault("STORAGE_REGION", "")
		viper.SetDefault("STORAGE_PATH_STYLE", false)
		viper.SetDefault("CDN_ENABLED", false)
		viper.SetDefault("CDN_DISTRIBUTION_ID", "")

		viper.AutomaticEnv()

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Profile: ProfileConfig{
				Name:                   viper.GetString("PROFILE_NAME"),
				AccessKey:              viper.GetString("PROFILE_ACCESS_KEY"),
				SecretKey:              viper.GetString("PROFILE_SECRET_KEY"),
				ProxyHost:              viper.GetString("PROFILE_PROXY_HOST"),
				ProxyPort:              viper.GetInt("PROFILE_PROXY_PORT"),
				NoProxyPatterns:        splitPatterns(viper.GetString("PROFILE_NO_PROXY")),
				UseRole:                viper.GetBool("PROFILE_USE_ROLE"),
				SignedURLExpirySeconds: viper.GetInt("PROFILE_SIGNED_URL_EXPIRY_SECONDS"),
				MaxUploadRetries:       viper.GetString("PROFILE_MAX_UPLOAD_RETRIES"),
				RetryWaitTime:          viper.GetString("PROFILE_RETRY_WAIT_TIME"),
			},
			Storage: StorageConfig{
				Bucket:    viper.GetString("STORAGE_BUCKET"),
				Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
				Region:    viper.GetString("STORAGE_REGION"),
				PathStyle: viper.GetBool("STORAGE_PATH_STYLE"),
			},
			CDN: CDNConfig{
				Enabled:        viper.GetBool("CDN_ENABLED"),
				DistributionID: viper.GetString("CDN_DISTRIBUTION_ID"),
			},
		}
	})

	return instance
}

// splitPatterns splits a pipe-separated no-proxy pattern list.
func splitPatterns(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}

func parseIntOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
