package config

import (
	"fmt"
	"time"

	"github.com/Veraticus/chargemap/internal/common"
	"github.com/Veraticus/chargemap/internal/service"
	"github.com/spf13/viper"
)

// Defaults applied when a key is absent from the config file and environment.
const (
	DefaultDatabasePath  = "~/.local/share/chargemap/chargemap.db"
	DefaultChunkSize     = 500
	DefaultRetryAttempts = 1
	DefaultPageSize      = 100
	DefaultServerAddr    = ":8787"
	DefaultCertDir       = "~/.local/share/chargemap/certs"
)

// Config is the typed view of the chargemap configuration.
type Config struct {
	DatabasePath   string
	ServerAddr     string
	CertDir        string
	LogLevel       string
	LogFormat      string
	Retry          service.RetryOptions
	ChunkSize      int
	PageSize       int
	RequestTimeout time.Duration
	TLS            bool
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("apply.chunk_size", DefaultChunkSize)
	v.SetDefault("apply.retry_attempts", DefaultRetryAttempts)
	v.SetDefault("apply.retry_delay", 200*time.Millisecond)
	v.SetDefault("charges.page_size", DefaultPageSize)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", DefaultCertDir)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		DatabasePath: ExpandPath(v.GetString("database.path")),
		ServerAddr:   v.GetString("server.addr"),
		CertDir:      ExpandPath(v.GetString("server.cert_dir")),
		TLS:          v.GetBool("server.tls"),
		LogLevel:     v.GetString("logging.level"),
		LogFormat:    v.GetString("logging.format"),
		ChunkSize:    v.GetInt("apply.chunk_size"),
		PageSize:     v.GetInt("charges.page_size"),
		Retry: service.RetryOptions{
			MaxAttempts:  v.GetInt("apply.retry_attempts"),
			InitialDelay: v.GetDuration("apply.retry_delay"),
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
		RequestTimeout: v.GetDuration("server.request_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: apply.chunk_size must be positive, got %d", common.ErrInvalidConfig, c.ChunkSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: apply.retry_attempts must be at least 1, got %d", common.ErrInvalidConfig, c.Retry.MaxAttempts)
	}
	if c.TLS && c.CertDir == "" {
		return fmt.Errorf("%w: server.cert_dir is required with server.tls", common.ErrMissingConfig)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("%w: charges.page_size must not be negative, got %d", common.ErrInvalidConfig, c.PageSize)
	}
	if _, err := common.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", common.ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
