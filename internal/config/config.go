package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "rdm"

// Config holds the configuration options for the application.
type Config struct {
	MaxConcurrentDownloads int             `yaml:"maxConcurrentDownloads,omitempty"`
	DownloadDir            string          `yaml:"dir,omitempty"`
	DatabasePath           string          `yaml:"database,omitempty"`
	LogPath                string          `yaml:"log,omitempty"`
	CleanupAfter           time.Duration   `yaml:"cleanupAfter,omitempty"`
	Http                   *HttpConfig     `yaml:"http,omitempty"`
	Transfer               *TransferConfig `yaml:"transfer,omitempty"`
}

// HttpConfig holds options for the HTTP transport.
type HttpConfig struct {
	UserAgent      string            `yaml:"userAgent,omitempty"`
	ConnectTimeout time.Duration     `yaml:"connectTimeout,omitempty"`
	ReadTimeout    time.Duration     `yaml:"readTimeout,omitempty"`
	MaxRedirects   int               `yaml:"maxRedirects,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

// TransferConfig holds the copy loop and checkpoint policy.
type TransferConfig struct {
	BufferSize   int           `yaml:"bufferSize,omitempty"`
	SyncMinBytes int64         `yaml:"syncMinBytes,omitempty"`
	SyncInterval time.Duration `yaml:"syncInterval,omitempty"`
}

// Path returns the default configuration file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// GetConfig reads the configuration file at the default location.
func GetConfig() (*Config, error) {
	return Load(Path())
}

// Load reads the configuration file at path and fills unset fields from
// the defaults. A missing or empty file yields the default configuration.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	httpCfg := zeroOr(cfg.Http, defaults.Http)
	transferCfg := zeroOr(cfg.Transfer, defaults.Transfer)

	return &Config{
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		DatabasePath:           zeroOr(cfg.DatabasePath, defaults.DatabasePath),
		LogPath:                zeroOr(cfg.LogPath, defaults.LogPath),
		CleanupAfter:           zeroOr(cfg.CleanupAfter, defaults.CleanupAfter),
		Http: &HttpConfig{
			UserAgent:      zeroOr(httpCfg.UserAgent, defaults.Http.UserAgent),
			ConnectTimeout: zeroOr(httpCfg.ConnectTimeout, defaults.Http.ConnectTimeout),
			ReadTimeout:    zeroOr(httpCfg.ReadTimeout, defaults.Http.ReadTimeout),
			MaxRedirects:   zeroOr(httpCfg.MaxRedirects, defaults.Http.MaxRedirects),
			Headers:        zeroOr(httpCfg.Headers, defaults.Http.Headers),
		},
		Transfer: &TransferConfig{
			BufferSize:   zeroOr(transferCfg.BufferSize, defaults.Transfer.BufferSize),
			SyncMinBytes: zeroOr(transferCfg.SyncMinBytes, defaults.Transfer.SyncMinBytes),
			SyncInterval: zeroOr(transferCfg.SyncInterval, defaults.Transfer.SyncInterval),
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: maxConcurrentDownloads,
		DownloadDir:            downloadDir,
		DatabasePath:           databasePath,
		LogPath:                logPath,
		CleanupAfter:           cleanupAfter,
		Http: &HttpConfig{
			UserAgent:      userAgent,
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
			MaxRedirects:   maxRedirects,
		},
		Transfer: &TransferConfig{
			BufferSize:   bufferSize,
			SyncMinBytes: syncMinBytes,
			SyncInterval: syncInterval,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
