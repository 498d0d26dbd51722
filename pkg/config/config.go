package config

import (
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config holds all runtime configuration. Values are loaded from the YAML
// config file pointed at by CONFIG_FILE (if it exists), then overridden by
// environment variables of the same name in SCREAMING_SNAKE_CASE.
type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"3799"`

	// Dispatcher / sync queue tuning.
	WorkerProcesses     int           `koanf:"worker_processes" default:"2"`
	DispatchBatchSize   int           `koanf:"dispatch_batch_size" default:"10"`
	DispatchInterval    time.Duration `koanf:"dispatch_interval" default:"5s"`
	DeliverTimeout      time.Duration `koanf:"deliver_timeout" default:"30s"`
	MaxDeliveryAttempts int           `koanf:"max_delivery_attempts" default:"5"`
	RetryBackoffBase    time.Duration `koanf:"retry_backoff_base" default:"30s"`
	RetryBackoffMax     time.Duration `koanf:"retry_backoff_max" default:"1h"`
	RateLimitBackoff    time.Duration `koanf:"rate_limit_backoff" default:"15m"`
	StaleClaimTimeout   time.Duration `koanf:"stale_claim_timeout" default:"10m"`
	SweepInterval       time.Duration `koanf:"sweep_interval" default:"1m"`

	// Quota defaults applied when an account has no explicit quota row yet.
	QuotaOCRPagesLimit int           `koanf:"quota_ocr_pages_limit" default:"500"`
	QuotaPeriod        time.Duration `koanf:"quota_period" default:"720h"`
	QuotaSweepInterval time.Duration `koanf:"quota_sweep_interval" default:"5m"`

	// Device sync folder watched for notebook file changes. The watcher is
	// disabled when empty. Files found there are registered under
	// SyncFolderAccountID.
	SyncFolderPath      string `koanf:"sync_folder_path"`
	SyncFolderAccountID int    `koanf:"sync_folder_account_id" default:"1"`

	Hostname string `koanf:"-"`
}

const configFileENV = "CONFIG_FILE"

func New() (*Config, error) {
	k := koanf.New(".")

	configFilePath := os.Getenv(configFileENV)
	if configFilePath == "" {
		configFilePath = "/config/config.yaml"
	}

	// The config file is optional; env vars alone are a valid setup.
	if _, err := os.Stat(configFilePath); err == nil {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "failed to load config file")
		}
	}

	// Env vars override file values: DATABASE_FILE_PATH -> database_file_path.
	err := k.Load(env.Provider("", ".", strings.ToLower), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.DatabaseFilePath == "" {
		return nil, errors.New("missing required config: DATABASE_FILE_PATH (database_file_path)")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Hostname = hostname

	return cfg, nil
}
