package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/dicom-ingest/pkg/validator"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "DICOM_INGEST"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Matching MatchingConfig `mapstructure:"matching"`
	Log      LogConfig      `mapstructure:"log"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

type DatabaseConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         int           `mapstructure:"port" validate:"gt=0"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name" validate:"required"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	ConnMaxIdle  time.Duration `mapstructure:"conn_max_idle"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL            string        `mapstructure:"url" validate:"required"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	PoolSize       int           `mapstructure:"pool_size"`
	MinIdleConns   int           `mapstructure:"min_idle_conns"`
	QueueKey       string        `mapstructure:"queue_key" validate:"required"`
	ProgressPrefix string        `mapstructure:"progress_prefix" validate:"required"`
}

type StorageConfig struct {
	ProcessedRoot string `mapstructure:"processed_root" validate:"required"`
	OrganizedRoot string `mapstructure:"organized_root" validate:"required"`
	WorkDir       string `mapstructure:"work_dir"`
}

type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency" validate:"gt=0"`
	JobsPerSecond float64       `mapstructure:"jobs_per_second" validate:"gt=0"`
	Burst         int           `mapstructure:"burst" validate:"gt=0"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	OpsPort       int           `mapstructure:"ops_port" validate:"gt=0"`
}

type MatchingConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

// overrides are read from DICOM_INGEST_* variables. Secrets are expected to
// arrive this way rather than through the config file.
type overrides struct {
	DBHost        string `envconfig:"DB_HOST"`
	DBPort        int    `envconfig:"DB_PORT"`
	DBUser        string `envconfig:"DB_USER"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	DBName        string `envconfig:"DB_NAME"`
	RedisURL      string `envconfig:"REDIS_URL"`
	ProcessedRoot string `envconfig:"PROCESSED_ROOT"`
	OrganizedRoot string `envconfig:"ORGANIZED_ROOT"`
	WorkDir       string `envconfig:"WORK_DIR"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	GCSCredFile   string `envconfig:"GCS_CREDENTIALS_FILE"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "dicom_ingest")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_idle", "5m")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.queue_key", "dicom-ingest:jobs")
	v.SetDefault("redis.progress_prefix", "dicom-ingest:progress:")

	v.SetDefault("storage.processed_root", "data/processed")
	v.SetDefault("storage.organized_root", "data/training_data_organized")
	v.SetDefault("storage.work_dir", "")

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.jobs_per_second", 1.0)
	v.SetDefault("worker.burst", 1)
	v.SetDefault("worker.poll_timeout", "5s")
	v.SetDefault("worker.ops_port", 8081)

	v.SetDefault("matching.cache_ttl", "5m")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads the YAML file at path, or config.yml from the usual
// locations when path is empty, then applies environment overrides. A
// missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Validate(&cfg); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.Redis.URL); err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &cfg, nil
}

func applyOverrides(cfg *Config) error {
	var o overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	setString(&cfg.Database.Host, o.DBHost)
	setString(&cfg.Database.User, o.DBUser)
	setString(&cfg.Database.Password, o.DBPassword)
	setString(&cfg.Database.Name, o.DBName)
	if o.DBPort != 0 {
		cfg.Database.Port = o.DBPort
	}
	setString(&cfg.Redis.URL, o.RedisURL)
	setString(&cfg.Storage.ProcessedRoot, o.ProcessedRoot)
	setString(&cfg.Storage.OrganizedRoot, o.OrganizedRoot)
	setString(&cfg.Storage.WorkDir, o.WorkDir)
	setString(&cfg.Log.Level, o.LogLevel)
	setString(&cfg.GCS.CredentialsFile, o.GCSCredFile)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
