// Package config loads service settings with viper and provider credentials
// from an ini profile file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "AAFLOW"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverNATS     = "nats"
	DriverRedis    = "redis"
	DriverStore    = "store"
	DriverS3       = "s3"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Bus        BusConfig        `mapstructure:"bus"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Lock       LockConfig       `mapstructure:"lock"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	RawExtract RawExtractConfig `mapstructure:"rawextract"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// VerifySignatures rejects provider callbacks whose x-jws-signature does
	// not verify against the profile's provider_public_key_path.
	VerifySignatures bool `mapstructure:"verify_signatures"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type BusConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	Subject    string `mapstructure:"subject"`
	QueueGroup string `mapstructure:"queue_group"`
}

type SchedulerConfig struct {
	Driver       string        `mapstructure:"driver"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	Queue        string        `mapstructure:"queue"`
	Delay        time.Duration `mapstructure:"delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LockConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Wait          time.Duration `mapstructure:"wait"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type ProviderConfig struct {
	Profile         string        `mapstructure:"profile"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryMax        int           `mapstructure:"retry_max"`
}

type RawExtractConfig struct {
	Driver   string `mapstructure:"driver"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.verify_signatures", false)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")

	v.SetDefault("bus.driver", DriverMemory)
	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.subject", "pub-aa-fi-ready")
	v.SetDefault("bus.queue_group", "aaflow-fi")

	v.SetDefault("scheduler.driver", DriverMemory)
	v.SetDefault("scheduler.redis_addr", "127.0.0.1:6379")
	v.SetDefault("scheduler.queue", "aa-fiready-queue")
	v.SetDefault("scheduler.delay", 180*time.Second)
	v.SetDefault("scheduler.poll_interval", 5*time.Second)

	v.SetDefault("lock.ttl", 5*time.Minute)
	v.SetDefault("lock.wait", 5*time.Minute)
	v.SetDefault("lock.retry_interval", 250*time.Millisecond)

	v.SetDefault("provider.profile", "DEFAULT")
	v.SetDefault("provider.credentials_file", "")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.retry_max", 3)

	v.SetDefault("rawextract.driver", DriverStore)
	v.SetDefault("rawextract.bucket", "")
	v.SetDefault("rawextract.prefix", "raw-extracts/")
	v.SetDefault("rawextract.region", "")
	v.SetDefault("rawextract.endpoint", "")
}

// Load reads the optional config file at path and applies AAFLOW_ environment
// overrides, e.g. AAFLOW_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := oneOf("store.driver", c.Store.Driver, DriverMemory, DriverPostgres); err != nil {
		return err
	}
	if err := oneOf("bus.driver", c.Bus.Driver, DriverMemory, DriverNATS); err != nil {
		return err
	}
	if err := oneOf("scheduler.driver", c.Scheduler.Driver, DriverMemory, DriverRedis); err != nil {
		return err
	}
	if err := oneOf("rawextract.driver", c.RawExtract.Driver, DriverStore, DriverS3); err != nil {
		return err
	}
	if c.Store.Driver == DriverPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres driver")
	}
	if c.RawExtract.Driver == DriverS3 && c.RawExtract.Bucket == "" {
		return fmt.Errorf("rawextract.bucket is required for the s3 driver")
	}
	if c.Scheduler.Delay <= 0 {
		return fmt.Errorf("scheduler.delay must be positive")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported %s %q (expected one of %s)", key, value, strings.Join(allowed, ", "))
}
