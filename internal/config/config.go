package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Driver        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicBaseURL string
	BasePath      string
}

type ProviderConfig struct {
	BaseURL          string
	APIKey           string
	Organization     string
	Model            string
	Timeout          time.Duration
	ForceTransparent bool
	BreakerFailures  uint32
	BreakerCooldown  time.Duration
}

type GenerationConfig struct {
	// SessionStore selects the session-state backend: memory or redis.
	SessionStore string
	SessionTTL   time.Duration
	InFlightTTL  time.Duration
}

type PersistConfig struct {
	Mode         string
	Stream       string
	MaxAttempts  int
	Backoff      time.Duration
	Timeout      time.Duration
	FetchTimeout time.Duration
	ResyncCron   string
	ResyncBatch  int
	ResyncMinAge time.Duration
}

type WorkerConfig struct {
	Group         string
	Consumer      string
	ClaimInterval time.Duration
	LogLevel      string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Provider         ProviderConfig
	Generation       GenerationConfig
	Persist          PersistConfig
	Worker           WorkerConfig
	AllowCORSOrigins []string
}

const (
	PersistModeInline = "inline"
	PersistModeQueue  = "queue"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("AFTERWON")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Persist.Mode {
	case PersistModeInline, PersistModeQueue:
	default:
		return fmt.Errorf("persist.mode: unsupported value %q", c.Persist.Mode)
	}
	switch c.Generation.SessionStore {
	case SessionStoreMemory, SessionStoreRedis:
	default:
		return fmt.Errorf("generation.sessionstore: unsupported value %q", c.Generation.SessionStore)
	}
	if c.Persist.Mode == PersistModeQueue && c.Generation.SessionStore != SessionStoreRedis {
		return fmt.Errorf("persist.mode queue requires generation.sessionstore redis")
	}
	if c.Persist.MaxAttempts < 1 {
		return fmt.Errorf("persist.maxattempts must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 3001)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "180s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.maxbodybytes", 10<<20)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "afterwon-generations")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.basepath", "./data/blobs")

	v.SetDefault("provider.baseurl", "https://api.openai.com")
	v.SetDefault("provider.apikey", "")
	v.SetDefault("provider.organization", "")
	v.SetDefault("provider.model", "gpt-image-1")
	v.SetDefault("provider.timeout", "120s")
	v.SetDefault("provider.forcetransparent", true)
	v.SetDefault("provider.breakerfailures", 5)
	v.SetDefault("provider.breakercooldown", "30s")

	v.SetDefault("generation.sessionstore", SessionStoreMemory)
	v.SetDefault("generation.sessionttl", "24h")
	v.SetDefault("generation.inflightttl", "5m")

	v.SetDefault("persist.mode", PersistModeInline)
	v.SetDefault("persist.stream", "assets:persist")
	v.SetDefault("persist.maxattempts", 3)
	v.SetDefault("persist.backoff", "2s")
	v.SetDefault("persist.timeout", "3m")
	v.SetDefault("persist.fetchtimeout", "30s")
	v.SetDefault("persist.resynccron", "0 */15 * * * *")
	v.SetDefault("persist.resyncbatch", 20)
	v.SetDefault("persist.resyncminage", "10m")

	v.SetDefault("worker.group", "asset-persisters")
	v.SetDefault("worker.consumer", "worker-1")
	v.SetDefault("worker.claiminterval", "30s")
	v.SetDefault("worker.loglevel", "info")

	v.SetDefault("allowcorsorigins", []string{})
}
