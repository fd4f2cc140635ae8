package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LogoSourceFile  = "file"
	LogoSourceMinio = "minio"
)

type Config struct {
	API       APIConfig
	Fetch     FetchConfig
	Logo      LogoConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr            string
	Key             string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type FetchConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	MaxPixels int64
	UserAgent string
}

type LogoConfig struct {
	Source    string
	Path      string
	ObjectKey string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Capacity      int
	Window        time.Duration
	SubjectHeader string
	KeyPrefix     string
}

type UsageConfig struct {
	DSN string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

var defaults = map[string]any{
	"api.addr":             ":8080",
	"api.key":              "",
	"api.log_level":        "info",
	"api.read_timeout":     "15s",
	"api.write_timeout":    "60s",
	"api.idle_timeout":     "60s",
	"api.shutdown_timeout": "10s",

	"fetch.timeout":    "20s",
	"fetch.max_bytes":  25 << 20,
	"fetch.max_pixels": 0x3FFF * 0x3FFF,
	"fetch.user_agent": "pixelmask/1.0",

	"logo.source":     LogoSourceFile,
	"logo.path":       "public/logo.png",
	"logo.object_key": "logo.png",

	"storage.endpoint":   "localhost:9000",
	"storage.access_key": "minioadmin",
	"storage.secret_key": "minioadmin",
	"storage.bucket":     "pixelmask-assets",
	"storage.region":     "us-east-1",
	"storage.use_ssl":    false,

	"ratelimit.enabled":        false,
	"ratelimit.redis_addr":     "localhost:6379",
	"ratelimit.redis_password": "",
	"ratelimit.redis_db":       0,
	"ratelimit.capacity":       60,
	"ratelimit.window":         "1m",
	"ratelimit.subject_header": "X-User-ID",
	"ratelimit.key_prefix":     "pixelmask:ratelimit",

	"usage.dsn": "",

	"tracing.service_name":  "pixelmask-api",
	"tracing.exporter":      "none",
	"tracing.otlp_endpoint": "",
	"tracing.otlp_insecure": true,
	"tracing.sample_ratio":  1.0,
}

// envAliases keeps the short variable names the service has always read.
var envAliases = map[string]string{
	"api.key":   "API_KEY",
	"logo.path": "LOGO_PATH",
}

// Load reads defaults, an optional config file named by PIXELMASK_CONFIG and
// PIXELMASK_* environment variables, in increasing priority.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("PIXELMASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "PIXELMASK_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.BindEnv("config"); err != nil {
		return Config{}, fmt.Errorf("bind env config: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		API: APIConfig{
			Addr:            v.GetString("api.addr"),
			Key:             v.GetString("api.key"),
			LogLevel:        v.GetString("api.log_level"),
			ReadTimeout:     v.GetDuration("api.read_timeout"),
			WriteTimeout:    v.GetDuration("api.write_timeout"),
			IdleTimeout:     v.GetDuration("api.idle_timeout"),
			ShutdownTimeout: v.GetDuration("api.shutdown_timeout"),
		},
		Fetch: FetchConfig{
			Timeout:   v.GetDuration("fetch.timeout"),
			MaxBytes:  v.GetInt64("fetch.max_bytes"),
			MaxPixels: v.GetInt64("fetch.max_pixels"),
			UserAgent: v.GetString("fetch.user_agent"),
		},
		Logo: LogoConfig{
			Source:    strings.ToLower(strings.TrimSpace(v.GetString("logo.source"))),
			Path:      v.GetString("logo.path"),
			ObjectKey: v.GetString("logo.object_key"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			Bucket:    v.GetString("storage.bucket"),
			Region:    v.GetString("storage.region"),
			UseSSL:    v.GetBool("storage.use_ssl"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("ratelimit.enabled"),
			RedisAddr:     v.GetString("ratelimit.redis_addr"),
			RedisPassword: v.GetString("ratelimit.redis_password"),
			RedisDB:       v.GetInt("ratelimit.redis_db"),
			Capacity:      v.GetInt("ratelimit.capacity"),
			Window:        v.GetDuration("ratelimit.window"),
			SubjectHeader: v.GetString("ratelimit.subject_header"),
			KeyPrefix:     v.GetString("ratelimit.key_prefix"),
		},
		Usage: UsageConfig{
			DSN: v.GetString("usage.dsn"),
		},
		Tracing: TracingConfig{
			ServiceName:  v.GetString("tracing.service_name"),
			Exporter:     v.GetString("tracing.exporter"),
			OTLPEndpoint: v.GetString("tracing.otlp_endpoint"),
			OTLPInsecure: v.GetBool("tracing.otlp_insecure"),
			SampleRatio:  v.GetFloat64("tracing.sample_ratio"),
		},
	}

	switch cfg.Logo.Source {
	case LogoSourceFile:
		if strings.TrimSpace(cfg.Logo.Path) == "" {
			return Config{}, fmt.Errorf("logo.path is required for logo source %q", LogoSourceFile)
		}
		abs, err := filepath.Abs(cfg.Logo.Path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve logo path %s: %w", cfg.Logo.Path, err)
		}
		cfg.Logo.Path = abs
	case LogoSourceMinio:
		if strings.TrimSpace(cfg.Logo.ObjectKey) == "" {
			return Config{}, fmt.Errorf("logo.object_key is required for logo source %q", LogoSourceMinio)
		}
	default:
		return Config{}, fmt.Errorf("unsupported logo source: %s", cfg.Logo.Source)
	}

	if cfg.Fetch.MaxPixels <= 0 {
		return Config{}, fmt.Errorf("fetch.max_pixels must be positive")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Capacity <= 0 {
			return Config{}, fmt.Errorf("ratelimit.capacity must be positive")
		}
		if cfg.RateLimit.Window <= 0 {
			return Config{}, fmt.Errorf("ratelimit.window must be positive")
		}
	}

	return cfg, nil
}
