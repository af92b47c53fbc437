package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-chat/internal/clients/chatapi"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/envutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/gcp"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/bus"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type PushConfig struct {
	Transport     string `yaml:"transport"`
	ChannelPrefix string `yaml:"channel_prefix"`
	RedisAddr     string `yaml:"redis_addr"`
	NATSURL       string `yaml:"nats_url"`
	NATSStream    string `yaml:"nats_stream"`
	WebSocketURL  string `yaml:"websocket_url"`
}

type StorageConfig struct {
	Mode          string `yaml:"mode"`
	EmulatorHost  string `yaml:"emulator_host"`
	Bucket        string `yaml:"bucket"`
	CDNDomain     string `yaml:"cdn_domain"`
	PublicBaseURL string `yaml:"public_base_url"`
	Credentials   string `yaml:"credentials"`
}

type UploadConfig struct {
	PartConcurrency int    `yaml:"part_concurrency"`
	FileConcurrency int    `yaml:"file_concurrency"`
	KeyPrefix       string `yaml:"key_prefix"`
}

// Config is layered: defaults, then the optional YAML file, then .env, then
// the process environment.
type Config struct {
	LogMode     string        `yaml:"log_mode"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Timezone    string        `yaml:"timezone"`
	API         APIConfig     `yaml:"api"`
	Push        PushConfig    `yaml:"push"`
	Storage     StorageConfig `yaml:"storage"`
	Upload      UploadConfig  `yaml:"upload"`

	// StorageModeCompatFallback is set when the mode was inferred from
	// STORAGE_EMULATOR_HOST rather than configured.
	StorageModeCompatFallback bool `yaml:"-"`

	Otel observability.OtelConfig `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		LogMode: "development",
		API: APIConfig{
			RPS:        10,
			Burst:      20,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Push: PushConfig{
			Transport:  "redis",
			RedisAddr:  "localhost:6379",
			NATSURL:    "nats://127.0.0.1:4222",
			NATSStream: "CHAT_EVENTS",
		},
		Upload: UploadConfig{
			PartConcurrency: 4,
			FileConcurrency: 4,
			KeyPrefix:       "chat-media",
		},
	}
}

// LoadConfig reads path (if non-empty) and the environment. A missing .env
// file is not an error; a missing YAML file that was asked for is.
func LoadConfig(log *logger.Logger, path string) (Config, error) {
	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		log.Info("Loaded config file", "path", path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Ignoring unreadable .env file", "error", err)
	}

	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.MetricsAddr = envutil.String("METRICS_ADDR", cfg.MetricsAddr)
	cfg.Timezone = envutil.String("CHAT_TIMEZONE", cfg.Timezone)

	cfg.API.BaseURL = envutil.String("CHAT_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Token = envutil.String("CHAT_API_TOKEN", cfg.API.Token)
	cfg.API.RPS = envutil.Float("CHAT_API_RPS", cfg.API.RPS)
	cfg.API.Burst = envutil.Int("CHAT_API_BURST", cfg.API.Burst)
	cfg.API.Timeout = envutil.Duration("CHAT_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.MaxRetries = envutil.Int("CHAT_API_MAX_RETRIES", cfg.API.MaxRetries)

	cfg.Push.Transport = envutil.String("PUSH_TRANSPORT", cfg.Push.Transport)
	cfg.Push.ChannelPrefix = envutil.String("REDIS_CHANNEL_PREFIX", cfg.Push.ChannelPrefix)
	cfg.Push.RedisAddr = envutil.String("REDIS_ADDR", cfg.Push.RedisAddr)
	cfg.Push.NATSURL = envutil.String("NATS_URL", cfg.Push.NATSURL)
	cfg.Push.NATSStream = envutil.String("NATS_STREAM", cfg.Push.NATSStream)
	cfg.Push.WebSocketURL = envutil.String("PUSH_WS_URL", cfg.Push.WebSocketURL)

	cfg.Storage.Mode = envutil.String("OBJECT_STORAGE_MODE", cfg.Storage.Mode)
	cfg.Storage.EmulatorHost = envutil.String("STORAGE_EMULATOR_HOST", cfg.Storage.EmulatorHost)
	cfg.Storage.Bucket = envutil.String("CHAT_MEDIA_GCS_BUCKET_NAME", cfg.Storage.Bucket)
	cfg.Storage.CDNDomain = envutil.String("CHAT_MEDIA_CDN_DOMAIN", cfg.Storage.CDNDomain)
	cfg.Storage.PublicBaseURL = envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", cfg.Storage.PublicBaseURL)
	cfg.Storage.Credentials = envutil.String("GOOGLE_APPLICATION_CREDENTIALS_JSON",
		envutil.String("GOOGLE_APPLICATION_CREDENTIALS", cfg.Storage.Credentials))
	// An unknown mode is kept as-is and rejected when storage is wired.
	if mode, fallback, err := gcp.ParseObjectStorageMode(cfg.Storage.Mode, cfg.Storage.EmulatorHost); err == nil {
		cfg.Storage.Mode = string(mode)
		cfg.StorageModeCompatFallback = fallback
	}

	cfg.Upload.PartConcurrency = envutil.Int("UPLOAD_PART_CONCURRENCY", cfg.Upload.PartConcurrency)
	cfg.Upload.FileConcurrency = envutil.Int("UPLOAD_FILE_CONCURRENCY", cfg.Upload.FileConcurrency)
	cfg.Upload.KeyPrefix = envutil.String("UPLOAD_KEY_PREFIX", cfg.Upload.KeyPrefix)

	cfg.Otel = observability.OtelConfigFromEnv()
	return cfg, nil
}

// Location resolves Timezone, falling back to the local zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) ChatAPI() chatapi.Config {
	return chatapi.Config{
		BaseURL:    c.API.BaseURL,
		Token:      c.API.Token,
		RPS:        c.API.RPS,
		Burst:      c.API.Burst,
		Timeout:    c.API.Timeout,
		MaxRetries: c.API.MaxRetries,
	}
}

func (c Config) BusOptions() bus.Options {
	return bus.Options{
		Transport:     c.Push.Transport,
		ChannelPrefix: c.Push.ChannelPrefix,
		RedisAddr:     c.Push.RedisAddr,
		NATSURL:       c.Push.NATSURL,
		NATSStream:    c.Push.NATSStream,
		WebSocketURL:  c.Push.WebSocketURL,
		AuthToken:     c.API.Token,
	}
}

func (c Config) UploaderOptions() []upload.Option {
	return []upload.Option{
		upload.WithPartConcurrency(c.Upload.PartConcurrency),
		upload.WithFileConcurrency(c.Upload.FileConcurrency),
		upload.WithKeyPrefix(c.Upload.KeyPrefix),
	}
}
