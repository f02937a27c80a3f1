package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	R2        R2Config
	Suno      SunoConfig
	FoxAI     FoxAIConfig
	MusicGen  MusicGenConfig
	Media     MediaConfig
	Music     MusicConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	ApiDomain   string
	GatewayAuth bool // trust X-User-* headers from a ForwardAuth gateway
	Concurrency int  // story jobs processed at once
}

type LogConfig struct {
	Level      string
	Format     string // "json" or "console"
	File       string // empty disables file output
	MaxSizeMB  int
	MaxBackups int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	ClientID string
	Issuer   string
}

type RateLimitConfig struct {
	StoriesPerHour int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Endpoint        string // overrides the account endpoint, e.g. a local S3 stand-in
}

// SunoConfig configures the primary hosted music backend.
type SunoConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	AudioDir string
}

// FoxAIConfig configures the fallback hosted music backend.
type FoxAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	AudioDir string
}

// MusicGenConfig configures the local MusicGen inference sidecar.
type MusicGenConfig struct {
	ServiceURL string
	Model      string
	AudioDir   string
}

type MediaConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

// MusicConfig holds backend selection and the retry policy applied around it.
type MusicConfig struct {
	Backend         string
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
	AuthCooldown    time.Duration
	TransportRetry  int
	StartTimeStore  string // "memory" or "redis"
	StartTimeExpiry time.Duration
}

type PipelineConfig struct {
	OutputRoot string
	Publish    bool
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("GROQ_API_KEY")
	readSecret("SUNO_API_KEY")
	readSecret("FOXAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	bindEnv(v)
	setDefaults(v)

	// config file is optional
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			ApiDomain:   v.GetString("server.api_domain"),
			GatewayAuth: v.GetBool("server.gateway_auth"),
			Concurrency: v.GetInt("server.concurrency"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		RateLimit: RateLimitConfig{
			StoriesPerHour: v.GetInt("ratelimit.stories_per_hour"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Endpoint:        v.GetString("r2.endpoint"),
		},
		Suno: SunoConfig{
			APIKey:   v.GetString("suno.api_key"),
			BaseURL:  v.GetString("suno.base_url"),
			Model:    v.GetString("suno.model"),
			AudioDir: v.GetString("suno.audio_dir"),
		},
		FoxAI: FoxAIConfig{
			APIKey:   v.GetString("foxai.api_key"),
			BaseURL:  v.GetString("foxai.base_url"),
			Model:    v.GetString("foxai.model"),
			AudioDir: v.GetString("foxai.audio_dir"),
		},
		MusicGen: MusicGenConfig{
			ServiceURL: v.GetString("musicgen.service_url"),
			Model:      v.GetString("musicgen.model"),
			AudioDir:   v.GetString("musicgen.audio_dir"),
		},
		Media: MediaConfig{
			ServiceURL: v.GetString("media.service_url"),
			Timeout:    v.GetInt("media.timeout"),
		},
		Music: MusicConfig{
			Backend:         v.GetString("music.backend"),
			MaxRetries:      v.GetInt("music.max_retries"),
			BaseDelay:       v.GetDuration("music.base_delay"),
			MaxDelay:        v.GetDuration("music.max_delay"),
			PollInterval:    v.GetDuration("music.poll_interval"),
			PollTimeout:     v.GetDuration("music.poll_timeout"),
			AuthCooldown:    v.GetDuration("music.auth_cooldown"),
			TransportRetry:  v.GetInt("music.transport_retries"),
			StartTimeStore:  v.GetString("music.start_time_store"),
			StartTimeExpiry: v.GetDuration("music.start_time_expiry"),
		},
		Pipeline: PipelineConfig{
			OutputRoot: v.GetString("pipeline.output_root"),
			Publish:    v.GetBool("pipeline.publish"),
		},
	}

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("server.gateway_auth", "GATEWAY_AUTH")
	_ = v.BindEnv("server.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("log.file", "LOG_FILE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("r2.endpoint", "R2_ENDPOINT")
	_ = v.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = v.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = v.BindEnv("foxai.api_key", "FOXAI_API_KEY")
	_ = v.BindEnv("foxai.base_url", "FOXAI_BASE_URL")
	_ = v.BindEnv("musicgen.service_url", "MUSICGEN_SERVICE_URL")
	_ = v.BindEnv("media.service_url", "MEDIA_SERVICE_URL")
	_ = v.BindEnv("media.timeout", "MEDIA_SERVICE_TIMEOUT")
	_ = v.BindEnv("music.backend", "MUSIC_BACKEND")
	_ = v.BindEnv("music.max_retries", "MUSIC_MAX_RETRIES")
	_ = v.BindEnv("music.start_time_store", "MUSIC_START_TIME_STORE")
	_ = v.BindEnv("pipeline.output_root", "PIPELINE_OUTPUT_ROOT")
	_ = v.BindEnv("pipeline.publish", "PIPELINE_PUBLISH")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.gateway_auth", false)
	v.SetDefault("server.concurrency", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("ratelimit.stories_per_hour", 10)

	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	v.SetDefault("suno.base_url", "https://apibox.erweima.ai/api/v1")
	v.SetDefault("suno.model", "V3_5")
	v.SetDefault("suno.audio_dir", os.TempDir()+"/studio/music")
	v.SetDefault("foxai.base_url", "https://api.sunoaiapi.com/api/v1")
	v.SetDefault("foxai.model", "chirp-v3-5")
	v.SetDefault("foxai.audio_dir", os.TempDir()+"/studio/music")
	v.SetDefault("musicgen.service_url", "http://localhost:8085")
	v.SetDefault("musicgen.model", "facebook/musicgen-small")
	v.SetDefault("musicgen.audio_dir", os.TempDir()+"/studio/music")

	v.SetDefault("media.service_url", "http://localhost:8084")
	v.SetDefault("media.timeout", 300)

	v.SetDefault("music.backend", "suno")
	v.SetDefault("music.max_retries", 5)
	v.SetDefault("music.base_delay", time.Second)
	v.SetDefault("music.max_delay", 5*time.Second)
	v.SetDefault("music.poll_interval", 5*time.Second)
	v.SetDefault("music.poll_timeout", 10*time.Minute)
	v.SetDefault("music.auth_cooldown", 2*time.Second)
	v.SetDefault("music.transport_retries", 5)
	v.SetDefault("music.start_time_store", "memory")
	v.SetDefault("music.start_time_expiry", 6*time.Hour)

	v.SetDefault("pipeline.output_root", os.TempDir()+"/studio/output")
	v.SetDefault("pipeline.publish", false)
}
