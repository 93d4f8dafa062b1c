package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Groq      GroqConfig
	Media     MediaConfig
	Ledger    LedgerConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Pipeline  PipelineConfig
	Credits   CreditsConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	PipelinePerHour int
	RenderPerHour   int
	AssetPerHour    int
	ScenePerMin     int
}

// GroqConfig configures the LLM endpoint used for script decomposition.
type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// MediaConfig configures the external image/video generation job API.
type MediaConfig struct {
	APIKey      string
	BaseURL     string
	ImageEngine string
	VideoEngine string
	Timeout     int // seconds
}

// LedgerConfig configures the external credit account service.
type LedgerConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

// PipelineConfig tunes the orchestrator and its pollers.
type PipelineConfig struct {
	MaxParallel      int // asset fan-out worker pool size
	SceneDurationSec int // nominal seconds per scene beat
	PollBaseSec      int // initial poll interval
	PollMaxSec       int // backoff ceiling
	PollDeadlineSec  int // hard deadline before a job is timed out
}

// CreditsConfig holds the fixed per-job unit costs.
type CreditsConfig struct {
	ImageCost int
	VideoCost int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GROQ_API_KEY")
	readSecret("MEDIA_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = viper.BindEnv("groq.model", "GROQ_MODEL")
	_ = viper.BindEnv("media.api_key", "MEDIA_API_KEY")
	_ = viper.BindEnv("media.base_url", "MEDIA_BASE_URL")
	_ = viper.BindEnv("media.image_engine", "MEDIA_IMAGE_ENGINE")
	_ = viper.BindEnv("media.video_engine", "MEDIA_VIDEO_ENGINE")
	_ = viper.BindEnv("media.timeout", "MEDIA_TIMEOUT")
	_ = viper.BindEnv("ledger.service_url", "LEDGER_SERVICE_URL")
	_ = viper.BindEnv("ledger.timeout", "LEDGER_TIMEOUT")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("pipeline.max_parallel", "PIPELINE_MAX_PARALLEL")
	_ = viper.BindEnv("pipeline.scene_duration_sec", "PIPELINE_SCENE_DURATION_SEC")
	_ = viper.BindEnv("pipeline.poll_base_sec", "PIPELINE_POLL_BASE_SEC")
	_ = viper.BindEnv("pipeline.poll_max_sec", "PIPELINE_POLL_MAX_SEC")
	_ = viper.BindEnv("pipeline.poll_deadline_sec", "PIPELINE_POLL_DEADLINE_SEC")
	_ = viper.BindEnv("credits.image_cost", "CREDITS_IMAGE_COST")
	_ = viper.BindEnv("credits.video_cost", "CREDITS_VIDEO_COST")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.pipeline_per_hour", 10)
	viper.SetDefault("ratelimit.render_per_hour", 20)
	viper.SetDefault("ratelimit.asset_per_hour", 60)
	viper.SetDefault("ratelimit.scene_per_min", 60)

	// Groq defaults
	viper.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	viper.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Media job API defaults
	viper.SetDefault("media.base_url", "https://api.mediaforge.dev")
	viper.SetDefault("media.image_engine", "flux-schnell")
	viper.SetDefault("media.video_engine", "kling-v1")
	viper.SetDefault("media.timeout", 30)

	// Ledger defaults
	viper.SetDefault("ledger.timeout", 15)

	// Pipeline defaults
	viper.SetDefault("pipeline.max_parallel", 4)
	viper.SetDefault("pipeline.scene_duration_sec", 8)
	viper.SetDefault("pipeline.poll_base_sec", 5)
	viper.SetDefault("pipeline.poll_max_sec", 40)
	viper.SetDefault("pipeline.poll_deadline_sec", 600)

	// Credit unit costs
	viper.SetDefault("credits.image_cost", 10)
	viper.SetDefault("credits.video_cost", 50)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			PipelinePerHour: viper.GetInt("ratelimit.pipeline_per_hour"),
			RenderPerHour:   viper.GetInt("ratelimit.render_per_hour"),
			AssetPerHour:    viper.GetInt("ratelimit.asset_per_hour"),
			ScenePerMin:     viper.GetInt("ratelimit.scene_per_min"),
		},
		Groq: GroqConfig{
			APIKey:  viper.GetString("groq.api_key"),
			BaseURL: viper.GetString("groq.base_url"),
			Model:   viper.GetString("groq.model"),
		},
		Media: MediaConfig{
			APIKey:      viper.GetString("media.api_key"),
			BaseURL:     viper.GetString("media.base_url"),
			ImageEngine: viper.GetString("media.image_engine"),
			VideoEngine: viper.GetString("media.video_engine"),
			Timeout:     viper.GetInt("media.timeout"),
		},
		Ledger: LedgerConfig{
			ServiceURL: viper.GetString("ledger.service_url"),
			Timeout:    viper.GetInt("ledger.timeout"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Pipeline: PipelineConfig{
			MaxParallel:      viper.GetInt("pipeline.max_parallel"),
			SceneDurationSec: viper.GetInt("pipeline.scene_duration_sec"),
			PollBaseSec:      viper.GetInt("pipeline.poll_base_sec"),
			PollMaxSec:       viper.GetInt("pipeline.poll_max_sec"),
			PollDeadlineSec:  viper.GetInt("pipeline.poll_deadline_sec"),
		},
		Credits: CreditsConfig{
			ImageCost: viper.GetInt("credits.image_cost"),
			VideoCost: viper.GetInt("credits.video_cost"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
