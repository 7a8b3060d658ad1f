package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	AutoMigrate bool

	// ServiceAPIKey guards every API route when set.
	ServiceAPIKey string

	Auth    AuthConfig
	Redis   RedisConfig
	Storage StorageConfig

	RateLimitRPS        float64
	RateLimitBurst      int
	RateLimitTrustProxy bool
}

type AuthConfig struct {
	URL              string
	AnonKey          string
	JWTSecret        string
	ResetRedirect    string
	BootstrapTimeout time.Duration
	RefreshMargin    time.Duration
	ResolveTimeout   time.Duration
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SessionKey string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_KEY", "default")
	v.SetDefault("STORAGE_BUCKET", "avatars")
	v.SetDefault("STORAGE_USE_SSL", false)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	v.SetDefault("RATE_LIMIT_TRUST_PROXY", false)

	return &Config{
		Port:        v.GetString("PORT"),
		Env:         v.GetString("ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		AutoMigrate: v.GetBool("AUTO_MIGRATE"),

		ServiceAPIKey: v.GetString("SERVICE_API_KEY"),

		Auth: AuthConfig{
			URL:              getEnvOrPanic(v, "AUTH_URL"),
			AnonKey:          getEnvOrPanic(v, "AUTH_ANON_KEY"),
			JWTSecret:        v.GetString("AUTH_JWT_SECRET"),
			ResetRedirect:    v.GetString("PASSWORD_RESET_REDIRECT"),
			BootstrapTimeout: getDuration(v, "BOOTSTRAP_TIMEOUT", 5*time.Second),
			RefreshMargin:    getDuration(v, "REFRESH_MARGIN", time.Minute),
			ResolveTimeout:   getDuration(v, "RESOLVE_TIMEOUT", 10*time.Second),
		},

		Redis: RedisConfig{
			Addr:       v.GetString("REDIS_ADDR"),
			Password:   v.GetString("REDIS_PASSWORD"),
			DB:         v.GetInt("REDIS_DB"),
			SessionKey: v.GetString("SESSION_KEY"),
		},

		Storage: StorageConfig{
			Endpoint:  v.GetString("STORAGE_ENDPOINT"),
			AccessKey: v.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: v.GetString("STORAGE_SECRET_KEY"),
			Bucket:    v.GetString("STORAGE_BUCKET"),
			UseSSL:    v.GetBool("STORAGE_USE_SSL"),
			PublicURL: v.GetString("STORAGE_PUBLIC_URL"),
		},

		RateLimitRPS:        v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:      v.GetInt("RATE_LIMIT_BURST"),
		RateLimitTrustProxy: v.GetBool("RATE_LIMIT_TRUST_PROXY"),
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func (c *Config) StorageEnabled() bool {
	return c.Storage.Endpoint != "" && c.Storage.AccessKey != "" && c.Storage.SecretKey != ""
}

// getDuration parses values like "5s" or "1m". Bad or missing values fall
// back to def.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := v.GetString(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvOrPanic(v *viper.Viper, key string) string {
	value := v.GetString(key)
	if value == "" {
		panic("required environment variable not set: " + key)
	}
	return value
}
