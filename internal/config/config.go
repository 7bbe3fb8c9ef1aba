package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigins        []string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ReportCacheTTLSeconds int
	IdempotencyTTLMinutes int
	TrustClientPrice      bool
	DistributionPolicy    string
	OpnameSurplusPolicy   string
	LogLevel              string
	AppEnv                string
}

func Load() Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "http://127.0.0.1:3000")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 10080)
	v.SetDefault("REPORT_CACHE_TTL_SECONDS", 30)
	v.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)
	v.SetDefault("TRUST_CLIENT_PRICE", true)
	v.SetDefault("DISTRIBUTION_POLICY", "all_or_nothing")
	v.SetDefault("OPNAME_SURPLUS_POLICY", "accept")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "production")

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigins:        splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		MigrateOnStart:        v.GetBool("MIGRATE_ON_START"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 10080),
		ReportCacheTTLSeconds: positiveOr(v.GetInt("REPORT_CACHE_TTL_SECONDS"), 30),
		IdempotencyTTLMinutes: positiveOr(v.GetInt("IDEMPOTENCY_TTL_MINUTES"), 1440),
		TrustClientPrice:      v.GetBool("TRUST_CLIENT_PRICE"),
		DistributionPolicy:    strings.ToLower(strings.TrimSpace(v.GetString("DISTRIBUTION_POLICY"))),
		OpnameSurplusPolicy:   strings.ToLower(strings.TrimSpace(v.GetString("OPNAME_SURPLUS_POLICY"))),
		LogLevel:              v.GetString("LOG_LEVEL"),
		AppEnv:                v.GetString("APP_ENV"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func positiveOr(n, fallback int) int {
	if n < 1 {
		return fallback
	}
	return n
}
