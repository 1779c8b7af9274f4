package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SettingsCacheTTL      time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	SettingsMaxAttempts   int
	SettingsRetryBackoff  time.Duration
	HistoryPageSize       int
	LogLevel              string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SettingsCacheTTL:      time.Duration(getPositiveInt("SETTINGS_CACHE_TTL_SECONDS", 30)) * time.Second,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		SettingsMaxAttempts:   getPositiveInt("SETTINGS_MAX_ATTEMPTS", 5),
		SettingsRetryBackoff:  time.Duration(getPositiveInt("SETTINGS_RETRY_BACKOFF_MS", 25)) * time.Millisecond,
		HistoryPageSize:       getPositiveInt("HISTORY_PAGE_SIZE", 200),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getPositiveInt falls back when the value is missing, malformed or below 1.
func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
