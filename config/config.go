package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	AdminUsernames     []string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Redis for the prompt cache; empty host disables it
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Engine
	MaxTakeLength     int
	PromptCacheTTLSec int
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set in config or environment")

// setting maps one config.json key onto its environment variable and default.
type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{"app.AppPort", "APP_PORT", "8080"},
	{"app.JWTSecret", "JWT_SECRET", ""},
	{"app.RateLimitPerMinute", "RATE_LIMIT_PER_MINUTE", 60},
	{"app.AllowedOrigins", "CORS_ALLOWED_ORIGINS", []string{"*"}},
	{"app.AdminUsernames", "ADMIN_USERNAMES", []string{}},
	{"database.Driver", "DB_DRIVER", "mysql"},
	{"database.DatabaseURI", "DATABASE_URI", ""},
	{"database.DBHost", "DB_HOST", "127.0.0.1"},
	{"database.DBPort", "DB_PORT", "3306"},
	{"database.DBUser", "DB_USER", "root"},
	{"database.DBPassword", "DB_PASSWORD", ""},
	{"database.DBName", "DB_NAME", "dailytake"},
	{"gin.Mode", "GIN_MODE", "release"},
	{"gin.LogPath", "GIN_PATH", "logs/go_gin.log"},
	{"redis.RedisHost", "REDIS_HOST", ""},
	{"redis.RedisPort", "REDIS_PORT", 6379},
	{"redis.RedisDB", "REDIS_DB", 0},
	{"redis.RedisPassword", "REDIS_PASSWORD", ""},
	{"log.Level", "LOG_LEVEL", "info"},
	{"log.Path", "LOG_PATH", ""},
	{"log.MaxSizeMB", "LOG_MAX_SIZE_MB", 100},
	{"log.MaxBackups", "LOG_MAX_BACKUPS", 3},
	{"log.MaxAgeDays", "LOG_MAX_AGE_DAYS", 7},
	{"log.Compress", "LOG_COMPRESS", false},
	{"engine.MaxTakeLength", "MAX_TAKE_LENGTH", 2000},
	{"engine.PromptCacheTTLSec", "PROMPT_CACHE_TTL_SEC", 3600},
}

// Load reads config/config.json relative to the working directory.
func Load() (AppConfig, error) {
	return LoadFrom("config")
}

// LoadFrom reads dir/config.json when present.
// Precedence: environment variables -> config.json -> defaults.
func LoadFrom(dir string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return AppConfig{}, err
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	c := AppConfig{
		AppPort:            v.GetString("app.AppPort"),
		JWTSecret:          v.GetString("app.JWTSecret"),
		RateLimitPerMinute: v.GetInt("app.RateLimitPerMinute"),
		AllowedOrigins:     readList(v, "app.AllowedOrigins"),
		AdminUsernames:     readList(v, "app.AdminUsernames"),
		DBDriver:           strings.ToLower(v.GetString("database.Driver")),
		DatabaseURI:        v.GetString("database.DatabaseURI"),
		DBHost:             v.GetString("database.DBHost"),
		DBPort:             v.GetString("database.DBPort"),
		DBUser:             v.GetString("database.DBUser"),
		DBPassword:         v.GetString("database.DBPassword"),
		DBName:             v.GetString("database.DBName"),
		GinMode:            v.GetString("gin.Mode"),
		GinPath:            v.GetString("gin.LogPath"),
		RedisHost:          v.GetString("redis.RedisHost"),
		RedisPort:          v.GetInt("redis.RedisPort"),
		RedisDB:            v.GetInt("redis.RedisDB"),
		RedisPassword:      v.GetString("redis.RedisPassword"),
		LogLevel:           v.GetString("log.Level"),
		LogPath:            v.GetString("log.Path"),
		LogMaxSizeMB:       v.GetInt("log.MaxSizeMB"),
		LogMaxBackups:      v.GetInt("log.MaxBackups"),
		LogMaxAgeDays:      v.GetInt("log.MaxAgeDays"),
		LogCompress:        v.GetBool("log.Compress"),
		MaxTakeLength:      v.GetInt("engine.MaxTakeLength"),
		PromptCacheTTLSec:  v.GetInt("engine.PromptCacheTTLSec"),
	}
	if err := c.validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

func (c AppConfig) validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.RateLimitPerMinute < 0 || c.MaxTakeLength < 0 || c.PromptCacheTTLSec < 0 {
		return errors.New("numeric limits must not be negative")
	}
	return nil
}

// RedisAddr returns host:port, or "" when redis is disabled.
func (c AppConfig) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// PromptCacheTTL is the prompt cache lifetime.
func (c AppConfig) PromptCacheTTL() time.Duration {
	return time.Duration(c.PromptCacheTTLSec) * time.Second
}

// IsAdmin reports whether username is listed in AdminUsernames.
func (c AppConfig) IsAdmin(username string) bool {
	for _, name := range c.AdminUsernames {
		if strings.EqualFold(name, username) {
			return true
		}
	}
	return false
}

// readList accepts a JSON array from config.json or a comma separated env value.
func readList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return splitAndTrim(raw)
	}
	return v.GetStringSlice(key)
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
