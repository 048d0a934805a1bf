package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	SecretEncryptionKey string
	AdminName           string
	AdminEmail          string
	AdminPassword       string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	AIEndpoint          string
	AIAPIKey            string
	AIModel             string
	AIMaxTokens         int
	AITimeout           time.Duration
	WebhookTimeout      time.Duration
	ErrorStreamBuffer   int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://faultline:faultline@db:5432/faultline?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "./migrations"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		SecretEncryptionKey: GetString("SECRET_ENCRYPTION_KEY", "supersecuresecret"),
		AdminName:           GetString("ADMIN_NAME", "Admin User"),
		AdminEmail:          GetString("ADMIN_EMAIL", ""),
		AdminPassword:       GetString("ADMIN_PASSWORD", ""),
		AccessTokenTTL:      time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:     time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,
		AIEndpoint:          GetString("AI_API_ENDPOINT", "https://api.deepseek.com/v1/chat/completions"),
		AIAPIKey:            GetString("AI_API_KEY", ""),
		AIModel:             GetString("AI_MODEL", "deepseek-chat"),
		AIMaxTokens:         GetInt("AI_MAX_TOKENS", 150),
		AITimeout:           time.Duration(GetInt("AI_TIMEOUT_SECONDS", 30)) * time.Second,
		WebhookTimeout:      time.Duration(GetInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,
		ErrorStreamBuffer:   GetInt("WS_ERROR_BUFFER", 100),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
