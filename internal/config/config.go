package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database        DatabaseConfig
	Store           StoreConfig
	Server          ServerConfig
	Auth            AuthConfig
	RateLimit       RateLimitConfig
	AccountSecurity AccountSecurityConfig
	CSRF            CSRFConfig
	Threat          ThreatConfig
	Events          EventsConfig
	Alerting        AlertingConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// StoreConfig configures the shared security store (Redis protocol).
// OpTimeout bounds every individual store call so a slow store cannot
// stall the authentication path.
type StoreConfig struct {
	Addr      string
	Password  string
	DB        int
	OpTimeout time.Duration
	KeyPrefix string
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	CookieDomain   string
	MetricsEnabled bool
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	AdminTOTPRequired  bool
	TOTPIssuer         string
	// TOTPEncryptionKey seals admin TOTP secrets at rest. Falls back to
	// the JWT secret when unset; the key material is hashed to the AES-256
	// size before use.
	TOTPEncryptionKey string
}

// RateLimitConfig carries per-tier maxima and windows. The fallback rate
// bounds degraded-mode traffic when the store is unreachable and the
// fail-open tiers switch to the in-process limiter.
type RateLimitConfig struct {
	GlobalMax      int64
	GlobalWindow   time.Duration
	IPMax          int64
	IPWindow       time.Duration
	AccountMax     int64
	AccountWindow  time.Duration
	EndpointMax    int64
	EndpointWindow time.Duration
	FallbackRPS    float64
	FallbackBurst  int
	// EdgeRPM bounds the in-process httprate backstop in front of the
	// store-backed tiers.
	EdgeRPM int
}

type AccountSecurityConfig struct {
	WarningThreshold  int64
	MaxFailedAttempts int64
	FailureWindow     time.Duration
	// LockoutSchedule is indexed by the number of prior lockouts within
	// the history window; the last entry repeats.
	LockoutSchedule []time.Duration
	HistoryWindow   time.Duration
}

type CSRFConfig struct {
	TokenTTL    time.Duration
	CookieName  string
	HeaderName  string
	CookiePath  string
	SingleUse   bool
	BindContext bool
}

type ThreatConfig struct {
	Window        time.Duration
	AutoBlock     bool
	BlockSchedule []time.Duration
	HistoryWindow time.Duration
}

type EventsConfig struct {
	RecentRetention     time.Duration
	ComplianceRetention time.Duration
	AlertWindow         time.Duration
	CriticalThreshold   int64
	ErrorThreshold      int64
	WarningThreshold    int64
	ExportLimit         int
	PurgeInterval       time.Duration
}

type AlertingConfig struct {
	EmailEnabled bool
	FromAddress  string
	ToAddresses  []string
	AWSRegion    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Store: StoreConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			OpTimeout: getEnvAsDuration("STORE_OP_TIMEOUT", 250*time.Millisecond),
			KeyPrefix: getEnv("STORE_KEY_PREFIX", "bastion"),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			AdminTOTPRequired:  getEnvAsBool("ADMIN_TOTP_REQUIRED", env == "production"),
			TOTPIssuer:         getEnv("TOTP_ISSUER", "bastion"),
			TOTPEncryptionKey:  getEnv("TOTP_ENCRYPTION_KEY", jwtSecret),
		},
		RateLimit: RateLimitConfig{
			GlobalMax:      int64(getEnvAsInt("RL_GLOBAL_MAX", 5000)),
			GlobalWindow:   getEnvAsDuration("RL_GLOBAL_WINDOW", 1*time.Minute),
			IPMax:          int64(getEnvAsInt("RL_IP_MAX", 120)),
			IPWindow:       getEnvAsDuration("RL_IP_WINDOW", 1*time.Minute),
			AccountMax:     int64(getEnvAsInt("RL_ACCOUNT_MAX", 60)),
			// The account tier watches a longer horizon than the per-IP
			// tier so distributed attempts against one account still count.
			AccountWindow: getEnvAsDuration("RL_ACCOUNT_WINDOW", 15*time.Minute),
			EndpointMax:    int64(getEnvAsInt("RL_ENDPOINT_MAX", 600)),
			EndpointWindow: getEnvAsDuration("RL_ENDPOINT_WINDOW", 1*time.Minute),
			FallbackRPS:    getEnvAsFloat("RL_FALLBACK_RPS", 50),
			FallbackBurst:  getEnvAsInt("RL_FALLBACK_BURST", 100),
			EdgeRPM:        getEnvAsInt("RL_EDGE_RPM", 300),
		},
		AccountSecurity: AccountSecurityConfig{
			WarningThreshold:  int64(getEnvAsInt("LOCKOUT_WARNING_THRESHOLD", 3)),
			MaxFailedAttempts: int64(getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5)),
			FailureWindow:     getEnvAsDuration("LOCKOUT_FAILURE_WINDOW", 30*time.Minute),
			LockoutSchedule: []time.Duration{
				5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 1 * time.Hour,
			},
			HistoryWindow: getEnvAsDuration("LOCKOUT_HISTORY_WINDOW", 24*time.Hour),
		},
		CSRF: CSRFConfig{
			TokenTTL:    getEnvAsDuration("CSRF_TOKEN_TTL", 1*time.Hour),
			CookieName:  getEnv("CSRF_COOKIE_NAME", "csrf_token"),
			HeaderName:  getEnv("CSRF_HEADER_NAME", "X-CSRF-Token"),
			CookiePath:  getEnv("CSRF_COOKIE_PATH", "/"),
			SingleUse:   getEnvAsBool("CSRF_SINGLE_USE", false),
			BindContext: getEnvAsBool("CSRF_BIND_CONTEXT", true),
		},
		Threat: ThreatConfig{
			Window:    getEnvAsDuration("THREAT_WINDOW", 1*time.Hour),
			AutoBlock: getEnvAsBool("THREAT_AUTO_BLOCK", true),
			BlockSchedule: []time.Duration{
				5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 1 * time.Hour,
			},
			HistoryWindow: getEnvAsDuration("THREAT_HISTORY_WINDOW", 24*time.Hour),
		},
		Events: EventsConfig{
			RecentRetention:     getEnvAsDuration("EVENTS_RECENT_RETENTION", 24*time.Hour),
			ComplianceRetention: getEnvAsDuration("EVENTS_COMPLIANCE_RETENTION", 365*24*time.Hour),
			AlertWindow:         getEnvAsDuration("ALERT_WINDOW", 1*time.Hour),
			CriticalThreshold:   int64(getEnvAsInt("ALERT_CRITICAL_THRESHOLD", 1)),
			ErrorThreshold:      int64(getEnvAsInt("ALERT_ERROR_THRESHOLD", 5)),
			WarningThreshold:    int64(getEnvAsInt("ALERT_WARNING_THRESHOLD", 20)),
			ExportLimit:         getEnvAsInt("EVENTS_EXPORT_LIMIT", 10000),
			PurgeInterval:       getEnvAsDuration("EVENTS_PURGE_INTERVAL", 1*time.Hour),
		},
		Alerting: AlertingConfig{
			EmailEnabled: getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			FromAddress:  getEnv("ALERT_EMAIL_FROM", ""),
			ToAddresses:  getEnvAsSlice("ALERT_EMAIL_TO", nil),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Alerting.EmailEnabled && (cfg.Alerting.FromAddress == "" || len(cfg.Alerting.ToAddresses) == 0) {
		return nil, fmt.Errorf("ALERT_EMAIL_FROM and ALERT_EMAIL_TO are required when email alerting is enabled")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://localhost:3001",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3001",
	}
}
