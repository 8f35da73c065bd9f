package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Grant store backend constants
const (
	GrantStoreDatabase = "database"
	GrantStoreRedis    = "redis"
)

// Client cache type constants
const (
	ClientCacheTypeMemory = "memory"
	ClientCacheTypeRedis  = "redis"
)

// Scope validation mode constants
const (
	ScopeModeStrict     = "strict"
	ScopeModeBestEffort = "best_effort"
)

// Claims provider mode constants
const (
	ClaimsProviderLocal   = "local"
	ClaimsProviderHTTPAPI = "http_api"
)

// Notifier mode constants
const (
	NotifierLog  = "log"
	NotifierAMQP = "amqp"
)

// Signing algorithm constants
const (
	SigningAlgRS256 = "RS256"
	SigningAlgES256 = "ES256"
)

const (
	minAuthCodeExpiration = 60 * time.Second
	maxAuthCodeExpiration = 600 * time.Second
	maxAccountTokenTTL    = 24 * time.Hour
)

const (
	defaultSessionSecret = "session-secret-change-in-production"
	defaultFlowSecret    = "flow-secret-change-in-production"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string // Also the token issuer
	IsProduction bool

	// Front end pages the flow hands off to
	LoginURL   string
	ConsentURL string
	PortalURL  string

	// Session settings
	SessionSecret string
	SessionMaxAge int // seconds

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string
	DBInitTimeout  time.Duration

	// Redis
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisConnTimeout time.Duration

	// Grant store
	GrantStore             string // "database" or "redis"
	AuthCodeExpiration     time.Duration
	RefreshTokenExpiration time.Duration
	EnableRefreshTokens    bool
	EnableTokenRotation    bool
	GrantSweepInterval     time.Duration

	// Authorization flow
	FlowSecret          string
	FlowRequestTTL      time.Duration
	ScopeValidationMode string // "strict" or "best_effort"

	// Signing keys
	SigningKeyFile      string
	SigningAlgorithm    string // "RS256" or "ES256"
	KeyRotationInterval time.Duration
	KeyRetireWindow     time.Duration

	// Client registry cache
	ClientCacheType string // "memory" or "redis"
	ClientCacheTTL  time.Duration
	UserCacheTTL    time.Duration // same backend as the client cache

	// Claims provider
	ClaimsProviderMode          string // "local" or "http_api"
	ClaimsAPIURL                string
	ClaimsAPITimeout            time.Duration
	ClaimsAPIInsecureSkipVerify bool
	ClaimsAPIAuthMode           string // "none", "simple", or "hmac"
	ClaimsAPIAuthSecret         string
	ClaimsAPIAuthHeader         string
	ClaimsAPIMaxRetries         int
	ClaimsAPIRetryDelay         time.Duration
	ClaimsAPIMaxRetryDelay      time.Duration

	// Notifications
	NotifierMode       string // "log" or "amqp"
	AMQPURL            string
	AMQPExchange       string
	AMQPRoutingKey     string
	NotifierBufferSize int

	// Account workflow
	AccountTokenTTL time.Duration

	// Seeding
	SeedDefaults   bool
	SeedPortalURL  string
	SeedAdminEmail string // first admin account, created when no admin exists

	// Rate limiting
	EnableRateLimit   bool
	RateLimitStore    string // "memory" or "redis"
	LoginRateLimit    int    // requests per minute
	TokenRateLimit    int
	RegisterRateLimit int

	// Metrics
	MetricsEnabled bool
	MetricsToken   string

	// Audit
	EnableAuditLogging   bool
	AuditLogBufferSize   int
	AuditLogRetention    time.Duration
	AuditShutdownTimeout time.Duration

	ServerShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", "sqlite")
	var dsn string
	if driver == "sqlite" {
		dsn = getEnv("DATABASE_DSN", getEnv("DATABASE_PATH", "identity.db"))
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      strings.TrimRight(baseURL, "/"),
		IsProduction: getEnvBool("ENVIRONMENT_PRODUCTION", false),

		LoginURL:   getEnv("LOGIN_URL", baseURL+"/account/login"),
		ConsentURL: getEnv("CONSENT_URL", baseURL+"/account/consent"),
		PortalURL:  getEnv("PORTAL_URL", "http://localhost:4200"),

		SessionSecret: getEnv("SESSION_SECRET", defaultSessionSecret),
		SessionMaxAge: getEnvInt("SESSION_MAX_AGE", 86400),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,
		DBInitTimeout:  getEnvDuration("DB_INIT_TIMEOUT", 30*time.Second),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisConnTimeout: getEnvDuration("REDIS_CONN_TIMEOUT", 5*time.Second),

		GrantStore:             getEnv("GRANT_STORE", GrantStoreDatabase),
		AuthCodeExpiration:     getEnvDuration("AUTH_CODE_EXPIRATION", 5*time.Minute),
		RefreshTokenExpiration: getEnvDuration("REFRESH_TOKEN_EXPIRATION", 720*time.Hour),
		EnableRefreshTokens:    getEnvBool("ENABLE_REFRESH_TOKENS", true),
		EnableTokenRotation:    getEnvBool("ENABLE_TOKEN_ROTATION", true),
		GrantSweepInterval:     getEnvDuration("GRANT_SWEEP_INTERVAL", 10*time.Minute),

		FlowSecret:          getEnv("FLOW_SECRET", defaultFlowSecret),
		FlowRequestTTL:      getEnvDuration("FLOW_REQUEST_TTL", 15*time.Minute),
		ScopeValidationMode: getEnv("SCOPE_VALIDATION_MODE", ScopeModeStrict),

		SigningKeyFile:      getEnv("SIGNING_KEY_FILE", ""),
		SigningAlgorithm:    getEnv("SIGNING_ALGORITHM", SigningAlgRS256),
		KeyRotationInterval: getEnvDuration("KEY_ROTATION_INTERVAL", 0),
		KeyRetireWindow:     getEnvDuration("KEY_RETIRE_WINDOW", 24*time.Hour),

		ClientCacheType: getEnv("CLIENT_CACHE_TYPE", ClientCacheTypeMemory),
		ClientCacheTTL:  getEnvDuration("CLIENT_CACHE_TTL", 5*time.Minute),
		UserCacheTTL:    getEnvDuration("USER_CACHE_TTL", time.Minute),

		ClaimsProviderMode:          getEnv("CLAIMS_PROVIDER_MODE", ClaimsProviderLocal),
		ClaimsAPIURL:                getEnv("CLAIMS_API_URL", ""),
		ClaimsAPITimeout:            getEnvDuration("CLAIMS_API_TIMEOUT", 10*time.Second),
		ClaimsAPIInsecureSkipVerify: getEnvBool("CLAIMS_API_INSECURE_SKIP_VERIFY", false),
		ClaimsAPIAuthMode:           getEnv("CLAIMS_API_AUTH_MODE", "none"),
		ClaimsAPIAuthSecret:         getEnv("CLAIMS_API_AUTH_SECRET", ""),
		ClaimsAPIAuthHeader:         getEnv("CLAIMS_API_AUTH_HEADER", "X-API-Secret"),
		ClaimsAPIMaxRetries:         getEnvInt("CLAIMS_API_MAX_RETRIES", 3),
		ClaimsAPIRetryDelay:         getEnvDuration("CLAIMS_API_RETRY_DELAY", 1*time.Second),
		ClaimsAPIMaxRetryDelay:      getEnvDuration("CLAIMS_API_MAX_RETRY_DELAY", 10*time.Second),

		NotifierMode:       getEnv("NOTIFIER_MODE", NotifierLog),
		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "dwh.identity"),
		AMQPRoutingKey:     getEnv("AMQP_ROUTING_KEY", "notifications.email"),
		NotifierBufferSize: getEnvInt("NOTIFIER_BUFFER_SIZE", 256),

		AccountTokenTTL: getEnvDuration("ACCOUNT_TOKEN_TTL", 24*time.Hour),

		SeedDefaults:   getEnvBool("SEED_DEFAULTS", true),
		SeedPortalURL:  strings.TrimRight(getEnv("SEED_PORTAL_URL", "http://localhost:4200"), "/"),
		SeedAdminEmail: getEnv("SEED_ADMIN_EMAIL", "admin@localhost"),

		EnableRateLimit:   getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:    getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		LoginRateLimit:    getEnvInt("LOGIN_RATE_LIMIT", 10),
		TokenRateLimit:    getEnvInt("TOKEN_RATE_LIMIT", 60),
		RegisterRateLimit: getEnvInt("REGISTER_RATE_LIMIT", 5),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsToken:   getEnv("METRICS_TOKEN", ""),

		EnableAuditLogging:   getEnvBool("ENABLE_AUDIT_LOGGING", true),
		AuditLogBufferSize:   getEnvInt("AUDIT_LOG_BUFFER_SIZE", 1000),
		AuditLogRetention:    getEnvDuration("AUDIT_LOG_RETENTION", 90*24*time.Hour),
		AuditShutdownTimeout: getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 10*time.Second),

		ServerShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf(
			"invalid RATE_LIMIT_STORE value: %q (must be %q or %q)",
			c.RateLimitStore, RateLimitStoreMemory, RateLimitStoreRedis,
		)
	}

	if c.GrantStore != GrantStoreDatabase && c.GrantStore != GrantStoreRedis {
		return fmt.Errorf(
			"invalid GRANT_STORE value: %q (must be %q or %q)",
			c.GrantStore, GrantStoreDatabase, GrantStoreRedis,
		)
	}

	if c.ClientCacheType != ClientCacheTypeMemory && c.ClientCacheType != ClientCacheTypeRedis {
		return fmt.Errorf(
			"invalid CLIENT_CACHE_TYPE value: %q (must be %q or %q)",
			c.ClientCacheType, ClientCacheTypeMemory, ClientCacheTypeRedis,
		)
	}

	if c.NeedsRedis() && c.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required when a redis backend is selected")
	}

	if c.ScopeValidationMode != ScopeModeStrict && c.ScopeValidationMode != ScopeModeBestEffort {
		return fmt.Errorf("invalid SCOPE_VALIDATION_MODE value: %q", c.ScopeValidationMode)
	}

	if c.SigningAlgorithm != SigningAlgRS256 && c.SigningAlgorithm != SigningAlgES256 {
		return fmt.Errorf("invalid SIGNING_ALGORITHM value: %q", c.SigningAlgorithm)
	}

	switch c.ClaimsProviderMode {
	case ClaimsProviderLocal:
	case ClaimsProviderHTTPAPI:
		if c.ClaimsAPIURL == "" {
			return errors.New("CLAIMS_API_URL is required when CLAIMS_PROVIDER_MODE=http_api")
		}
	default:
		return fmt.Errorf("invalid CLAIMS_PROVIDER_MODE value: %q", c.ClaimsProviderMode)
	}

	switch c.NotifierMode {
	case NotifierLog:
	case NotifierAMQP:
		if c.AMQPURL == "" {
			return errors.New("AMQP_URL is required when NOTIFIER_MODE=amqp")
		}
	default:
		return fmt.Errorf("invalid NOTIFIER_MODE value: %q", c.NotifierMode)
	}

	if c.AuthCodeExpiration < minAuthCodeExpiration || c.AuthCodeExpiration > maxAuthCodeExpiration {
		return fmt.Errorf(
			"AUTH_CODE_EXPIRATION must be between %v and %v, got %v",
			minAuthCodeExpiration, maxAuthCodeExpiration, c.AuthCodeExpiration,
		)
	}

	if c.AccountTokenTTL <= 0 || c.AccountTokenTTL > maxAccountTokenTTL {
		return fmt.Errorf("ACCOUNT_TOKEN_TTL must be in (0, %v], got %v", maxAccountTokenTTL, c.AccountTokenTTL)
	}

	if c.FlowSecret == "" {
		return errors.New("FLOW_SECRET must not be empty")
	}

	if c.IsProduction {
		if c.FlowSecret == defaultFlowSecret {
			return errors.New("FLOW_SECRET must be changed in production")
		}
		if c.SessionSecret == defaultSessionSecret {
			return errors.New("SESSION_SECRET must be changed in production")
		}
		if c.SigningKeyFile == "" {
			return errors.New("SIGNING_KEY_FILE is required in production")
		}
	}

	return nil
}

// NeedsRedis reports whether any configured backend talks to Redis
func (c *Config) NeedsRedis() bool {
	return c.GrantStore == GrantStoreRedis ||
		c.ClientCacheType == ClientCacheTypeRedis ||
		(c.EnableRateLimit && c.RateLimitStore == RateLimitStoreRedis)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
