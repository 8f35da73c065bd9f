package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes Validate
func validConfig() *Config {
	return &Config{
		RateLimitStore:      RateLimitStoreMemory,
		GrantStore:          GrantStoreDatabase,
		ClientCacheType:     ClientCacheTypeMemory,
		ScopeValidationMode: ScopeModeStrict,
		SigningAlgorithm:    SigningAlgRS256,
		ClaimsProviderMode:  ClaimsProviderLocal,
		NotifierMode:        NotifierLog,
		AuthCodeExpiration:  5 * time.Minute,
		AccountTokenTTL:     24 * time.Hour,
		FlowSecret:          "test-flow-secret",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name: "valid redis everywhere",
			mutate: func(c *Config) {
				c.RateLimitStore = RateLimitStoreRedis
				c.GrantStore = GrantStoreRedis
				c.ClientCacheType = ClientCacheTypeRedis
				c.RedisAddr = "localhost:6379"
			},
		},
		{
			name:        "invalid rate limit store - typo",
			mutate:      func(c *Config) { c.RateLimitStore = "reddis" },
			expectError: true,
			errorMsg:    `invalid RATE_LIMIT_STORE value: "reddis"`,
		},
		{
			name:        "invalid rate limit store - uppercase",
			mutate:      func(c *Config) { c.RateLimitStore = "MEMORY" },
			expectError: true,
			errorMsg:    `invalid RATE_LIMIT_STORE value: "MEMORY"`,
		},
		{
			name:        "invalid grant store",
			mutate:      func(c *Config) { c.GrantStore = "etcd" },
			expectError: true,
			errorMsg:    `invalid GRANT_STORE value: "etcd"`,
		},
		{
			name:        "redis grant store without address",
			mutate:      func(c *Config) { c.GrantStore = GrantStoreRedis },
			expectError: true,
			errorMsg:    "REDIS_ADDR is required",
		},
		{
			name: "redis rate limit ignored when rate limiting is off",
			mutate: func(c *Config) {
				c.EnableRateLimit = false
				c.RateLimitStore = RateLimitStoreRedis
			},
		},
		{
			name:        "invalid client cache",
			mutate:      func(c *Config) { c.ClientCacheType = "memcache" },
			expectError: true,
			errorMsg:    `invalid CLIENT_CACHE_TYPE value: "memcache"`,
		},
		{
			name:        "invalid scope mode",
			mutate:      func(c *Config) { c.ScopeValidationMode = "lenient" },
			expectError: true,
			errorMsg:    `invalid SCOPE_VALIDATION_MODE value: "lenient"`,
		},
		{
			name:   "best effort scope mode",
			mutate: func(c *Config) { c.ScopeValidationMode = ScopeModeBestEffort },
		},
		{
			name:        "invalid signing algorithm",
			mutate:      func(c *Config) { c.SigningAlgorithm = "HS256" },
			expectError: true,
			errorMsg:    `invalid SIGNING_ALGORITHM value: "HS256"`,
		},
		{
			name:        "http claims without url",
			mutate:      func(c *Config) { c.ClaimsProviderMode = ClaimsProviderHTTPAPI },
			expectError: true,
			errorMsg:    "CLAIMS_API_URL is required",
		},
		{
			name:        "amqp notifier without url",
			mutate:      func(c *Config) { c.NotifierMode = NotifierAMQP },
			expectError: true,
			errorMsg:    "AMQP_URL is required",
		},
		{
			name:        "auth code too short",
			mutate:      func(c *Config) { c.AuthCodeExpiration = 30 * time.Second },
			expectError: true,
			errorMsg:    "AUTH_CODE_EXPIRATION must be between",
		},
		{
			name:        "auth code too long",
			mutate:      func(c *Config) { c.AuthCodeExpiration = 11 * time.Minute },
			expectError: true,
			errorMsg:    "AUTH_CODE_EXPIRATION must be between",
		},
		{
			name:        "account token longer than a day",
			mutate:      func(c *Config) { c.AccountTokenTTL = 25 * time.Hour },
			expectError: true,
			errorMsg:    "ACCOUNT_TOKEN_TTL must be in",
		},
		{
			name:        "empty flow secret",
			mutate:      func(c *Config) { c.FlowSecret = "" },
			expectError: true,
			errorMsg:    "FLOW_SECRET must not be empty",
		},
		{
			name: "production with default flow secret",
			mutate: func(c *Config) {
				c.IsProduction = true
				c.FlowSecret = defaultFlowSecret
			},
			expectError: true,
			errorMsg:    "FLOW_SECRET must be changed in production",
		},
		{
			name: "production without signing key file",
			mutate: func(c *Config) {
				c.IsProduction = true
				c.SessionSecret = "prod-session"
			},
			expectError: true,
			errorMsg:    "SIGNING_KEY_FILE is required in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, GrantStoreDatabase, cfg.GrantStore)
	assert.Equal(t, ScopeModeStrict, cfg.ScopeValidationMode)
	assert.Equal(t, 5*time.Minute, cfg.AuthCodeExpiration)
	assert.Equal(t, 24*time.Hour, cfg.AccountTokenTTL)
	assert.Equal(t, 30*time.Second, cfg.DBInitTimeout)
	assert.Equal(t, 5*time.Second, cfg.ServerShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.AuditShutdownTimeout)
	assert.True(t, cfg.EnableTokenRotation)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("GRANT_STORE", GrantStoreRedis)
	t.Setenv("AUTH_CODE_EXPIRATION", "90s")
	t.Setenv("SCOPE_VALIDATION_MODE", ScopeModeBestEffort)
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ENABLE_TOKEN_ROTATION", "false")
	t.Setenv("BASE_URL", "https://id.example.org/")

	cfg := Load()

	assert.Equal(t, GrantStoreRedis, cfg.GrantStore)
	assert.Equal(t, 90*time.Second, cfg.AuthCodeExpiration)
	assert.Equal(t, ScopeModeBestEffort, cfg.ScopeValidationMode)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.False(t, cfg.EnableTokenRotation)
	assert.Equal(t, "https://id.example.org", cfg.BaseURL)
}

func TestGetEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("X_TEST_INT", "abc")
	t.Setenv("X_TEST_DURATION", "forever")

	assert.Equal(t, 7, getEnvInt("X_TEST_INT", 7))
	assert.Equal(t, time.Minute, getEnvDuration("X_TEST_DURATION", time.Minute))
}
