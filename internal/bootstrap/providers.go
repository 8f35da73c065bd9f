package bootstrap

import (
	"fmt"
	"log"

	"github.com/koskedk/dwh-identity/internal/claims"
	"github.com/koskedk/dwh-identity/internal/client"
	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/notify"
	"github.com/koskedk/dwh-identity/internal/store"
	"github.com/koskedk/dwh-identity/internal/store/redisstore"

	"github.com/redis/go-redis/v9"
)

const grantKeyPrefix = "dwh:grants:"

// initializeGrantStore selects where authorization codes and refresh tokens
// live. The database store is the default.
func initializeGrantStore(cfg *config.Config, db *store.Store, redisClient *redis.Client) core.GrantStore {
	switch cfg.GrantStore {
	case config.GrantStoreRedis:
		log.Printf("Grant store: redis (addr=%s, db=%d)", cfg.RedisAddr, cfg.RedisDB)
		return redisstore.NewGrantStoreWithClient(redisClient, grantKeyPrefix)
	default:
		log.Println("Grant store: database")
		return db
	}
}

// initializeKeys loads or generates the signing key and installs it
func initializeKeys(cfg *config.Config, m core.Recorder) (*keys.Manager, error) {
	key, generated, err := keys.LoadOrGenerate(cfg.SigningKeyFile, cfg.SigningAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	switch {
	case cfg.SigningKeyFile == "":
		log.Printf("Signing key: ephemeral %s key (kid=%s)", key.Algorithm, key.ID)
	case generated:
		log.Printf("Signing key: generated %s key at %s (kid=%s)", key.Algorithm, cfg.SigningKeyFile, key.ID)
	default:
		log.Printf("Signing key: loaded %s key from %s (kid=%s)", key.Algorithm, cfg.SigningKeyFile, key.ID)
	}

	manager := keys.NewManager(cfg.KeyRetireWindow, keys.WithRecorder(m))
	if err := manager.Rotate(key); err != nil {
		return nil, fmt.Errorf("failed to install signing key: %w", err)
	}
	return manager, nil
}

// initializeClaimsProvider creates the claims source for tokens and userinfo
func initializeClaimsProvider(
	cfg *config.Config,
	users claims.UserStore,
	m core.Recorder,
) (core.ClaimsProvider, error) {
	switch cfg.ClaimsProviderMode {
	case config.ClaimsProviderHTTPAPI:
		retryClient, err := client.NewRetryClient(client.RetryConfig{
			AuthMode:           cfg.ClaimsAPIAuthMode,
			AuthSecret:         cfg.ClaimsAPIAuthSecret,
			AuthHeader:         cfg.ClaimsAPIAuthHeader,
			Timeout:            cfg.ClaimsAPITimeout,
			InsecureSkipVerify: cfg.ClaimsAPIInsecureSkipVerify,
			MaxRetries:         cfg.ClaimsAPIMaxRetries,
			RetryDelay:         cfg.ClaimsAPIRetryDelay,
			MaxRetryDelay:      cfg.ClaimsAPIMaxRetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create claims API client: %w", err)
		}
		log.Printf("Claims provider: http_api (%s)", cfg.ClaimsAPIURL)
		return claims.NewHTTPProvider(cfg.ClaimsAPIURL, retryClient), nil
	default:
		log.Println("Claims provider: local user store")
		return claims.NewUserProvider(users), nil
	}
}

// initializeNotifier creates the outbound notification transport. The
// returned closer releases the broker connection, if any.
func initializeNotifier(cfg *config.Config) (core.Notifier, func() error, error) {
	switch cfg.NotifierMode {
	case config.NotifierAMQP:
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Notifier: amqp (exchange=%s, routing_key=%s)", cfg.AMQPExchange, cfg.AMQPRoutingKey)
		return n, n.Close, nil
	default:
		log.Println("Notifier: log")
		return notify.NewLogNotifier(), nil, nil
	}
}
