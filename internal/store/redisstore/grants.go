// Package redisstore keeps authorization codes and refresh tokens in Redis
// so several identity nodes can share one grant store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/koskedk/dwh-identity/internal/core"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/util"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every key written by the grant store
	DefaultKeyPrefix = "dwh:grants:"

	// DefaultRetention keeps consumed and revoked records around after expiry
	// so replays are still recognised.
	DefaultRetention = 24 * time.Hour

	// DefaultFamilyMarkerTTL bounds how long a revoked family stays flagged
	DefaultFamilyMarkerTTL = 30 * 24 * time.Hour

	handleBytes = 32
)

// Hash fields of a grant record
const (
	fieldData       = "data"
	fieldKind       = "kind"
	fieldExpiresAt  = "expires_at"
	fieldConsumedAt = "consumed_at"
	fieldRevokedAt  = "revoked_at"
)

// Redeem script results
const (
	redeemNotFound = 0
	redeemOK       = 1
	redeemRevoked  = 2
	redeemConsumed = 3
	redeemExpired  = 4
)

// redeemScript consumes a grant if it exists, has the expected kind and is
// neither revoked, consumed nor expired. ARGV[1] is now in unix millis,
// ARGV[2] the expected kind.
var redeemScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'kind', 'expires_at', 'consumed_at', 'revoked_at')
if not h[1] or h[1] ~= ARGV[2] then
	return 0
end
if h[4] then
	return 2
end
if h[3] then
	return 3
end
if tonumber(h[2]) <= tonumber(ARGV[1]) then
	return 4
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
return 1
`)

// revokeScript sets revoked_at on an existing, not yet revoked grant.
// Returns 1 when the grant changed state.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HSETNX', KEYS[1], 'revoked_at', ARGV[1]) == 1 then
	return 1
end
return 0
`)

// GrantStore implements core.GrantStore on Redis
type GrantStore struct {
	client          redis.UniversalClient
	prefix          string
	retention       time.Duration
	familyMarkerTTL time.Duration
}

var _ core.GrantStore = (*GrantStore)(nil)

// record is the JSON body of a grant; status fields live beside it in the hash
type record struct {
	ID                  string     `json:"id"`
	Kind                string     `json:"kind"`
	Subject             string     `json:"sub"`
	ClientID            string     `json:"client_id"`
	Scopes              []string   `json:"scopes"`
	RedirectURI         string     `json:"redirect_uri,omitempty"`
	Nonce               string     `json:"nonce,omitempty"`
	AuthTime            *time.Time `json:"auth_time,omitempty"`
	CodeChallenge       string     `json:"code_challenge,omitempty"`
	CodeChallengeMethod string     `json:"code_challenge_method,omitempty"`
	FamilyID            string     `json:"family_id"`
	ParentID            string     `json:"parent_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
}

// NewGrantStore connects to Redis and verifies the connection
func NewGrantStore(ctx context.Context, addr, password string, db int, prefix string) (*GrantStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewGrantStoreWithClient(client, prefix), nil
}

// NewGrantStoreWithClient wraps a pre-configured client. Tests pass a miniredis client.
func NewGrantStoreWithClient(client redis.UniversalClient, prefix string) *GrantStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &GrantStore{
		client:          client,
		prefix:          prefix,
		retention:       DefaultRetention,
		familyMarkerTTL: DefaultFamilyMarkerTTL,
	}
}

// Close closes the Redis client connection
func (s *GrantStore) Close() error {
	return s.client.Close()
}

// Health checks Redis connectivity
func (s *GrantStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *GrantStore) grantKey(hash string) string {
	return s.prefix + "grant:" + hash
}

func (s *GrantStore) familyKey(familyID string) string {
	return s.prefix + "family:" + familyID
}

func (s *GrantStore) familyRevokedKey(familyID string) string {
	return s.prefix + "family_revoked:" + familyID
}

func (s *GrantStore) subjectKey(subject, clientID string) string {
	return s.prefix + "subject:" + subject + ":" + clientID
}

func (s *GrantStore) CreateGrant(
	ctx context.Context,
	params core.CreateGrantParams,
) (*models.Grant, string, error) {
	handle, err := util.RandomHandle(handleBytes)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate grant handle: %w", err)
	}

	grant := core.NewGrant(params, handle, time.Now())
	data, err := json.Marshal(toRecord(grant))
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal grant: %w", err)
	}

	ttl := time.Until(grant.ExpiresAt) + s.retention
	key := s.grantKey(grant.HandleHash)
	familyKey := s.familyKey(grant.FamilyID)
	subjectKey := s.subjectKey(grant.Subject, grant.ClientID)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldData, data,
			fieldKind, string(grant.Kind),
			fieldExpiresAt, grant.ExpiresAt.UnixMilli(),
		)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, familyKey, grant.HandleHash)
		pipe.Expire(ctx, familyKey, ttl)
		pipe.SAdd(ctx, subjectKey, grant.HandleHash)
		pipe.Expire(ctx, subjectKey, ttl)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to store grant: %w", err)
	}
	return grant, handle, nil
}

// load reads a grant record by handle hash
func (s *GrantStore) load(ctx context.Context, hash string) (*models.Grant, error) {
	fields, err := s.client.HGetAll(ctx, s.grantKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	if len(fields) == 0 || fields[fieldData] == "" {
		return nil, core.ErrGrantNotFound
	}

	var rec record
	if err := json.Unmarshal([]byte(fields[fieldData]), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	grant := rec.toGrant(hash)
	grant.ConsumedAt = parseMillis(fields[fieldConsumedAt])
	grant.RevokedAt = parseMillis(fields[fieldRevokedAt])
	return grant, nil
}

func (s *GrantStore) Peek(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error) {
	grant, err := s.load(ctx, util.SHA256Hex(handle))
	if err != nil {
		return nil, err
	}
	if grant.Kind != kind {
		return nil, core.ErrGrantNotFound
	}
	return grant, core.CheckRedeemable(grant, time.Now())
}

func (s *GrantStore) Redeem(ctx context.Context, handle string, kind models.GrantKind) (*models.Grant, error) {
	hash := util.SHA256Hex(handle)
	now := time.Now()

	result, err := redeemScript.Run(
		ctx, s.client,
		[]string{s.grantKey(hash)},
		now.UnixMilli(), string(kind),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to redeem grant: %w", err)
	}
	if result == redeemNotFound {
		return nil, core.ErrGrantNotFound
	}

	grant, err := s.load(ctx, hash)
	if err != nil {
		return nil, err
	}

	switch result {
	case redeemOK:
		return grant, nil
	case redeemRevoked:
		return grant, core.ErrGrantRevoked
	case redeemConsumed:
		return grant, core.ErrAlreadyConsumed
	case redeemExpired:
		return grant, core.ErrGrantExpired
	default:
		return nil, fmt.Errorf("unexpected redeem result %d", result)
	}
}

func (s *GrantStore) Revoke(ctx context.Context, handle string) error {
	hash := util.SHA256Hex(handle)
	changed, err := s.revokeHash(ctx, hash, time.Now())
	if err != nil || !changed {
		return err
	}
	grant, err := s.load(ctx, hash)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.familyRevokedKey(grant.FamilyID), "1", s.familyMarkerTTL).Err()
}

func (s *GrantStore) revokeHash(ctx context.Context, hash string, now time.Time) (bool, error) {
	n, err := revokeScript.Run(ctx, s.client, []string{s.grantKey(hash)}, now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to revoke grant: %w", err)
	}
	return n == 1, nil
}

// revokeSet revokes every grant whose hash is a member of setKey
func (s *GrantStore) revokeSet(ctx context.Context, setKey string) (int64, []string, error) {
	hashes, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, nil, fmt.Errorf("failed to list grants: %w", err)
	}

	now := time.Now()
	var revoked int64
	for _, hash := range hashes {
		changed, err := s.revokeHash(ctx, hash, now)
		if err != nil {
			return revoked, hashes, err
		}
		if changed {
			revoked++
		}
	}
	return revoked, hashes, nil
}

func (s *GrantStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	if err := s.client.Set(ctx, s.familyRevokedKey(familyID), "1", s.familyMarkerTTL).Err(); err != nil {
		return 0, fmt.Errorf("failed to mark family revoked: %w", err)
	}
	n, _, err := s.revokeSet(ctx, s.familyKey(familyID))
	return n, err
}

func (s *GrantStore) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.familyRevokedKey(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check family: %w", err)
	}
	return n > 0, nil
}

func (s *GrantStore) RevokeAllForSubjectAndClient(ctx context.Context, subject, clientID string) (int64, error) {
	n, hashes, err := s.revokeSet(ctx, s.subjectKey(subject, clientID))
	if err != nil {
		return n, err
	}

	families := make(map[string]struct{})
	for _, hash := range hashes {
		grant, err := s.load(ctx, hash)
		if errors.Is(err, core.ErrGrantNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		families[grant.FamilyID] = struct{}{}
	}
	for familyID := range families {
		if err := s.client.Set(ctx, s.familyRevokedKey(familyID), "1", s.familyMarkerTTL).Err(); err != nil {
			return n, fmt.Errorf("failed to mark family revoked: %w", err)
		}
	}
	return n, nil
}

// SweepExpired is a no-op for Redis: every record carries its own TTL of
// expiry plus retention, and index sets expire with their newest member.
func (s *GrantStore) SweepExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func toRecord(g *models.Grant) record {
	return record{
		ID:                  g.ID,
		Kind:                string(g.Kind),
		Subject:             g.Subject,
		ClientID:            g.ClientID,
		Scopes:              g.Scopes,
		RedirectURI:         g.RedirectURI,
		Nonce:               g.Nonce,
		AuthTime:            g.AuthTime,
		CodeChallenge:       g.CodeChallenge,
		CodeChallengeMethod: g.CodeChallengeMethod,
		FamilyID:            g.FamilyID,
		ParentID:            g.ParentID,
		CreatedAt:           g.CreatedAt,
		ExpiresAt:           g.ExpiresAt,
	}
}

func (r record) toGrant(hash string) *models.Grant {
	return &models.Grant{
		ID:                  r.ID,
		HandleHash:          hash,
		HandlePrefix:        hash[:8],
		Kind:                models.GrantKind(r.Kind),
		Subject:             r.Subject,
		ClientID:            r.ClientID,
		Scopes:              models.StringArray(r.Scopes),
		RedirectURI:         r.RedirectURI,
		Nonce:               r.Nonce,
		AuthTime:            r.AuthTime,
		CodeChallenge:       r.CodeChallenge,
		CodeChallengeMethod: r.CodeChallengeMethod,
		FamilyID:            r.FamilyID,
		ParentID:            r.ParentID,
		CreatedAt:           r.CreatedAt,
		ExpiresAt:           r.ExpiresAt,
	}
}

func parseMillis(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
