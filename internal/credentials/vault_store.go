// Package credentials resolves platform access tokens for account connections.
//
// Tokens live in a Vault KV-v2 mount under <prefix>/<connection_id>, key
// "access_token".  Reads are cached for a short TTL and concurrent misses for
// the same connection collapse into one Vault round trip.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/sync/singleflight"
)

const tokenKey = "access_token"

// ErrCredentialNotFound is returned when no token is stored for a connection
var ErrCredentialNotFound = errors.New("credential not found")

// kvStore is the subset of *vault.KVv2 used here
type kvStore interface {
	Get(ctx context.Context, secretPath string) (*vault.KVSecret, error)
	Put(ctx context.Context, secretPath string, data map[string]interface{}, opts ...vault.KVOption) (*vault.KVSecret, error)
}

type cachedToken struct {
	val string
	exp time.Time
}

// VaultStore is safe for concurrent use
type VaultStore struct {
	kv     kvStore
	prefix string
	ttl    time.Duration

	group   singleflight.Group
	cacheMu sync.RWMutex
	cache   map[uuid.UUID]cachedToken
}

// NewVaultStore builds a store from VAULT_ADDR / VAULT_TOKEN in the environment
func NewVaultStore(mount, prefix string, ttl time.Duration) (*VaultStore, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		client.SetToken(tok)
	}

	return newVaultStore(client.KVv2(mount), prefix, ttl), nil
}

func newVaultStore(kv kvStore, prefix string, ttl time.Duration) *VaultStore {
	return &VaultStore{
		kv:     kv,
		prefix: prefix,
		ttl:    ttl,
		cache:  make(map[uuid.UUID]cachedToken),
	}
}

// SecretPath returns the KV path holding the connection's token
func (s *VaultStore) SecretPath(connectionID uuid.UUID) string {
	return path.Join(s.prefix, connectionID.String())
}

// GetDecryptedCredential returns the access token of a connection
func (s *VaultStore) GetDecryptedCredential(ctx context.Context, connectionID uuid.UUID) (string, error) {
	if s.ttl > 0 {
		s.cacheMu.RLock()
		cv, ok := s.cache[connectionID]
		s.cacheMu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	v, err, _ := s.group.Do(connectionID.String(), func() (interface{}, error) {
		return s.fetch(ctx, connectionID)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// SetCredential stores a new token and refreshes the cache
func (s *VaultStore) SetCredential(ctx context.Context, connectionID uuid.UUID, token string) error {
	if token == "" {
		return errors.New("credential cannot be empty")
	}

	if _, err := s.kv.Put(ctx, s.SecretPath(connectionID), map[string]interface{}{tokenKey: token}); err != nil {
		return fmt.Errorf("vault put %s: %w", s.SecretPath(connectionID), err)
	}

	s.remember(connectionID, token)
	return nil
}

func (s *VaultStore) fetch(ctx context.Context, connectionID uuid.UUID) (string, error) {
	secretPath := s.SecretPath(connectionID)

	sec, err := s.kv.Get(ctx, secretPath)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}
	if sec == nil || sec.Data == nil {
		return "", ErrCredentialNotFound
	}

	raw, ok := sec.Data[tokenKey]
	if !ok {
		return "", ErrCredentialNotFound
	}

	token, ok := raw.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, tokenKey)
	}

	s.remember(connectionID, token)
	return token, nil
}

func (s *VaultStore) remember(connectionID uuid.UUID, token string) {
	if s.ttl <= 0 {
		return
	}
	s.cacheMu.Lock()
	s.cache[connectionID] = cachedToken{val: token, exp: time.Now().Add(s.ttl)}
	s.cacheMu.Unlock()
}
