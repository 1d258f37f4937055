package secrets

import (
	"context"
	"sync"

	"github.com/helmsmith/conveyor/pkg/schema"
)

// Vault resolves secret references (${{secrets.KEY}}) at runtime.
// Secrets are encrypted at rest (AES-256-GCM) and resolved in-memory only.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// StaticVault is an in-memory Vault seeded from a plain map. Values are held
// unencrypted, so it is only suitable for tests and local development.
type StaticVault struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewStaticVault creates a vault pre-populated with the given key/value pairs.
func NewStaticVault(values map[string]string) *StaticVault {
	v := &StaticVault{values: make(map[string][]byte, len(values))}
	for k, val := range values {
		v.values[k] = []byte(val)
	}
	return v
}

func (v *StaticVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (v *StaticVault) Store(ctx context.Context, key string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	v.values[key] = cp
	return nil
}

func (v *StaticVault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.values[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(v.values, key)
	return nil
}

func (v *StaticVault) List(ctx context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ Vault = (*StaticVault)(nil)
