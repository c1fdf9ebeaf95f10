package webhooks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func TestReplayGuard_BlocksConcurrentCopy(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewReplayGuard(store, time.Minute)
	require.NoError(t, err)

	body := []byte(`{"merchant_ref":"ORD-1","status":"PAID"}`)
	key, ok, err := guard.Acquire(context.Background(), "tripay", body)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls[key])

	_, ok, err = guard.Acquire(context.Background(), "tripay", body)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, guard.Release(context.Background(), key))
	_, ok, err = guard.Acquire(context.Background(), "tripay", body)
	require.NoError(t, err)
	assert.True(t, ok, "sequential replay passes once the first copy is released")
}

func TestReplayGuard_ScopesByProviderAndBody(t *testing.T) {
	guard, err := NewReplayGuard(newMemoryStore(), time.Minute)
	require.NoError(t, err)

	body := []byte(`{"order_id":"ORD-1"}`)
	_, ok, err := guard.Acquire(context.Background(), "tripay", body)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = guard.Acquire(context.Background(), "midtrans", body)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = guard.Acquire(context.Background(), "tripay", []byte(`{"order_id":"ORD-2"}`))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewReplayGuard_Validates(t *testing.T) {
	_, err := NewReplayGuard(nil, time.Minute)
	assert.Error(t, err)
	_, err = NewReplayGuard(newMemoryStore(), 0)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("tripay", []byte("x"))
	assert.Equal(t, a, Fingerprint("tripay", []byte("x")))
	assert.NotEqual(t, a, Fingerprint("tripay", []byte("y")))
	assert.Contains(t, a, "tripay:")
}
