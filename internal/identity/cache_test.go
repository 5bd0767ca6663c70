package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/amorce-labs/nexus-gateway/internal/directory"
	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock — ручное время для детерминированной проверки TTL.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingDirectory считает реальные походы в Directory.
type countingDirectory struct {
	mu      sync.Mutex
	calls   int
	records map[string]*domain.AgentIdentityRecord
	err     error
}

func (d *countingDirectory) LookupAgent(_ context.Context, agentID string) (*domain.AgentIdentityRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	rec, ok := d.records[agentID]
	if !ok {
		return nil, directory.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (d *countingDirectory) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func rawKeyB64(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub)
}

func activeRecord(t *testing.T, id string) *domain.AgentIdentityRecord {
	return &domain.AgentIdentityRecord{
		AgentID:   id,
		PublicKey: rawKeyB64(t),
		Status:    domain.StatusActive,
	}
}

func TestCacheSingleFetchWithinTTL(t *testing.T) {
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{"A": activeRecord(t, "A")}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	// N чтений в пределах TTL — ровно один fetch
	for i := 0; i < 25; i++ {
		rec, err := cache.ResolveIdentity(context.Background(), "A")
		require.NoError(t, err)
		assert.Equal(t, "A", rec.AgentID)
		clock.Advance(10 * time.Second)
	}
	assert.Equal(t, 1, dir.Calls())
}

func TestCacheRefetchAfterTTL(t *testing.T) {
	rec := activeRecord(t, "A")
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{"A": rec}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	_, err := cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)

	// Upstream меняет статус; до истечения TTL кэш этого не видит
	rec.Status = domain.StatusSuspended
	got, err := cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)

	// После TTL — свежий fetch с новым статусом
	clock.Advance(301 * time.Second)
	got, err = cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, got.Status)
	assert.Equal(t, 2, dir.Calls())
}

func TestCacheDoesNotCacheNotFound(t *testing.T) {
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	_, err := cache.ResolveIdentity(context.Background(), "ghost")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	// Агент регистрируется — должен стать разрешимым сразу, без выжидания TTL
	dir.mu.Lock()
	dir.records["ghost"] = activeRecord(t, "ghost")
	dir.mu.Unlock()

	rec, err := cache.ResolveIdentity(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", rec.AgentID)
	assert.Equal(t, 2, dir.Calls())
}

func TestCacheDoesNotCacheUnavailable(t *testing.T) {
	dir := &countingDirectory{err: directory.ErrUnavailable}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	_, err := cache.ResolveIdentity(context.Background(), "A")
	assert.ErrorIs(t, err, directory.ErrUnavailable)

	// Directory ожила — следующий вызов идет в сеть, а не в кэш ошибки
	dir.mu.Lock()
	dir.err = nil
	dir.records = map[string]*domain.AgentIdentityRecord{"A": activeRecord(t, "A")}
	dir.mu.Unlock()

	_, err = cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Calls())
}

func TestResolvePublicKeyReusesParsedKey(t *testing.T) {
	rec := activeRecord(t, "A")
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{"A": rec}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	key1, _, err := cache.ResolvePublicKey(context.Background(), "A")
	require.NoError(t, err)

	// Тот же объект ключа, пока сырые байты в записи не изменились
	clock.Advance(301 * time.Second)
	key2, _, err := cache.ResolvePublicKey(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	// Ротация ключа в Directory — после TTL отдаем новый
	newRaw := rawKeyB64(t)
	dir.mu.Lock()
	rec.PublicKey = newRaw
	dir.mu.Unlock()
	clock.Advance(301 * time.Second)

	key3, _, err := cache.ResolvePublicKey(context.Background(), "A")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)
}

func TestCacheInvalidate(t *testing.T) {
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{"A": activeRecord(t, "A")}}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := NewCache(dir, 300*time.Second, clock, zap.NewNop(), nil)

	_, err := cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)

	cache.Invalidate("A")

	_, err = cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Calls(), "invalidate must force a fresh fetch before TTL")
}

func TestCacheConcurrentMisses(t *testing.T) {
	dir := &countingDirectory{records: map[string]*domain.AgentIdentityRecord{"A": activeRecord(t, "A")}}
	cache := NewCache(dir, 300*time.Second, &fakeClock{now: time.Unix(1000, 0)}, zap.NewNop(), nil)

	// Промахи по одному ключу гонятся свободно — корректность важнее single-flight
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.ResolveIdentity(context.Background(), "A")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := cache.ResolveIdentity(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", rec.AgentID)
}
