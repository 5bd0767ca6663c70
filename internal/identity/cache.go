// Package identity — проверка подписей агентов и time-bounded кэш их записей.
package identity

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/amorce-labs/nexus-gateway/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Clock — абстракция времени, чтобы истечение TTL было детерминированно тестируемым.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock — боевые часы.
func SystemClock() Clock { return systemClock{} }

// DirectoryProvider — то, что кэшу нужно от Trust Directory.
type DirectoryProvider interface {
	LookupAgent(ctx context.Context, agentID string) (*domain.AgentIdentityRecord, error)
}

// CacheMetrics — счетчики попаданий, регистрируются снаружи.
type CacheMetrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
}

type recordEntry struct {
	record    *domain.AgentIdentityRecord
	fetchedAt time.Time
}

type keyEntry struct {
	raw string // Исходные байты ключа из записи — при их смене парсим заново
	key ed25519.PublicKey
}

// Cache — TTL-кэш записей агентов плюс вторичный кэш распарсенных ключей.
// Чтение в пределах TTL не ходит в Directory; чтение после TTL заменяет запись целиком.
// Параллельные промахи по одному ключу гонятся свободно: last writer wins,
// кэшированные значения — идемпотентные снимки upstream-истины в окне TTL.
type Cache struct {
	mu      sync.RWMutex
	records map[string]recordEntry
	keys    map[string]keyEntry

	dir     DirectoryProvider
	ttl     time.Duration
	clock   Clock
	logger  *zap.Logger
	metrics *CacheMetrics
}

func NewCache(dir DirectoryProvider, ttl time.Duration, clock Clock, logger *zap.Logger, metrics *CacheMetrics) *Cache {
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		records: make(map[string]recordEntry),
		keys:    make(map[string]keyEntry),
		dir:     dir,
		ttl:     ttl,
		clock:   clock,
		logger:  logger.Named("identity-cache"),
		metrics: metrics,
	}
}

// ResolveIdentity возвращает запись агента (любого статуса — статус часть
// кэшируемого значения, поэтому кэш корректен даже при короткой протухшести).
// Негативные результаты не кэшируем: свежезарегистрированный агент должен
// стать разрешимым без ожидания TTL, которого никогда не было.
// Сетевые сбои тоже не кэшируем.
func (c *Cache) ResolveIdentity(ctx context.Context, agentID string) (*domain.AgentIdentityRecord, error) {
	c.mu.RLock()
	entry, ok := c.records[agentID]
	c.mu.RUnlock()

	if ok && c.clock.Now().Sub(entry.fetchedAt) < c.ttl {
		c.hit()
		return entry.record, nil
	}
	c.miss()

	rec, err := c.dir.LookupAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.records[agentID] = recordEntry{record: rec, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	return rec, nil
}

// ResolvePublicKey — производная от ResolveIdentity. Дополнительно кэширует
// распарсенный объект ключа по (agentID, сырые-байты-ключа), чтобы не парсить
// PEM на каждой проверке, при этом статус ревалидируется на каждой границе TTL.
func (c *Cache) ResolvePublicKey(ctx context.Context, agentID string) (ed25519.PublicKey, *domain.AgentIdentityRecord, error) {
	rec, err := c.ResolveIdentity(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}

	c.mu.RLock()
	ke, ok := c.keys[agentID]
	c.mu.RUnlock()
	if ok && ke.raw == rec.PublicKey {
		return ke.key, rec, nil
	}

	pub, err := ParsePublicKey(rec.PublicKey)
	if err != nil {
		c.logger.Warn("unparseable public key in directory record",
			zap.String("agent_id", agentID), zap.Error(err))
		return nil, nil, err
	}

	c.mu.Lock()
	c.keys[agentID] = keyEntry{raw: rec.PublicKey, key: pub}
	c.mu.Unlock()

	return pub, rec, nil
}

// Invalidate выбрасывает агента из обоих кэшей, не дожидаясь TTL.
// Вызывается вотчером отзывов при сигнале из Redis.
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.records, agentID)
	delete(c.keys, agentID)
	c.mu.Unlock()
}

func (c *Cache) hit() {
	if c.metrics != nil && c.metrics.Hits != nil {
		c.metrics.Hits.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil && c.metrics.Misses != nil {
		c.metrics.Misses.Inc()
	}
}
