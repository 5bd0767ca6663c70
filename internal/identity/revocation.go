package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/amorce-labs/nexus-gateway/internal/infra"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationWatcher держит L1 (RAM) множество срочно отозванных агентов,
// синхронизированное с Redis (L2). Сигнал отзыва действует немедленно,
// не дожидаясь истечения TTL кэша идентичностей.
// Недоступность Redis деградирует до staleness в пределах TTL — запросы не блокируются.
type RevocationWatcher struct {
	mu      sync.RWMutex
	revoked map[string]struct{}

	rdb    *redis.Client
	cache  *Cache
	logger *zap.Logger
}

func NewRevocationWatcher(rdb *redis.Client, cache *Cache, logger *zap.Logger) *RevocationWatcher {
	return &RevocationWatcher{
		revoked: make(map[string]struct{}),
		rdb:     rdb,
		cache:   cache,
		logger:  logger.Named("revocation"),
	}
}

// Init загружает текущее множество отзывов при старте шлюза.
func (w *RevocationWatcher) Init(ctx context.Context) error {
	ids, err := w.rdb.SMembers(ctx, infra.RedisKeyRevokedAgents).Result()
	if err != nil {
		return err
	}

	w.mu.Lock()
	for _, id := range ids {
		w.revoked[id] = struct{}{}
	}
	w.mu.Unlock()

	w.logger.Info("revocation set warmed up", zap.Int("count", len(ids)))
	return nil
}

// StartListener — "живучая" подписка на сигналы отзыва с переподключением.
// Формат сообщения: "agent_id:on" / "agent_id:off".
func (w *RevocationWatcher) StartListener(ctx context.Context) {
	for {
		pubsub := w.rdb.Subscribe(ctx, infra.RedisChanRevocation)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to subscribe", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		// Синхронизация при каждом успешном коннекте: сигналы,
		// пропущенные за время обрыва, доберем из множества
		if err := w.Init(ctx); err != nil {
			w.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				w.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func (w *RevocationWatcher) processSignal(payload string) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		w.logger.Error("invalid revocation signal format", zap.String("payload", payload))
		return
	}
	agentID, state := parts[0], parts[1]

	switch state {
	case "on", "true":
		w.mu.Lock()
		w.revoked[agentID] = struct{}{}
		w.mu.Unlock()
		// Выбрасываем из кэша немедленно: следующая проверка подписи
		// увидит свежий статус из Directory
		if w.cache != nil {
			w.cache.Invalidate(agentID)
		}
		w.logger.Warn("agent revoked by signal", zap.String("agent_id", agentID))
	case "off", "false":
		w.mu.Lock()
		delete(w.revoked, agentID)
		w.mu.Unlock()
		if w.cache != nil {
			w.cache.Invalidate(agentID)
		}
		w.logger.Info("agent revocation lifted", zap.String("agent_id", agentID))
	default:
		w.logger.Error("unknown revocation state", zap.String("payload", payload))
	}
}

// IsRevoked — максимально быстрая проверка в Hot Path.
func (w *RevocationWatcher) IsRevoked(agentID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.revoked[agentID]
	return ok
}
