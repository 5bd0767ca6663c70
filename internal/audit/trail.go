// Package audit — асинхронный аудит-трейл шлюза.
//
// Неблокирующая запись из Hot Path через буферизованный канал: задержки БД
// не влияют на Response Time. Воркер копит события и пишет их пачками
// по таймеру либо по достижении лимита. При остановке канал "запирается"
// и воркер дочитывает остаток до конца (Drain Pattern) — финальный flush
// гарантирует отсутствие потерь при штатной перезагрузке.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const batchLimit = 100

// StorageInterface определяет, куда физически сохраняются события.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor — то, что видит роутер.
type Auditor interface {
	Log(event Event)
}

type Trail struct {
	ch            chan Event
	repo          StorageInterface
	logger        *zap.Logger
	flushInterval time.Duration
	wg            sync.WaitGroup
	isClosed      int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo StorageInterface, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		flushInterval: flushInterval,
		logger:        logger.With(zap.String("mod", "audit")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит хотя бы в логгер,
	// но запрос не ждет
	select {
	case t.ch <- event:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("trace_id", event.TraceID),
			zap.String("consumer_agent_id", event.ConsumerAgentID),
			zap.String("stage", event.Stage),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, batchLimit)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Закрытие канала в Stop() — самодостаточный сигнал завершения:
				// сначала дочитываем очередь, потом финальный flush
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopAuditor — заглушка для конфигураций без Postgres (и для тестов).
type NopAuditor struct{}

func (NopAuditor) Log(Event) {}
