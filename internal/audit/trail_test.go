package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
}

func (s *memStorage) WriteBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *memStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestTrailFlushesOnStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 100, time.Hour, zap.NewNop()) // Тикер заведомо не сработает

	trail.Start()
	for i := 0; i < 7; i++ {
		trail.Log(Event{TraceID: "t", Stage: "relayed", Status: "RELAYED"})
	}
	trail.Stop()

	// Drain Pattern: всё, что попало в канал до Stop, обязано доехать
	require.Equal(t, 7, storage.total())
}

func TestTrailBatchesByLimit(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 1000, time.Hour, zap.NewNop())

	trail.Start()
	for i := 0; i < batchLimit*2; i++ {
		trail.Log(Event{TraceID: "t"})
	}
	trail.Stop()

	assert.Equal(t, batchLimit*2, storage.total())
	storage.mu.Lock()
	defer storage.mu.Unlock()
	assert.GreaterOrEqual(t, len(storage.batches), 2)
}

func TestTrailDropsAfterStop(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 10, time.Hour, zap.NewNop())

	trail.Start()
	trail.Stop()
	trail.Log(Event{TraceID: "late"}) // Не должно паниковать и не должно записаться

	assert.Equal(t, 0, storage.total())
}

func TestTrailStampsTimestamp(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, 10, time.Hour, zap.NewNop())

	trail.Start()
	trail.Log(Event{TraceID: "t"})
	trail.Stop()

	require.Equal(t, 1, storage.total())
	assert.False(t, storage.batches[0][0].Timestamp.IsZero())
}
