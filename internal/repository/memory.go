package repository

import (
	"context"
	"sync"
	"time"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

// MemoryStore хранит записи о попытках в памяти процесса. Записи теряются при перезапуске.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.AttemptRecord
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.AttemptRecord),
	}
}

// Get возвращает запись актора.
func (m *MemoryStore) Get(_ context.Context, actorID string) (model.AttemptRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[actorID]
	return rec, ok, nil
}

// Set сохраняет запись. ttl не используется: просроченные записи удаляет лимитер при чтении.
func (m *MemoryStore) Set(_ context.Context, rec model.AttemptRecord, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ActorID] = rec
	return nil
}

// Delete удаляет запись актора.
func (m *MemoryStore) Delete(_ context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, actorID)
	return nil
}

// AcquireAttempt учитывает попытку под блокировкой хранилища, если актор не заблокирован.
func (m *MemoryStore) AcquireAttempt(_ context.Context, actorID string, maxAttempts int, cooldown time.Duration, now time.Time) (model.AuthDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.current(actorID, cooldown, now)
	if rec.Count >= maxAttempts {
		return model.AuthDecision{
			Allowed:           false,
			RemainingCooldown: rec.RemainingCooldown(now, cooldown),
		}, nil
	}

	rec.Count++
	rec.LastAttemptAt = now
	m.records[actorID] = rec
	return model.AuthDecision{Allowed: true}, nil
}

// RecordAttempt учитывает попытку под блокировкой хранилища.
func (m *MemoryStore) RecordAttempt(_ context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.current(actorID, cooldown, now)
	rec.Count++
	rec.LastAttemptAt = now
	m.records[actorID] = rec
	return nil
}

// PurgeStale удаляет запись актора, если её окно ожидания истекло.
func (m *MemoryStore) PurgeStale(_ context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[actorID]; ok && rec.Expired(now, cooldown) {
		delete(m.records, actorID)
	}
	return nil
}

// current возвращает действующую запись актора; просроченная запись начинается заново.
// Вызывается под m.mu.
func (m *MemoryStore) current(actorID string, cooldown time.Duration, now time.Time) model.AttemptRecord {
	rec, ok := m.records[actorID]
	if !ok || rec.Expired(now, cooldown) {
		return model.AttemptRecord{ActorID: actorID}
	}
	return rec
}

// Len возвращает число хранимых записей.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close ничего не делает и нужен для единообразия с внешними хранилищами.
func (m *MemoryStore) Close() error {
	return nil
}
