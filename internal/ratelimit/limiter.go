// Package ratelimit ограничивает число попыток оплаты одного актора в окне ожидания.
package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

const (
	// DefaultMaxAttempts задаёт число попыток, после которого актор блокируется.
	DefaultMaxAttempts = 3
	// DefaultCooldown задаёт окно ожидания, после которого счётчик попыток сбрасывается.
	DefaultCooldown = 15 * time.Minute

	lockStripes = 256
)

// Store описывает хранилище записей о попытках.
// Set получает ttl, равный окну ожидания, чтобы внешние хранилища могли удалять записи сами.
type Store interface {
	Get(ctx context.Context, actorID string) (model.AttemptRecord, bool, error)
	Set(ctx context.Context, rec model.AttemptRecord, ttl time.Duration) error
	Delete(ctx context.Context, actorID string) error
}

// AtomicStore реализуют хранилища, которые выполняют чтение и запись записи актора одной операцией
// на своей стороне. Только такое хранилище можно делить между несколькими экземплярами сервиса:
// мьютексы лимитера сериализуют вызовы лишь внутри одного процесса.
type AtomicStore interface {
	// AcquireAttempt учитывает попытку, если актор не заблокирован, и возвращает решение.
	AcquireAttempt(ctx context.Context, actorID string, maxAttempts int, cooldown time.Duration, now time.Time) (model.AuthDecision, error)
	// RecordAttempt безусловно учитывает попытку; просроченная запись начинается заново.
	RecordAttempt(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error
	// PurgeStale удаляет запись, только если её окно ожидания к моменту now истекло.
	PurgeStale(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error
}

// Config содержит параметры лимитера.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter считает попытки оплаты по акторам.
// Операции над одним актором сериализуются внутри процесса, поэтому две параллельные попытки
// не могут одновременно увидеть count < max. Между процессами это гарантирует AtomicStore.
type Limiter struct {
	store  Store
	atomic AtomicStore
	cfg    Config
	now    func() time.Time
	locks  [lockStripes]sync.Mutex
}

// New создаёт лимитер поверх указанного хранилища. Нулевые значения конфигурации заменяются значениями по умолчанию.
func New(store Store, cfg Config, opts ...Option) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	l := &Limiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	if as, ok := store.(AtomicStore); ok {
		l.atomic = as
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config возвращает действующие параметры лимитера.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check сообщает, разрешена ли актору новая попытка. Просроченная запись удаляется.
func (l *Limiter) Check(ctx context.Context, actorID string) (model.AuthDecision, error) {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	return l.check(ctx, actorID, l.now())
}

// Record увеличивает счётчик попыток актора и обновляет время последней попытки.
func (l *Limiter) Record(ctx context.Context, actorID string) error {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	if l.atomic != nil {
		if err := l.atomic.RecordAttempt(ctx, actorID, l.cfg.Cooldown, l.now()); err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		return nil
	}

	return l.record(ctx, actorID, l.now())
}

// Acquire атомарно проверяет лимит и, если попытка разрешена, сразу её учитывает.
func (l *Limiter) Acquire(ctx context.Context, actorID string) (model.AuthDecision, error) {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	if l.atomic != nil {
		decision, err := l.atomic.AcquireAttempt(ctx, actorID, l.cfg.MaxAttempts, l.cfg.Cooldown, now)
		if err != nil {
			return model.AuthDecision{}, fmt.Errorf("acquire attempt: %w", err)
		}
		return decision, nil
	}

	decision, err := l.check(ctx, actorID, now)
	if err != nil || !decision.Allowed {
		return decision, err
	}

	if err := l.record(ctx, actorID, now); err != nil {
		return model.AuthDecision{}, err
	}
	return decision, nil
}

// Clear удаляет запись актора. Повторный вызов ничего не меняет.
func (l *Limiter) Clear(ctx context.Context, actorID string) error {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.Delete(ctx, actorID); err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, actorID string, now time.Time) (model.AuthDecision, error) {
	rec, ok, err := l.store.Get(ctx, actorID)
	if err != nil {
		return model.AuthDecision{}, fmt.Errorf("get attempts: %w", err)
	}
	if !ok {
		return model.AuthDecision{Allowed: true}, nil
	}

	if rec.Expired(now, l.cfg.Cooldown) {
		if err := l.purge(ctx, actorID, now); err != nil {
			return model.AuthDecision{}, fmt.Errorf("purge attempts: %w", err)
		}
		return model.AuthDecision{Allowed: true}, nil
	}

	if rec.Count < l.cfg.MaxAttempts {
		return model.AuthDecision{Allowed: true}, nil
	}

	return model.AuthDecision{
		Allowed:           false,
		RemainingCooldown: rec.RemainingCooldown(now, l.cfg.Cooldown),
	}, nil
}

// purge удаляет просроченную запись. Общее хранилище удаляет её условно, чтобы не стереть
// попытку, которую другой экземпляр успел учесть после чтения.
func (l *Limiter) purge(ctx context.Context, actorID string, now time.Time) error {
	if l.atomic != nil {
		return l.atomic.PurgeStale(ctx, actorID, l.cfg.Cooldown, now)
	}
	return l.store.Delete(ctx, actorID)
}

func (l *Limiter) record(ctx context.Context, actorID string, now time.Time) error {
	rec, ok, err := l.store.Get(ctx, actorID)
	if err != nil {
		return fmt.Errorf("get attempts: %w", err)
	}

	if !ok || rec.Expired(now, l.cfg.Cooldown) {
		rec = model.AttemptRecord{ActorID: actorID}
	}
	rec.Count++
	rec.LastAttemptAt = now

	if err := l.store.Set(ctx, rec, l.cfg.Cooldown); err != nil {
		return fmt.Errorf("set attempts: %w", err)
	}
	return nil
}

func (l *Limiter) lockFor(actorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	return &l.locks[h.Sum32()%lockStripes]
}
