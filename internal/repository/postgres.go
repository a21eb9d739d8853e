// Package repository содержит хранилища записей о попытках оплаты: в памяти, в Redis и в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/salon-payguard/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var retryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

// PostgresStore хранит записи о попытках в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт пул соединений и применяет миграции схемы.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || i == len(retryDelays) || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get возвращает запись актора.
func (s *PostgresStore) Get(ctx context.Context, actorID string) (model.AttemptRecord, bool, error) {
	rec := model.AttemptRecord{ActorID: actorID}

	err := s.withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx,
			`SELECT count, last_attempt_at FROM payment_attempts WHERE actor_id = $1`,
			actorID,
		).Scan(&rec.Count, &rec.LastAttemptAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AttemptRecord{}, false, nil
		}
		return model.AttemptRecord{}, false, fmt.Errorf("select attempts: %w", err)
	}

	return rec, true, nil
}

// Set сохраняет запись актора. ttl не используется: просроченные записи удаляет лимитер при чтении.
func (s *PostgresStore) Set(ctx context.Context, rec model.AttemptRecord, _ time.Duration) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO payment_attempts (actor_id, count, last_attempt_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (actor_id) DO UPDATE
			 SET count = EXCLUDED.count, last_attempt_at = EXCLUDED.last_attempt_at`,
			rec.ActorID, rec.Count, rec.LastAttemptAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert attempts: %w", err)
	}
	return nil
}

// Delete удаляет запись актора.
func (s *PostgresStore) Delete(ctx context.Context, actorID string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `DELETE FROM payment_attempts WHERE actor_id = $1`, actorID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	return nil
}

// AcquireAttempt проверяет лимит и учитывает попытку в одной транзакции. Строка актора
// блокируется через SELECT ... FOR UPDATE, поэтому параллельные вызовы с разных экземпляров
// выполняются по очереди.
func (s *PostgresStore) AcquireAttempt(ctx context.Context, actorID string, maxAttempts int, cooldown time.Duration, now time.Time) (model.AuthDecision, error) {
	var decision model.AuthDecision

	err := s.withRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			rec, err := lockAttempt(ctx, tx, actorID, now)
			if err != nil {
				return err
			}

			if rec.Expired(now, cooldown) {
				rec.Count = 0
			}
			if rec.Count >= maxAttempts {
				decision = model.AuthDecision{
					Allowed:           false,
					RemainingCooldown: rec.RemainingCooldown(now, cooldown),
				}
				return nil
			}

			decision = model.AuthDecision{Allowed: true}
			return saveAttempt(ctx, tx, actorID, rec.Count+1, now)
		})
	})
	if err != nil {
		return model.AuthDecision{}, fmt.Errorf("acquire attempt: %w", err)
	}

	return decision, nil
}

// RecordAttempt учитывает попытку в одной транзакции.
func (s *PostgresStore) RecordAttempt(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	err := s.withRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			rec, err := lockAttempt(ctx, tx, actorID, now)
			if err != nil {
				return err
			}

			if rec.Expired(now, cooldown) {
				rec.Count = 0
			}
			return saveAttempt(ctx, tx, actorID, rec.Count+1, now)
		})
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// PurgeStale удаляет запись актора, только если её окно ожидания истекло.
func (s *PostgresStore) PurgeStale(ctx context.Context, actorID string, cooldown time.Duration, now time.Time) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM payment_attempts WHERE actor_id = $1 AND last_attempt_at <= $2`,
			actorID, now.Add(-cooldown),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("purge attempts: %w", err)
	}
	return nil
}

// lockAttempt создаёт пустую запись, если её нет, и блокирует строку актора до конца транзакции.
func lockAttempt(ctx context.Context, tx pgx.Tx, actorID string, now time.Time) (model.AttemptRecord, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO payment_attempts (actor_id, count, last_attempt_at)
		 VALUES ($1, 0, $2)
		 ON CONFLICT (actor_id) DO NOTHING`,
		actorID, now,
	)
	if err != nil {
		return model.AttemptRecord{}, fmt.Errorf("insert attempts: %w", err)
	}

	rec := model.AttemptRecord{ActorID: actorID}
	err = tx.QueryRow(ctx,
		`SELECT count, last_attempt_at FROM payment_attempts WHERE actor_id = $1 FOR UPDATE`,
		actorID,
	).Scan(&rec.Count, &rec.LastAttemptAt)
	if err != nil {
		return model.AttemptRecord{}, fmt.Errorf("lock attempts: %w", err)
	}

	return rec, nil
}

func saveAttempt(ctx context.Context, tx pgx.Tx, actorID string, count int, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE payment_attempts SET count = $2, last_attempt_at = $3 WHERE actor_id = $1`,
		actorID, count, now,
	)
	if err != nil {
		return fmt.Errorf("update attempts: %w", err)
	}
	return nil
}
