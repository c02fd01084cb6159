package repository

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAccountLocked is returned when another confirm is already running for
// the same account.
var ErrAccountLocked = errors.New("account has an import confirm in progress")

// AccountLocker serializes confirms per account. Release must be called with
// the value returned by Acquire.
type AccountLocker interface {
	Acquire(ctx context.Context, accountID uuid.UUID) (release func(), err error)
}

// PGAccountLocker takes a Postgres advisory lock keyed by the account id, so
// confirms are serialized across processes. The lock is tied to a pinned
// pool connection and released with it.
type PGAccountLocker struct {
	pool *pgxpool.Pool
}

func NewPGAccountLocker(pool *pgxpool.Pool) *PGAccountLocker {
	return &PGAccountLocker{pool: pool}
}

func lockKey(accountID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(accountID[:])
	return int64(h.Sum64())
}

func (l *PGAccountLocker) Acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for account lock: %w", err)
	}

	key := lockKey(accountID)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire account lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrAccountLocked
	}

	release := func() {
		// Best effort: closing the connection would also drop the lock.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, nil
}

// MemoryAccountLocker is an in-process locker for tests and the single-node
// CLI.
type MemoryAccountLocker struct {
	mu     sync.Mutex
	locked map[uuid.UUID]bool
}

func NewMemoryAccountLocker() *MemoryAccountLocker {
	return &MemoryAccountLocker{locked: make(map[uuid.UUID]bool)}
}

func (l *MemoryAccountLocker) Acquire(_ context.Context, accountID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[accountID] {
		return nil, ErrAccountLocked
	}
	l.locked[accountID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.locked, accountID)
	}, nil
}
