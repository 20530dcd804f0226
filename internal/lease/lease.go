// Package lease serialises writers of the posting store. Every mutating
// invocation holds the store lease while it reads and writes the manifest
// and dedup index.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StoreLease names the lease guarding the posting store.
const StoreLease = "jobstore:writer"

// ErrHeld is returned by Acquire when another holder owns the lease.
var ErrHeld = errors.New("lease held by another writer")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases by name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// Noop grants every request. Only tests and single-shot tools that are sure
// of being the sole writer should use it.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(context.Context, string, time.Duration) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

// Local serialises writers inside one process. It is the default when no
// shared lease backend is configured: HTTP triggers and cron ticks in the
// same process then never interleave their store writes. The ttl is ignored;
// a lease lives until released.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal returns an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Acquire grants name unless it is already held, in which case it returns
// ErrHeld without waiting.
func (l *Local) Acquire(_ context.Context, name string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrHeld
	}
	l.held[name] = true
	return &localLease{owner: l, name: name}, nil
}

type localLease struct {
	owner *Local
	name  string
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.name)
		l.owner.mu.Unlock()
	})
	return nil
}
