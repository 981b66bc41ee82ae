package runs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// ErrTooManyImports is returned when every import slot stays busy for the
// whole wait time.
var ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

// ErrImportRunning is returned when another run of the same kind holds the
// kind's lock. Reconciliation reads and rewrites the whole collection, so
// two runs of one kind would overwrite each other's changes.
var ErrImportRunning = errors.New("import already running")

const (
	DefaultMaxConcurrent = 4
	DefaultMaxWait       = 30 * time.Second
)

// Limiter bounds the number of runs in progress with a semaphore.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
}

// NewLimiter allows maxConcurrent runs. Callers wait up to maxWait for a slot.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.slots
}

func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Drain blocks until no run holds a slot.
func (l *Limiter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot for health reporting.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

func (l *Limiter) Status() LimiterStatus {
	active := l.Active()
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}

// kindLocks allows one run per kind.
type kindLocks struct {
	mu   sync.Mutex
	held map[core.Kind]string
}

func newKindLocks() *kindLocks {
	return &kindLocks{held: make(map[core.Kind]string)}
}

func (k *kindLocks) lock(kind core.Kind, runID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[kind]; busy {
		return ErrImportRunning
	}
	k.held[kind] = runID
	return nil
}

func (k *kindLocks) unlock(kind core.Kind, runID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held[kind] == runID {
		delete(k.held, kind)
	}
}

// holder returns the run holding kind's lock, if any.
func (k *kindLocks) holder(kind core.Kind) (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	id, ok := k.held[kind]
	return id, ok
}
