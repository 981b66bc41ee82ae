// Package runs executes import runs in the background, one per kind at a
// time, and lets callers follow their progress.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/logging"
)

// ErrRunNotFound is returned for unknown or expired run IDs.
var ErrRunNotFound = errors.New("run not found")

const (
	DefaultTimeout   = 10 * time.Minute
	DefaultRetention = 5 * time.Minute

	listenerBuffer = 16
)

// Collection loads the records a batch is reconciled against.
type Collection interface {
	LoadRecords(ctx context.Context, kind core.Kind) ([]core.Record, error)
}

// Tracker is told when runs start and finish.
type Tracker interface {
	RunStarted()
	RunFinished()
}

// Config bounds how runs execute.
type Config struct {
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	// Retention is how long a finished run stays queryable.
	Retention  time.Duration
	ChunkSize  int
	ChunkDelay time.Duration
}

// Deps are the collaborators a Manager hands to each run.
type Deps struct {
	// Records supplies the existing collection. When nil, requests are
	// reconciled against their own Existing records.
	Records  Collection
	Importer []core.Option
	Tracker  Tracker
}

// Manager starts import runs and tracks them until they expire.
type Manager struct {
	cfg     Config
	deps    Deps
	limiter *Limiter
	locks   *kindLocks

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// activeRun tracks a run in progress and for a while after it finishes.
type activeRun struct {
	id     string
	kind   core.Kind
	source string
	cancel context.CancelFunc
	done   chan struct{}

	// result and err are written once, before done is closed.
	result *core.ImportResult
	err    error

	mu        sync.Mutex
	progress  core.ImportProgress
	listeners []chan core.ImportProgress
}

// NewManager returns a Manager. Zero Config fields take their defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		limiter: NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		locks:   newKindLocks(),
		runs:    make(map[string]*activeRun),
	}
}

// Start begins an import in the background and returns its run ID.
//
// It fails with ErrTooManyImports when no slot frees up in time and with
// ErrImportRunning when the kind is already being imported. The run keeps
// the values of ctx but not its cancellation; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, req core.ImportRequest) (string, error) {
	if _, err := core.Definition(req.Kind); err != nil {
		return "", err
	}
	if err := m.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := m.locks.lock(req.Kind, id); err != nil {
		m.limiter.Release()
		return "", err
	}

	source := ""
	if req.Source != nil {
		source = req.Source.Name()
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
	run := &activeRun{
		id:     id,
		kind:   req.Kind,
		source: source,
		cancel: cancel,
		done:   make(chan struct{}),
		progress: core.ImportProgress{
			RunID:  id,
			Kind:   req.Kind,
			Source: source,
			Phase:  core.PhaseStarting,
		},
	}

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	if m.deps.Tracker != nil {
		m.deps.Tracker.RunStarted()
	}

	req.RunID = id
	go m.process(runCtx, run, req)
	return id, nil
}

// Run imports synchronously. Cancelling ctx cancels the run.
func (m *Manager) Run(ctx context.Context, req core.ImportRequest) (*core.ImportResult, error) {
	id, err := m.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := m.Wait(ctx, id)
	if ctx.Err() != nil {
		_ = m.Cancel(id)
	}
	return res, err
}

func (m *Manager) process(ctx context.Context, run *activeRun, req core.ImportRequest) {
	logger := logging.WithFields(ctx, "run_id", run.id, "kind", run.kind)

	defer func() {
		run.cancel()
		m.locks.unlock(run.kind, run.id)
		m.limiter.Release()
		if m.deps.Tracker != nil {
			m.deps.Tracker.RunFinished()
		}
		close(run.done)
		run.closeListeners()
		m.expire(run.id, m.cfg.Retention)
	}()

	if err := m.prepare(ctx, &req); err != nil {
		logger.Error("could not load existing records", "error", err)
		run.err = err
		run.fail(err)
		return
	}

	opts := []core.Option{core.WithChunking(m.cfg.ChunkSize, m.cfg.ChunkDelay)}
	opts = append(opts, m.deps.Importer...)
	opts = append(opts, core.WithProgress(run.update))

	run.result, run.err = core.NewImporter(opts...).Run(ctx, req)
	if run.err != nil {
		run.fail(run.err)
	}
}

// prepare fills the request's existing records and project references from
// the collection.
func (m *Manager) prepare(ctx context.Context, req *core.ImportRequest) error {
	if m.deps.Records == nil {
		if req.Projects == nil && req.Kind == core.KindProject {
			req.Projects = core.ProjectRefs(req.Existing)
		}
		return nil
	}

	existing, err := m.deps.Records.LoadRecords(ctx, req.Kind)
	if err != nil {
		return fmt.Errorf("%w: load %s records: %v", core.ErrSinkUnavailable, req.Kind, err)
	}
	req.Existing = existing

	if req.Projects != nil {
		return nil
	}
	projects := existing
	if req.Kind != core.KindProject {
		if projects, err = m.deps.Records.LoadRecords(ctx, core.KindProject); err != nil {
			logging.FromContext(ctx).Warn("project lookup unavailable", "error", err)
			return nil
		}
	}
	req.Projects = core.ProjectRefs(projects)
	return nil
}

// Preview maps and reconciles a batch against the stored collection without
// writing anything. It shares the import slots but not the kind locks.
func (m *Manager) Preview(ctx context.Context, req core.ImportRequest) (*core.PreviewResult, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.limiter.Release()

	if err := m.prepare(ctx, &req); err != nil {
		return nil, err
	}
	return core.NewImporter(m.deps.Importer...).Preview(ctx, req)
}

// Wait blocks until the run finishes and returns its outcome.
func (m *Manager) Wait(ctx context.Context, id string) (*core.ImportResult, error) {
	run, err := m.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.result, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Progress returns the latest progress without blocking.
func (m *Manager) Progress(id string) (core.ImportProgress, error) {
	run, err := m.get(id)
	if err != nil {
		return core.ImportProgress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Subscribe returns a channel of progress updates, starting with the latest.
// The channel is closed when the run finishes; slow readers miss updates.
// Call the returned function to stop listening early.
func (m *Manager) Subscribe(id string) (<-chan core.ImportProgress, func(), error) {
	run, err := m.get(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan core.ImportProgress, listenerBuffer)

	run.mu.Lock()
	ch <- run.progress
	select {
	case <-run.done:
		run.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	default:
	}
	run.listeners = append(run.listeners, ch)
	run.mu.Unlock()

	return ch, func() { run.removeListener(ch) }, nil
}

// Cancel stops a run in progress. Cancelling a finished run does nothing.
func (m *Manager) Cancel(id string) error {
	run, err := m.get(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Running returns the run importing kind, if any.
func (m *Manager) Running(kind core.Kind) (string, bool) {
	return m.locks.holder(kind)
}

// Status reports import slot usage.
func (m *Manager) Status() LimiterStatus {
	return m.limiter.Status()
}

// Drain waits for every run in progress to finish.
func (m *Manager) Drain(ctx context.Context) error {
	return m.limiter.Drain(ctx)
}

func (m *Manager) get(id string) (*activeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// expire forgets a finished run after delay.
func (m *Manager) expire(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.runs, id)
		m.mu.Unlock()
	})
}

// update records p and forwards it to listeners.
func (r *activeRun) update(p core.ImportProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = p
	for _, ch := range r.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

// fail marks the run failed unless the importer already did.
func (r *activeRun) fail(err error) {
	r.mu.Lock()
	phase := r.progress.Phase
	r.mu.Unlock()
	if phase == core.PhaseFailed {
		return
	}
	r.update(core.ImportProgress{
		RunID:  r.id,
		Kind:   r.kind,
		Source: r.source,
		Phase:  core.PhaseFailed,
		Error:  err.Error(),
	})
}

func (r *activeRun) closeListeners() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.listeners {
		close(ch)
	}
	r.listeners = nil
}

func (r *activeRun) removeListener(ch chan core.ImportProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.listeners {
		if l == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}
