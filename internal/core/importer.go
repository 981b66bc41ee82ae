package core

// importer.go drives one import batch:
//
//	read rows -> resolve mapping -> map rows -> reconcile -> write changes
//
// Rows are processed sequentially in source order. Only a source that
// cannot be read at all fails the run; row and write problems are counted
// on the result. Writes to a RecordSink go out in small chunks with a pause
// between chunks so remote stores are not flooded.
//
// The Importer holds no per-run state and may be shared, but two runs of
// the same kind against the same collection must not overlap: the caller
// owns that lock.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/tabimport/internal/logging"
	"github.com/google/uuid"
)

// Defaults for sink writes.
const (
	DefaultChunkSize  = 5
	DefaultChunkDelay = 250 * time.Millisecond
)

// Preview sample limits.
const (
	maxNewSamples    = 10
	maxUpdateSamples = 10
	maxErrorSamples  = 20
)

// RowSource provides the rows of one batch. Columns must be known up front
// and rows returned in a stable order.
type RowSource interface {
	// Name identifies the source, for example a file name or list URL.
	Name() string
	Read(ctx context.Context) (*RowSet, error)
}

// RecordSink persists reconciled records, one upsert per record.
type RecordSink interface {
	Upsert(ctx context.Context, rec Record) error
}

// Observer is told about every finished run. err is nil on success.
type Observer interface {
	ObserveImport(result *ImportResult, err error)
}

// ImportRequest describes one run.
type ImportRequest struct {
	Kind   Kind
	Source RowSource

	// MappingSource is the identity the field mapping is saved under.
	// Defaults to Source.Name().
	MappingSource string

	// Mapping holds explicit per-run column choices; they win over saved
	// and auto-mapped columns.
	Mapping FieldMapping

	// Remap re-runs auto-mapping over saved entries.
	Remap bool

	// Existing is the current collection to reconcile against.
	Existing []Record

	// Projects are used to resolve project-name references.
	Projects []ProjectRef

	// FilterTarget overrides the kind's row filter target.
	FilterTarget string

	// RunID names the run in logs, progress and results. Defaults to a
	// new UUID.
	RunID string
}

// Importer runs import batches.
type Importer struct {
	mappings   MappingStore
	sink       RecordSink
	observer   Observer
	progress   ProgressCallback
	policy     MergePolicy
	chunkSize  int
	chunkDelay time.Duration
}

// Option configures an Importer.
type Option func(*Importer)

// WithMappingStore persists field mappings between runs.
func WithMappingStore(s MappingStore) Option {
	return func(i *Importer) { i.mappings = s }
}

// WithSink writes added and updated records after reconciliation.
func WithSink(s RecordSink) Option {
	return func(i *Importer) { i.sink = s }
}

// WithObserver reports every finished run.
func WithObserver(o Observer) Option {
	return func(i *Importer) { i.observer = o }
}

// WithProgress receives phase updates.
func WithProgress(cb ProgressCallback) Option {
	return func(i *Importer) { i.progress = cb }
}

// WithPolicy sets the merge policy.
func WithPolicy(p MergePolicy) Option {
	return func(i *Importer) { i.policy = p }
}

// WithChunking sets the sink write chunk size and the pause between chunks.
func WithChunking(size int, delay time.Duration) Option {
	return func(i *Importer) {
		if size > 0 {
			i.chunkSize = size
		}
		if delay >= 0 {
			i.chunkDelay = delay
		}
	}
}

// NewImporter creates an Importer. Without options it reconciles in memory
// and saves nothing.
func NewImporter(opts ...Option) *Importer {
	i := &Importer{
		policy:     DefaultMergePolicy(),
		chunkSize:  DefaultChunkSize,
		chunkDelay: DefaultChunkDelay,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// run carries the intermediate state of one batch.
type run struct {
	id      string
	req     ImportRequest
	def     *EntityDefinition
	logger  *slog.Logger
	result  *ImportResult
	columns []string

	read           bool
	reconciliation *Reconciliation
	rowErrors      []*RowError
}

// Run imports one batch and writes the changes to the sink, if any.
// The returned result is non-nil whenever the source was read, including
// when the context is cancelled partway.
func (i *Importer) Run(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	r, err := i.execute(ctx, req, false)
	if r == nil {
		return nil, err
	}
	if i.observer != nil {
		i.observer.ObserveImport(r.result, err)
	}
	if !r.read {
		return nil, err
	}
	return r.result, err
}

// PreviewResult describes what an import would do, without writing
// anything or saving the mapping.
type PreviewResult struct {
	Result        *ImportResult `json:"result"`
	Columns       []string      `json:"columns"`
	Unset         []string      `json:"unset"`
	NewSamples    []Record      `json:"newSamples"`
	UpdateSamples []Record      `json:"updateSamples"`
	ErrorSamples  []string      `json:"errorSamples"`
}

// Preview maps and reconciles a batch without side effects.
func (i *Importer) Preview(ctx context.Context, req ImportRequest) (*PreviewResult, error) {
	r, err := i.execute(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := &PreviewResult{
		Result:  r.result,
		Columns: r.columns,
		Unset:   r.result.Mapping.Unset(r.def),
	}

	byID := make(map[string]Record, len(r.reconciliation.Records))
	for _, rec := range r.reconciliation.Records {
		byID[rec.Base().ID] = rec
	}
	for _, ch := range r.reconciliation.Changes {
		rec := byID[ch.ID]
		switch {
		case ch.Type == ChangeAdded && len(out.NewSamples) < maxNewSamples:
			out.NewSamples = append(out.NewSamples, rec)
		case ch.Type == ChangeUpdated && len(out.UpdateSamples) < maxUpdateSamples:
			out.UpdateSamples = append(out.UpdateSamples, rec)
		}
	}
	for _, re := range r.rowErrors {
		if len(out.ErrorSamples) >= maxErrorSamples {
			break
		}
		out.ErrorSamples = append(out.ErrorSamples, re.Error())
	}
	return out, nil
}

func (i *Importer) execute(ctx context.Context, req ImportRequest, dryRun bool) (*run, error) {
	start := time.Now()

	if req.Source == nil {
		return nil, &SourceError{Source: "", Err: errors.New("no file provided")}
	}
	def, err := Definition(req.Kind)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:  req.RunID,
		req: req,
		def: def,
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if r.req.MappingSource == "" {
		r.req.MappingSource = req.Source.Name()
	}
	r.logger = logging.WithFields(ctx,
		"run_id", r.id,
		"kind", req.Kind,
		"source", req.Source.Name(),
	)
	r.result = &ImportResult{
		RunID:  r.id,
		Kind:   req.Kind,
		Source: req.Source.Name(),
	}

	r.logger.Info("import started", "dry_run", dryRun, "existing", len(req.Existing))
	i.report(r, PhaseStarting, 0, 0)

	// Read
	i.report(r, PhaseReading, 0, 0)
	set, err := req.Source.Read(ctx)
	if err != nil {
		return r, i.fail(r, asSourceError(req.Source.Name(), err))
	}
	if set == nil || (len(set.Columns) == 0 && len(set.Rows) > 0) {
		return r, i.fail(r, &SourceError{Source: req.Source.Name(), Err: ErrEmptySource})
	}
	r.read = true
	r.columns = set.Columns
	r.result.TotalRows = len(set.Rows)

	// Map
	i.report(r, PhaseMapping, 0, 0)
	mapping, err := i.resolveMapping(ctx, r, dryRun)
	if err != nil {
		r.read = false
		return r, i.fail(r, err)
	}

	mapper := NewMapper(def, set.Columns, mapping, MapOptions{
		Source:       req.Source.Name(),
		FilterTarget: req.FilterTarget,
		Projects:     req.Projects,
		Logger:       r.logger,
	})
	r.result.Mapping = mapper.Mapping()

	records := make([]Record, 0, len(set.Rows))
	for n, row := range set.Rows {
		if err := ctx.Err(); err != nil {
			i.finishCounts(r, mapper.Stats(), start)
			return r, i.fail(r, err)
		}
		rec, outcome, err := mapper.Map(row, n+2)
		if outcome == RowFailed {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				r.rowErrors = append(r.rowErrors, rowErr)
			}
			r.logger.Debug("row dropped", "error", err)
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	i.finishCounts(r, mapper.Stats(), start)
	if n := len(r.rowErrors); n > 0 {
		r.logger.Warn("rows could not be mapped", "failed", n)
	}

	// Reconcile
	i.report(r, PhaseReconciling, len(set.Rows), 0)
	r.reconciliation = Reconcile(req.Existing, records, i.policy)
	r.result.Records = r.reconciliation.Records
	r.result.Added = r.reconciliation.Added
	r.result.Updated = r.reconciliation.Updated
	r.result.Skipped = r.reconciliation.Skipped

	// Write
	if i.sink != nil && !dryRun {
		if err := i.write(ctx, r, r.reconciliation.Touched()); err != nil {
			r.result.Duration = time.Since(start)
			return r, i.fail(r, err)
		}
	}

	r.result.Duration = time.Since(start)
	i.report(r, PhaseComplete, len(set.Rows), r.result.Added+r.result.Updated-r.result.WriteFailed)
	r.logger.Info("import completed",
		"added", r.result.Added,
		"updated", r.result.Updated,
		"skipped", r.result.Skipped,
		"filtered", r.result.Filtered,
		"failed", r.result.Failed,
		"write_failed", r.result.WriteFailed,
		"degraded", r.result.Degraded,
		"duration_ms", r.result.Duration.Milliseconds(),
	)
	return r, nil
}

func (i *Importer) finishCounts(r *run, stats MapStats, start time.Time) {
	r.result.Filtered = stats.Filtered
	r.result.Blank = stats.Blank
	r.result.Failed = stats.Failed
	r.result.Degraded = stats.Degraded
	r.result.Duration = time.Since(start)
}

// resolveMapping builds the field mapping for the batch: the saved mapping
// for this source, else the best saved mapping for a matching header set,
// then auto-mapping for unset fields, then the request's explicit entries.
// The first mapping made for a source is saved.
func (i *Importer) resolveMapping(ctx context.Context, r *run, dryRun bool) (FieldMapping, error) {
	if err := ValidateMapping(r.def, r.req.Mapping); err != nil {
		return nil, err
	}

	key := MappingKey{Kind: r.req.Kind, Source: r.req.MappingSource}
	base := FieldMapping{}
	firstSight := false

	if i.mappings != nil {
		saved, err := i.mappings.Load(ctx, key)
		switch {
		case err == nil:
			base = saved.Fields
		case errors.Is(err, ErrMappingNotFound):
			firstSight = true
			if stored, listErr := i.mappings.List(ctx, r.req.Kind); listErr == nil {
				if matches := MatchMappings(r.columns, stored); len(matches) > 0 {
					base = matches[0].Mapping.Fields
					r.logger.Info("reusing mapping for matching headers",
						"from", matches[0].Mapping.Key.Source,
						"score", matches[0].Score,
					)
				}
			}
		default:
			r.logger.Warn("mapping store unavailable, auto-mapping", "error", err)
		}
	}

	resolver := NewColumnResolver(r.columns)
	mapping := resolver.AutoMap(r.def, base, r.req.Remap)
	for field, col := range r.req.Mapping {
		if col != "" {
			mapping[field] = col
		}
	}

	if i.mappings != nil && !dryRun && len(r.columns) > 0 && (firstSight || r.req.Remap || len(r.req.Mapping) > 0) {
		err := i.mappings.Save(ctx, StoredMapping{
			Key:       key,
			Fields:    mapping,
			Headers:   r.columns,
			UpdatedAt: Now(),
		})
		if err != nil {
			r.logger.Warn("could not save mapping", "error", err)
		}
	}

	return mapping, nil
}

// write upserts records in chunks. Failed writes are counted, not retried,
// and earlier writes are never rolled back.
func (i *Importer) write(ctx context.Context, r *run, records []Record) error {
	i.report(r, PhaseWriting, r.result.TotalRows, 0)

	written := 0
	for startIdx := 0; startIdx < len(records); startIdx += i.chunkSize {
		if startIdx > 0 && i.chunkDelay > 0 {
			timer := time.NewTimer(i.chunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.result.WriteFailed += len(records) - startIdx
				return ctx.Err()
			case <-timer.C:
			}
		}

		end := min(startIdx+i.chunkSize, len(records))
		for _, rec := range records[startIdx:end] {
			if err := i.sink.Upsert(ctx, rec); err != nil {
				r.result.WriteFailed++
				r.logger.Warn("record write failed",
					"record_id", rec.Base().ID,
					"error", &SinkError{RecordID: rec.Base().ID, Err: err},
				)
				continue
			}
			written++
		}
		i.report(r, PhaseWriting, r.result.TotalRows, written)
	}

	if r.result.WriteFailed > 0 {
		r.logger.Warn("some records were not written",
			"written", written,
			"write_failed", r.result.WriteFailed,
		)
	}
	return nil
}

func (i *Importer) fail(r *run, err error) error {
	r.logger.Error("import failed", "error", err)
	if i.progress != nil {
		i.progress(ImportProgress{
			RunID:  r.id,
			Kind:   r.req.Kind,
			Source: r.result.Source,
			Phase:  PhaseFailed,
			Error:  err.Error(),
		})
	}
	return err
}

func (i *Importer) report(r *run, phase ImportPhase, current, written int) {
	if i.progress == nil {
		return
	}
	i.progress(ImportProgress{
		RunID:      r.id,
		Kind:       r.req.Kind,
		Source:     r.result.Source,
		Phase:      phase,
		TotalRows:  r.result.TotalRows,
		CurrentRow: current,
		Written:    written,
	})
}

func asSourceError(name string, err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &SourceError{Source: name, Err: fmt.Errorf("read: %w", err)}
}
