package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Kind identifies an entity kind handled by the engine.
type Kind string

const (
	KindProject  Kind = "project"
	KindTicket   Kind = "ticket"
	KindLead     Kind = "lead"
	KindPurchase Kind = "purchase"
)

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts user input ("Projects", " lead ") to a Kind.
// Returns ErrUnknownKind if the value does not name a registered kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(Fold(s))
	if len(k) > 1 && k[len(k)-1] == 's' {
		if _, ok := Get(k[:len(k)-1]); ok {
			return k[:len(k)-1], nil
		}
	}
	if _, ok := Get(k); ok {
		return k, nil
	}
	return "", &UnknownKindError{Kind: s}
}

// RawRow is one row from a tabular source: the source's column names in
// order, and an untyped scalar per column (string, number, time.Time or nil).
type RawRow struct {
	Columns []string
	Values  map[string]any
}

// NewRawRow builds a RawRow from parallel header and cell slices.
// Cells beyond the header are dropped; missing cells are nil.
func NewRawRow(header []string, cells []string) RawRow {
	row := RawRow{
		Columns: header,
		Values:  make(map[string]any, len(header)),
	}
	for i, h := range header {
		if i < len(cells) {
			row.Values[h] = cells[i]
		} else {
			row.Values[h] = nil
		}
	}
	return row
}

// Get returns the value stored under the exact column name.
func (r RawRow) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// IsBlank reports whether every value in the row is nil or whitespace.
func (r RawRow) IsBlank() bool {
	for _, v := range r.Values {
		if !isEmptyValue(v) {
			return false
		}
	}
	return true
}

// RowSet is the full output of a row source: column names known up front,
// and rows in a stable source order.
type RowSet struct {
	Columns []string
	Rows    []RawRow
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting    ImportPhase = "starting"
	PhaseReading     ImportPhase = "reading"
	PhaseMapping     ImportPhase = "mapping"
	PhaseReconciling ImportPhase = "reconciling"
	PhaseWriting     ImportPhase = "writing"
	PhaseComplete    ImportPhase = "complete"
	PhaseFailed      ImportPhase = "failed"
)

// Done reports whether the phase ends a run.
func (p ImportPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// ImportProgress represents the current state of an import run.
type ImportProgress struct {
	RunID      string      `json:"runId"`
	Kind       Kind        `json:"kind"`
	Source     string      `json:"source"`
	Phase      ImportPhase `json:"phase"`
	TotalRows  int         `json:"totalRows"`
	CurrentRow int         `json:"currentRow"`
	Written    int         `json:"written"`
	Error      string      `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p ImportProgress) Percent() int {
	if p.TotalRows <= 0 {
		return 0
	}
	return (p.CurrentRow * 100) / p.TotalRows
}

// ProgressCallback is called as an import run moves through its phases.
type ProgressCallback func(ImportProgress)

// ImportResult contains the final result of an import run.
type ImportResult struct {
	RunID  string `json:"runId"`
	Kind   Kind   `json:"kind"`
	Source string `json:"source"`

	// Records is the merged collection; the caller owns persistence.
	Records []Record `json:"-"`

	TotalRows   int `json:"totalRows"`
	Added       int `json:"added"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Filtered    int `json:"filtered"`
	Blank       int `json:"blank"`
	Failed      int `json:"failed"`      // rows that could not produce a record
	WriteFailed int `json:"writeFailed"` // records the sink rejected
	Degraded    int `json:"degraded"`    // field values that fell back to a default

	Mapping  FieldMapping  `json:"mapping"`
	Duration time.Duration `json:"duration"`
}

// Failures returns the number of rows and writes that did not make it through.
func (r *ImportResult) Failures() int {
	return r.Failed + r.WriteFailed
}

// Summary is the one-line outcome shown to users.
func (r *ImportResult) Summary() string {
	return fmt.Sprintf("%d added, %d updated, %d failed", r.Added, r.Updated, r.Failures())
}
