package core

// mapper.go turns raw rows into canonical records.
//
// Each entity kind declares an EntityDefinition: the logical fields with
// their candidate column names, an optional row filter, and a Build func.
// A Mapper binds a definition to one batch: columns are resolved once, then
// every row goes through Map. Build funcs read the row through RowContext,
// which applies the value parsers and counts every fallback it takes.

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldSpec describes one logical field of an entity kind.
type FieldSpec struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	// Candidates are source column names in preference order, including
	// synonyms, abbreviations and Spanish variants.
	Candidates []string `json:"candidates"`
	// Required fields block a row when no value can be derived for them.
	Required bool `json:"required"`
}

// RowFilter keeps only rows whose Field value, trimmed and upper-cased,
// equals Target.
type RowFilter struct {
	Field  string `json:"field"`
	Target string `json:"target"`
}

// EntityDefinition declares how one entity kind is mapped.
type EntityDefinition struct {
	Kind       Kind
	Label      string
	IDPrefix   string
	Fields     []FieldSpec
	Filter     *RowFilter
	Vocabulary *Vocabulary

	// Build creates the record for one row. It returns an error wrapping
	// ErrRowUnmappable when the row cannot yield a minimally valid record.
	Build func(c *RowContext) (Record, error)
}

// Field returns the named field.
func (d *EntityDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ProjectRef is a known project a row may point at by name.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectRefs collects the references of the projects in records.
func ProjectRefs(records []Record) []ProjectRef {
	var out []ProjectRef
	for _, r := range records {
		if p, ok := r.(*Project); ok && p.Name != "" {
			out = append(out, ProjectRef{ID: p.ID, Name: p.Name})
		}
	}
	return out
}

// MapOptions configures a Mapper for one batch.
type MapOptions struct {
	// Source is stored on every record's Meta.Source.
	Source string
	// FilterTarget overrides the definition's row filter target.
	FilterTarget string
	// Projects are matched against project-name cells.
	Projects []ProjectRef
	// Logger receives per-batch warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// RowOutcome is what Map did with a row.
type RowOutcome int

const (
	RowMapped RowOutcome = iota
	RowBlank
	RowFiltered
	RowFailed
)

func (o RowOutcome) String() string {
	switch o {
	case RowMapped:
		return "mapped"
	case RowBlank:
		return "blank"
	case RowFiltered:
		return "filtered"
	case RowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MapStats aggregates outcomes and degradations over a batch.
type MapStats struct {
	Mapped   int `json:"mapped"`
	Blank    int `json:"blank"`
	Filtered int `json:"filtered"`
	Failed   int `json:"failed"`
	Degraded int `json:"degraded"`
}

// Mapper maps the rows of one batch for one entity kind.
// It is not safe for concurrent use.
type Mapper struct {
	def      *EntityDefinition
	resolver *ColumnResolver
	columns  map[string]string
	mapping  FieldMapping

	// A non-empty filterTarget filters every row; with no filterColumn
	// no row can match it.
	filterColumn string
	filterTarget string

	source   string
	projects []ProjectRef
	stats    MapStats
}

// NewMapper binds def to a batch with the given columns.
// Explicit entries in mapping are used verbatim; other fields are resolved
// from their candidates.
func NewMapper(def *EntityDefinition, columns []string, mapping FieldMapping, opts MapOptions) *Mapper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mapper{
		def:      def,
		resolver: NewColumnResolver(columns),
		columns:  make(map[string]string, len(def.Fields)),
		source:   opts.Source,
		projects: opts.Projects,
	}
	m.mapping = m.resolver.AutoMap(def, mapping, false)
	for _, f := range def.Fields {
		if col, ok := m.mapping.Column(f.Name); ok {
			m.columns[f.Name] = col
		}
	}

	if def.Filter != nil {
		target := def.Filter.Target
		if opts.FilterTarget != "" {
			target = opts.FilterTarget
		}
		m.filterTarget = strings.ToUpper(strings.TrimSpace(target))
		if m.filterTarget != "" {
			col, ok := m.columns[def.Filter.Field]
			if ok {
				m.filterColumn = col
			} else {
				logger.Warn("row filter column not found, every row is filtered",
					"kind", def.Kind,
					"field", def.Filter.Field,
					"target", m.filterTarget,
				)
			}
		}
	}

	return m
}

// Mapping returns the effective field mapping for the batch.
func (m *Mapper) Mapping() FieldMapping {
	return m.mapping.Clone()
}

// Stats returns the counts accumulated so far.
func (m *Mapper) Stats() MapStats {
	return m.stats
}

// Map maps one row. line is the 1-based source line, used in errors.
// A non-nil error is returned only with RowFailed and wraps ErrRowUnmappable.
func (m *Mapper) Map(row RawRow, line int) (Record, RowOutcome, error) {
	if row.IsBlank() {
		m.stats.Blank++
		return nil, RowBlank, nil
	}

	if m.filterTarget != "" {
		var v any
		if m.filterColumn != "" {
			v, _ = row.Get(m.filterColumn)
		}
		if strings.ToUpper(ValueString(v)) != m.filterTarget {
			m.stats.Filtered++
			return nil, RowFiltered, nil
		}
	}

	c := &RowContext{
		Row:      row,
		Line:     line,
		mapper:   m,
		provided: make(map[string]bool),
	}

	rec, err := m.def.Build(c)
	if err == nil && rec == nil {
		err = fmt.Errorf("no record produced")
	}
	if err != nil {
		m.stats.Failed++
		return nil, RowFailed, &RowError{Line: line, Reason: "cannot build " + string(m.def.Kind), Err: err}
	}

	now := Now()
	meta := rec.Base()
	if meta.ID == "" {
		meta.ID = c.DeriveID("")
	}
	if meta.Source == "" {
		meta.Source = m.source
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	meta.Provided = c.provided

	if err := ValidateRecord(rec); err != nil {
		m.stats.Failed++
		return nil, RowFailed, &RowError{Line: line, Reason: "invalid " + string(m.def.Kind), Err: err}
	}

	m.stats.Mapped++
	m.stats.Degraded += c.degraded
	return rec, RowMapped, nil
}

// RowContext gives a Build func typed access to one row.
// Every accessor takes a logical field name.
type RowContext struct {
	Row  RawRow
	Line int

	mapper   *Mapper
	provided map[string]bool
	degraded int
}

// Column returns the source column bound to field.
func (c *RowContext) Column(field string) (string, bool) {
	col, ok := c.mapper.columns[field]
	return col, ok
}

// Value returns the raw cell for field. ok is false when the field has no
// column or the cell is empty.
func (c *RowContext) Value(field string) (any, bool) {
	col, ok := c.mapper.columns[field]
	if !ok {
		return nil, false
	}
	v, ok := c.Row.Get(col)
	if !ok || isEmptyValue(v) {
		return nil, false
	}
	return v, true
}

// Has reports whether field has a non-empty cell.
func (c *RowContext) Has(field string) bool {
	_, ok := c.Value(field)
	return ok
}

// Provide marks field as supplied by the source, so it overwrites on merge.
func (c *RowContext) Provide(field string) {
	c.provided[field] = true
}

// Degrade records a field that fell back to a default.
func (c *RowContext) Degrade() {
	c.degraded++
}

// Text returns the cleaned text of field, or "".
func (c *RowContext) Text(field string) string {
	v, ok := c.Value(field)
	if !ok {
		return ""
	}
	s := ValueString(v)
	if s != "" {
		c.provided[field] = true
	}
	return s
}

// TextOr returns the text of field, or def when the cell is empty.
func (c *RowContext) TextOr(field, def string) string {
	if s := c.Text(field); s != "" {
		return s
	}
	return def
}

// Currency parses field as money. Missing cells are 0.
func (c *RowContext) Currency(field string) float64 {
	return c.amount(field, ParseCurrency)
}

// Count parses field as a quantity. Missing cells are 0.
func (c *RowContext) Count(field string) float64 {
	return c.amount(field, ParseCount)
}

// CurrencyOr parses field as money, or returns def when the cell is empty
// or unusable.
func (c *RowContext) CurrencyOr(field string, def float64) float64 {
	v, ok := c.Value(field)
	if !ok {
		return def
	}
	p := ParseCurrency(v)
	if p.Degraded {
		c.degraded++
		return def
	}
	c.provided[field] = true
	return p.Value
}

func (c *RowContext) amount(field string, parse func(any) Parsed[float64]) float64 {
	v, ok := c.Value(field)
	if !ok {
		return 0
	}
	p := parse(v)
	if p.Degraded {
		c.degraded++
	} else {
		c.provided[field] = true
	}
	return p.Value
}

// Date parses field as a date. Missing or garbled cells give Now().
func (c *RowContext) Date(field string) time.Time {
	v, ok := c.Value(field)
	p := ParseDate(v)
	if p.Degraded {
		c.degraded++
	} else if ok {
		c.provided[field] = true
	}
	return p.Value
}

// OptionalDate parses field as a date. Missing cells give the zero time;
// garbled cells give Now().
func (c *RowContext) OptionalDate(field string) time.Time {
	if !c.Has(field) {
		return time.Time{}
	}
	return c.Date(field)
}

// Status classifies field with the definition's vocabulary.
// Empty cells give the default without counting a degradation.
func (c *RowContext) Status(field string) string {
	voc := c.mapper.def.Vocabulary
	if voc == nil {
		return ""
	}
	s := c.Text(field)
	if s == "" {
		return voc.Default
	}
	value, fellBack := voc.ClassifyDetailed(s)
	if fellBack {
		c.degraded++
	}
	return value
}

// DeriveID builds the record id: "<prefix>-<natural>" when a natural key is
// given, else "<prefix>-<unix millis>-<random suffix>".
func (c *RowContext) DeriveID(natural string) string {
	prefix := c.mapper.def.IDPrefix
	if key := strings.Join(strings.Fields(CleanCell(natural)), "-"); key != "" {
		return prefix + "-" + key
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, Now().UnixMilli(), suffix)
}

// Project resolves the project named in field against the known projects:
// a case-insensitive substring match in either direction. An unmatched name
// yields UnknownProjectID. ok is false when the cell is empty.
func (c *RowContext) Project(field string) (ref ProjectRef, ok bool) {
	name := c.Text(field)
	if name == "" {
		return ProjectRef{}, false
	}
	if p, found := MatchProject(name, c.mapper.projects); found {
		return p, true
	}
	return ProjectRef{ID: UnknownProjectID, Name: UnknownProjectName}, true
}

// MatchProject finds the first project whose name contains name or is
// contained in it, ignoring case and accents.
func MatchProject(name string, projects []ProjectRef) (ProjectRef, bool) {
	needle := Fold(name)
	if needle == "" {
		return ProjectRef{}, false
	}
	for _, p := range projects {
		hay := Fold(p.Name)
		if hay == "" {
			continue
		}
		if strings.Contains(hay, needle) || strings.Contains(needle, hay) {
			return p, true
		}
	}
	return ProjectRef{}, false
}

// Unmappable returns an error for a row that cannot produce a record.
func Unmappable(reason string) error {
	return fmt.Errorf("%w: %s", ErrRowUnmappable, reason)
}
