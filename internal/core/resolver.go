package core

import (
	"sort"
	"strings"
)

// FieldMapping maps a logical field name to a source column name.
// A missing or empty entry means the field is unset.
type FieldMapping map[string]string

// Column returns the mapped column for field, if set.
func (m FieldMapping) Column(field string) (string, bool) {
	col, ok := m[field]
	return col, ok && col != ""
}

// Clone returns a copy of the mapping. A nil mapping clones to an empty one.
func (m FieldMapping) Clone() FieldMapping {
	out := make(FieldMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Unset returns the fields of def that have no column.
func (m FieldMapping) Unset(def *EntityDefinition) []string {
	var out []string
	for _, f := range def.Fields {
		if _, ok := m.Column(f.Name); !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// ColumnResolver finds the source column for a logical field.
// Build one per batch; header cleanup and folding happen once.
type ColumnResolver struct {
	columns []string
	cleaned []string
	folded  []string
}

// NewColumnResolver precomputes the lookup tables for columns.
func NewColumnResolver(columns []string) *ColumnResolver {
	r := &ColumnResolver{
		columns: columns,
		cleaned: make([]string, len(columns)),
		folded:  make([]string, len(columns)),
	}
	for i, c := range columns {
		r.cleaned[i] = CleanHeader(c)
		r.folded[i] = Fold(r.cleaned[i])
	}
	return r
}

// Columns returns the source columns in order.
func (r *ColumnResolver) Columns() []string {
	return r.columns
}

// Has reports whether column is one of the source columns.
func (r *ColumnResolver) Has(column string) bool {
	for _, c := range r.columns {
		if c == column {
			return true
		}
	}
	return false
}

// Resolve returns the source column for the first candidate that matches.
//
// Resolution order, first match wins:
//  1. exact, case-sensitive
//  2. exact, ignoring case and accents
//  3. a column containing the candidate, ignoring case and accents
//
// Candidates are tried in preference order at each step.
func (r *ColumnResolver) Resolve(candidates []string) (string, bool) {
	if col, ok := r.resolveExact(candidates, nil); ok {
		return col, true
	}
	return r.resolveContains(candidates, nil)
}

// resolveExact runs steps 1 and 2 of Resolve, skipping claimed columns.
func (r *ColumnResolver) resolveExact(candidates []string, claimed map[string]bool) (string, bool) {
	for _, cand := range candidates {
		for i, c := range r.columns {
			if !claimed[c] && (c == cand || r.cleaned[i] == cand) {
				return c, true
			}
		}
	}

	for _, cand := range candidates {
		fc := Fold(cand)
		if fc == "" {
			continue
		}
		for i, c := range r.columns {
			if !claimed[c] && r.folded[i] == fc {
				return c, true
			}
		}
	}
	return "", false
}

// resolveContains runs step 3 of Resolve, skipping claimed columns.
func (r *ColumnResolver) resolveContains(candidates []string, claimed map[string]bool) (string, bool) {
	for _, cand := range candidates {
		fc := Fold(cand)
		if fc == "" {
			continue
		}
		for i, c := range r.columns {
			if !claimed[c] && strings.Contains(r.folded[i], fc) {
				return c, true
			}
		}
	}
	return "", false
}

// Lookup resolves candidates and returns the row's value in that column.
func (r *ColumnResolver) Lookup(row RawRow, candidates []string) (any, bool) {
	col, ok := r.Resolve(candidates)
	if !ok {
		return nil, false
	}
	return row.Get(col)
}

// AutoMap fills the fields of def from the resolver's columns.
// Entries already set in existing are kept unless overwrite is true; with
// overwrite, a field the resolver cannot place keeps its previous column.
//
// Each column feeds at most one auto-mapped field. Exact header matches are
// placed for every field before any containment match, so "Ticket #" goes
// to the field naming it exactly rather than one listing "ticket".
func (r *ColumnResolver) AutoMap(def *EntityDefinition, existing FieldMapping, overwrite bool) FieldMapping {
	out := existing.Clone()
	claimed := make(map[string]bool)
	var pending []FieldSpec
	for _, f := range def.Fields {
		if col, set := out.Column(f.Name); set && !overwrite {
			claimed[col] = true
			continue
		}
		pending = append(pending, f)
	}

	for _, resolve := range []func([]string, map[string]bool) (string, bool){r.resolveExact, r.resolveContains} {
		var rest []FieldSpec
		for _, f := range pending {
			col, ok := resolve(f.Candidates, claimed)
			if !ok {
				rest = append(rest, f)
				continue
			}
			out[f.Name] = col
			claimed[col] = true
		}
		pending = rest
	}
	return out
}

// MappingMatchThreshold is the share of a saved mapping's headers that
// must be present for it to be offered again.
const MappingMatchThreshold = 0.7

// MappingMatch is a saved mapping scored against a header set.
type MappingMatch struct {
	Mapping StoredMapping `json:"mapping"`
	Score   float64       `json:"score"`
}

// MatchMappings returns the saved mappings whose headers overlap columns by
// at least MappingMatchThreshold, best first.
func MatchMappings(columns []string, stored []StoredMapping) []MappingMatch {
	var matches []MappingMatch
	for _, m := range stored {
		score := headerOverlap(columns, m.Headers)
		if score >= MappingMatchThreshold {
			matches = append(matches, MappingMatch{Mapping: m, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// headerOverlap is the fraction of saved headers present in columns.
func headerOverlap(columns, saved []string) float64 {
	if len(saved) == 0 {
		return 0
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[Fold(CleanHeader(c))] = true
	}

	matched := 0
	for _, h := range saved {
		if present[Fold(CleanHeader(h))] {
			matched++
		}
	}
	return float64(matched) / float64(len(saved))
}
