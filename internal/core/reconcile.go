package core

// reconcile.go merges a freshly mapped batch into an existing collection.
//
// Matching order for each incoming record:
//  1. ExternalRef: an existing record of the same kind with the same
//     reference, or whose notes contain it. Match updates in place.
//  2. DedupKey (for example a lead's email): match is skipped, or merged
//     when the policy enables enrichment for the kind.
//  3. Fingerprint within MaxDistance edits, only for records carrying
//     neither key and only against records already in the collection.
//     The exact components and the digit runs of the text must be equal.
//     Match updates in place.
//  4. Otherwise the record is added.
//
// Records are processed in batch order. A record added earlier in the batch
// is a reference or key match candidate for later ones, so the later row wins.

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DefaultMaxDistance is the fingerprint edit distance treated as the same record.
const DefaultMaxDistance = 2

// MergePolicy tunes reconciliation.
type MergePolicy struct {
	// Enrich lists kinds whose DedupKey matches merge instead of skip.
	Enrich map[Kind]bool
	// MaxDistance is the largest Levenshtein distance between fingerprints
	// that counts as equivalent. Negative disables fuzzy matching.
	MaxDistance int
}

// DefaultMergePolicy returns the policy used when none is configured.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{MaxDistance: DefaultMaxDistance}
}

// ChangeType classifies what reconciliation did with an incoming record.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeUpdated ChangeType = "updated"
	ChangeSkipped ChangeType = "skipped"
)

// MatchMethod records how an incoming record found its match.
type MatchMethod string

const (
	MatchNone        MatchMethod = ""
	MatchExternalRef MatchMethod = "external_ref"
	MatchNotes       MatchMethod = "notes"
	MatchDedupKey    MatchMethod = "dedup_key"
	MatchFuzzy       MatchMethod = "fuzzy"
)

// Change describes the outcome for one incoming record.
type Change struct {
	Type     ChangeType  `json:"type"`
	Method   MatchMethod `json:"method,omitempty"`
	Incoming int         `json:"incoming"` // index into the incoming batch
	ID       string      `json:"id"`       // id of the resulting record
}

// Reconciliation is the result of merging a batch.
type Reconciliation struct {
	// Records is the merged collection. Existing records are copies;
	// neither input slice is modified.
	Records []Record
	Added   int
	Updated int
	Skipped int
	Changes []Change
}

// Touched returns the added or updated records in the order they were
// first touched, each once in its final state.
func (r *Reconciliation) Touched() []Record {
	seen := make(map[string]bool)
	byID := make(map[string]Record, len(r.Records))
	for _, rec := range r.Records {
		byID[rec.Base().ID] = rec
	}

	var out []Record
	for _, ch := range r.Changes {
		if ch.Type == ChangeSkipped || seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		if rec, ok := byID[ch.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Reconcile merges incoming into a copy of existing.
func Reconcile(existing, incoming []Record, policy MergePolicy) *Reconciliation {
	res := &Reconciliation{
		Records: make([]Record, 0, len(existing)+len(incoming)),
		Changes: make([]Change, 0, len(incoming)),
	}
	idx := newRecordIndex()
	for _, rec := range existing {
		if rec == nil {
			continue
		}
		idx.add(rec.Clone(), res)
	}
	idx.freezeExisting()

	for i, in := range incoming {
		if in == nil {
			continue
		}
		kind := in.Kind()
		meta := in.Base()

		if ref := strings.TrimSpace(meta.ExternalRef); ref != "" {
			if pos, method, ok := idx.findByRef(kind, ref, res.Records); ok {
				res.merge(pos, in, i, method, idx)
				continue
			}
		}

		if key := in.DedupKey(); key != "" {
			if pos, ok := idx.byKey[kind][key]; ok {
				if policy.Enrich[kind] {
					res.merge(pos, in, i, MatchDedupKey, idx)
				} else {
					res.Skipped++
					res.Changes = append(res.Changes, Change{
						Type:     ChangeSkipped,
						Method:   MatchDedupKey,
						Incoming: i,
						ID:       res.Records[pos].Base().ID,
					})
				}
				continue
			}
		}

		if meta.ExternalRef == "" && in.DedupKey() == "" && policy.MaxDistance >= 0 {
			if pos, ok := idx.findFuzzy(in, policy.MaxDistance, res.Records); ok {
				res.merge(pos, in, i, MatchFuzzy, idx)
				continue
			}
		}

		pos := idx.add(in.Clone(), res)
		res.Added++
		res.Changes = append(res.Changes, Change{
			Type:     ChangeAdded,
			Incoming: i,
			ID:       res.Records[pos].Base().ID,
		})
	}

	return res
}

func (r *Reconciliation) merge(pos int, in Record, i int, method MatchMethod, idx *recordIndex) {
	target := r.Records[pos]
	target.MergeFrom(in)
	idx.reindex(pos, target)
	r.Updated++
	r.Changes = append(r.Changes, Change{
		Type:     ChangeUpdated,
		Method:   method,
		Incoming: i,
		ID:       target.Base().ID,
	})
}

// recordIndex locates records in the merged collection by kind.
type recordIndex struct {
	byRef  map[Kind]map[string]int
	byKey  map[Kind]map[string]int
	byKind map[Kind][]int
	// existing holds the positions of records that were in the collection
	// before the batch; only they are fuzzy candidates.
	existing map[Kind][]int
}

func newRecordIndex() *recordIndex {
	return &recordIndex{
		byRef:  make(map[Kind]map[string]int),
		byKey:  make(map[Kind]map[string]int),
		byKind: make(map[Kind][]int),
	}
}

func (x *recordIndex) add(rec Record, res *Reconciliation) int {
	pos := len(res.Records)
	res.Records = append(res.Records, rec)
	x.byKind[rec.Kind()] = append(x.byKind[rec.Kind()], pos)
	x.reindex(pos, rec)
	return pos
}

func (x *recordIndex) freezeExisting() {
	x.existing = make(map[Kind][]int, len(x.byKind))
	for kind, positions := range x.byKind {
		x.existing[kind] = append([]int(nil), positions...)
	}
}

func (x *recordIndex) reindex(pos int, rec Record) {
	kind := rec.Kind()
	if ref := strings.TrimSpace(rec.Base().ExternalRef); ref != "" {
		if x.byRef[kind] == nil {
			x.byRef[kind] = make(map[string]int)
		}
		if _, exists := x.byRef[kind][ref]; !exists {
			x.byRef[kind][ref] = pos
		}
	}
	if key := rec.DedupKey(); key != "" {
		if x.byKey[kind] == nil {
			x.byKey[kind] = make(map[string]int)
		}
		if _, exists := x.byKey[kind][key]; !exists {
			x.byKey[kind][key] = pos
		}
	}
}

func (x *recordIndex) findByRef(kind Kind, ref string, records []Record) (int, MatchMethod, bool) {
	if pos, ok := x.byRef[kind][ref]; ok {
		return pos, MatchExternalRef, true
	}
	for _, pos := range x.byKind[kind] {
		if strings.Contains(records[pos].Base().Notes, ref) {
			return pos, MatchNotes, true
		}
	}
	return 0, MatchNone, false
}

// findFuzzy returns the closest pre-existing record of the same kind whose
// fingerprint is equivalent. Records with their own external reference are
// not candidates; they are matched by reference only.
func (x *recordIndex) findFuzzy(in Record, maxDist int, records []Record) (int, bool) {
	fp := in.Fingerprint()
	if fp.IsZero() {
		return 0, false
	}

	best, bestDist := -1, maxDist+1
	for _, pos := range x.existing[in.Kind()] {
		cand := records[pos]
		if cand.Base().ExternalRef != "" || cand.DedupKey() != "" {
			continue
		}
		d, ok := fingerprintDistance(fp, cand.Fingerprint(), maxDist)
		if !ok {
			continue
		}
		if d == 0 {
			return pos, true
		}
		if d < bestDist {
			best, bestDist = pos, d
		}
	}
	return best, best >= 0
}

// fingerprintDistance returns the edit distance between two fingerprints
// and whether they are equivalent. The allowed distance shrinks for short
// text, one edit per four characters, capped at maxDist.
func fingerprintDistance(a, b Fingerprint, maxDist int) (int, bool) {
	if a.IsZero() || b.IsZero() || a.Exact != b.Exact {
		return 0, false
	}
	if a.Text == b.Text {
		return 0, true
	}
	if digitRuns(a.Text) != digitRuns(b.Text) {
		return 0, false
	}

	allowed := min(utf8.RuneCountInString(a.Text), utf8.RuneCountInString(b.Text)) / 4
	if allowed > maxDist {
		allowed = maxDist
	}
	d := fuzzy.LevenshteinDistance(a.Text, b.Text)
	return d, d <= allowed
}

// digitRuns returns the numbers embedded in s, so "lote 1" and "lote 2"
// never count as the same text.
func digitRuns(s string) string {
	runs := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	return strings.Join(runs, ",")
}
