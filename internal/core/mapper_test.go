package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testTicketVocabulary = &Vocabulary{
	Kind:    KindTicket,
	Default: "Sent",
	Rules: []VocabularyRule{
		{Value: "Paid", Keywords: []string{"pagad", "paid"}},
		{Value: "Approved", Keywords: []string{"aprobad", "approved"}},
	},
}

// testTicketDefinition is a small ticket mapping used across core tests.
func testTicketDefinition() *EntityDefinition {
	return &EntityDefinition{
		Kind:     KindTicket,
		Label:    "Tickets",
		IDPrefix: "tkt",
		Fields: []FieldSpec{
			{Name: "ref", Candidates: []string{"ticket #", "ref"}},
			{Name: "title", Candidates: []string{"title", "titulo"}, Required: true},
			{Name: "amount", Candidates: []string{"amount", "monto"}},
			{Name: "status", Candidates: []string{"status", "estado"}},
			{Name: "date", Candidates: []string{"date", "fecha"}},
			{Name: "project", Candidates: []string{"project", "proyecto"}},
			{Name: "region", Candidates: []string{"region"}},
		},
		Vocabulary: testTicketVocabulary,
		Build: func(c *RowContext) (Record, error) {
			title := c.Text("title")
			if title == "" {
				return nil, Unmappable("no title")
			}
			ref := c.Text("ref")
			t := &Ticket{
				Meta:        Meta{ID: c.DeriveID(ref), ExternalRef: ref},
				Title:       title,
				Amount:      c.Currency("amount"),
				Status:      c.Status("status"),
				Date:        c.Date("date"),
				ProjectID:   UnknownProjectID,
				ProjectName: UnknownProjectName,
			}
			if p, ok := c.Project("project"); ok {
				t.ProjectID = p.ID
				t.ProjectName = p.Name
			}
			return t, nil
		},
	}
}

func rowsOf(header []string, lines ...[]string) []RawRow {
	out := make([]RawRow, len(lines))
	for i, cells := range lines {
		out[i] = NewRawRow(header, cells)
	}
	return out
}

// ----------------------------------------------------------------------------
// Mapper Tests
// ----------------------------------------------------------------------------

func TestMapper_Map(t *testing.T) {
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	fixedNow(t, at)

	header := []string{"Ticket #", "Titulo", "Monto", "Estado", "Fecha"}
	m := NewMapper(testTicketDefinition(), header, nil, MapOptions{Source: "tickets.csv"})

	rec, outcome, err := m.Map(NewRawRow(header, []string{"T-9", "Extra wall", "$1,250.00", "Aprobado", "2025-02-01"}), 2)
	if err != nil || outcome != RowMapped {
		t.Fatalf("Map() = (%v, %v), want mapped", outcome, err)
	}

	tk := rec.(*Ticket)
	if tk.ID != "tkt-T-9" {
		t.Errorf("ID = %q, want %q", tk.ID, "tkt-T-9")
	}
	if tk.Amount != 1250 {
		t.Errorf("Amount = %v, want 1250", tk.Amount)
	}
	if tk.Status != "Approved" {
		t.Errorf("Status = %q, want Approved", tk.Status)
	}
	if !tk.Date.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", tk.Date)
	}
	if tk.Source != "tickets.csv" {
		t.Errorf("Source = %q, want tickets.csv", tk.Source)
	}
	if !tk.CreatedAt.Equal(at) || !tk.UpdatedAt.Equal(at) {
		t.Errorf("timestamps = %v / %v, want %v", tk.CreatedAt, tk.UpdatedAt, at)
	}
	if !tk.Has("amount") || tk.Has("project") {
		t.Errorf("Provided = %v", tk.Provided)
	}

	if s := m.Stats(); s.Mapped != 1 || s.Degraded != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMapper_Degraded(t *testing.T) {
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	fixedNow(t, at)

	header := []string{"Title", "Amount", "Status", "Date"}
	m := NewMapper(testTicketDefinition(), header, nil, MapOptions{})

	rec, outcome, err := m.Map(NewRawRow(header, []string{"Wall", "abc", "???", ""}), 2)
	if err != nil || outcome != RowMapped {
		t.Fatalf("Map() = (%v, %v), want mapped", outcome, err)
	}

	tk := rec.(*Ticket)
	if tk.Amount != 0 || tk.Status != "Sent" || !tk.Date.Equal(at) {
		t.Errorf("defaults = (%v, %q, %v)", tk.Amount, tk.Status, tk.Date)
	}
	// amount, status and date each fell back
	if got := m.Stats().Degraded; got != 3 {
		t.Errorf("Degraded = %d, want 3", got)
	}
	if !strings.HasPrefix(tk.ID, "tkt-") || len(strings.Split(tk.ID, "-")) != 3 {
		t.Errorf("generated ID = %q, want tkt-<millis>-<suffix>", tk.ID)
	}
}

func TestMapper_Outcomes(t *testing.T) {
	header := []string{"Title", "Amount"}
	m := NewMapper(testTicketDefinition(), header, nil, MapOptions{})

	tests := []struct {
		name    string
		cells   []string
		want    RowOutcome
		wantErr bool
	}{
		{name: "mapped", cells: []string{"A", "1"}, want: RowMapped},
		{name: "blank", cells: []string{"  ", ""}, want: RowBlank},
		{name: "short row is blank", cells: nil, want: RowBlank},
		{name: "no title", cells: []string{"", "5"}, want: RowFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := m.Map(NewRawRow(header, tt.cells), 7)
			if got != tt.want {
				t.Errorf("Map() outcome = %v, want %v", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("Map() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrRowUnmappable) {
					t.Errorf("error should wrap ErrRowUnmappable: %v", err)
				}
				var re *RowError
				if !errors.As(err, &re) || re.Line != 7 {
					t.Errorf("error should be a RowError for line 7: %v", err)
				}
			}
		})
	}

	// the mapped row has no date column, so its date fell back
	want := MapStats{Mapped: 1, Blank: 2, Failed: 1, Degraded: 1}
	if got := m.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestMapper_InvalidRecord(t *testing.T) {
	def := testTicketDefinition()
	def.Build = func(c *RowContext) (Record, error) {
		return &Ticket{Meta: Meta{ID: "tkt-1"}, Title: "x", Status: "Bogus", Date: Now()}, nil
	}
	m := NewMapper(def, []string{"Title"}, nil, MapOptions{})

	_, outcome, err := m.Map(NewRawRow([]string{"Title"}, []string{"x"}), 2)
	if outcome != RowFailed || err == nil {
		t.Fatalf("Map() = (%v, %v), want failed", outcome, err)
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Errorf("error should carry ValidationErrors: %v", err)
	}
}

func TestMapper_Filter(t *testing.T) {
	header := []string{"Title", "Region"}
	lines := [][]string{
		{"a", "USA"},
		{"b", " usa "},
		{"c", "MEX"},
		{"d", ""},
	}

	t.Run("keeps matching rows", func(t *testing.T) {
		def := testTicketDefinition()
		def.Filter = &RowFilter{Field: "region", Target: "USA"}
		m := NewMapper(def, header, nil, MapOptions{})
		for i, row := range rowsOf(header, lines...) {
			m.Map(row, i+2)
		}
		if s := m.Stats(); s.Mapped != 2 || s.Filtered != 2 {
			t.Errorf("Stats() = %+v, want 2 mapped 2 filtered", s)
		}
	})

	t.Run("target override", func(t *testing.T) {
		def := testTicketDefinition()
		def.Filter = &RowFilter{Field: "region", Target: "USA"}
		m := NewMapper(def, header, nil, MapOptions{FilterTarget: "mex"})
		for i, row := range rowsOf(header, lines...) {
			m.Map(row, i+2)
		}
		if s := m.Stats(); s.Mapped != 1 || s.Filtered != 3 {
			t.Errorf("Stats() = %+v, want 1 mapped 3 filtered", s)
		}
	})

	t.Run("missing filter column filters every row", func(t *testing.T) {
		def := testTicketDefinition()
		def.Filter = &RowFilter{Field: "region", Target: "USA"}
		m := NewMapper(def, []string{"Title"}, nil, MapOptions{})
		for i, row := range rowsOf([]string{"Title"}, []string{"a"}, []string{"b"}) {
			m.Map(row, i+2)
		}
		if s := m.Stats(); s.Mapped != 0 || s.Filtered != 2 {
			t.Errorf("Stats() = %+v, want 2 filtered", s)
		}
	})
}

func TestMapper_ExplicitMapping(t *testing.T) {
	header := []string{"Title", "Subject"}
	m := NewMapper(testTicketDefinition(), header, FieldMapping{"title": "Subject"}, MapOptions{})

	rec, _, err := m.Map(NewRawRow(header, []string{"ignored", "chosen"}), 2)
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	if got := rec.(*Ticket).Title; got != "chosen" {
		t.Errorf("Title = %q, want chosen", got)
	}
	if got := m.Mapping()["title"]; got != "Subject" {
		t.Errorf("Mapping()[title] = %q, want Subject", got)
	}
}

func TestMapper_Project(t *testing.T) {
	header := []string{"Title", "Proyecto"}
	projects := []ProjectRef{
		{ID: "prj-1", Name: "Casa López"},
		{ID: "prj-2", Name: "Bodega Norte"},
	}
	m := NewMapper(testTicketDefinition(), header, nil, MapOptions{Projects: projects})

	tests := []struct {
		project string
		wantID  string
	}{
		{"casa lopez", "prj-1"},
		{"Bodega Norte - Fase 2", "prj-2"},
		{"Oficina", UnknownProjectID},
		{"", UnknownProjectID},
	}

	for _, tt := range tests {
		rec, _, err := m.Map(NewRawRow(header, []string{"t", tt.project}), 2)
		if err != nil {
			t.Fatalf("Map(%q) error = %v", tt.project, err)
		}
		if got := rec.(*Ticket).ProjectID; got != tt.wantID {
			t.Errorf("project %q -> %q, want %q", tt.project, got, tt.wantID)
		}
	}
}

func TestProjectRefs(t *testing.T) {
	records := []Record{
		&Project{Meta: Meta{ID: "prj-1"}, Name: "Casa"},
		&Project{Meta: Meta{ID: "prj-2"}},
		&Ticket{Meta: Meta{ID: "tkt-1"}, Title: "x"},
	}
	got := ProjectRefs(records)
	if len(got) != 1 || got[0].ID != "prj-1" {
		t.Errorf("ProjectRefs() = %v", got)
	}
}
