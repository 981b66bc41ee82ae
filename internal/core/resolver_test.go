package core

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// ColumnResolver Tests
// ----------------------------------------------------------------------------

func TestColumnResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		columns    []string
		candidates []string
		want       string
		wantOK     bool
	}{
		{
			name:       "case-insensitive exact",
			columns:    []string{"Cliente", "Estado", "Valor"},
			candidates: []string{"client", "cliente", "customer"},
			want:       "Cliente",
			wantOK:     true,
		},
		{
			name:       "no match is absent",
			columns:    []string{"Cliente", "Estado", "Valor"},
			candidates: []string{"zzz"},
			want:       "",
			wantOK:     false,
		},
		{
			name:       "case-sensitive exact wins over folded",
			columns:    []string{"status", "Status"},
			candidates: []string{"Status"},
			want:       "Status",
			wantOK:     true,
		},
		{
			name:       "earlier candidate wins within a step",
			columns:    []string{"Client Name", "Client"},
			candidates: []string{"client name", "client"},
			want:       "Client Name",
			wantOK:     true,
		},
		{
			name:       "substring match",
			columns:    []string{"Nombre del Cliente", "Monto Total"},
			candidates: []string{"cliente"},
			want:       "Nombre del Cliente",
			wantOK:     true,
		},
		{
			name:       "accent-insensitive",
			columns:    []string{"Dirección"},
			candidates: []string{"direccion"},
			want:       "Dirección",
			wantOK:     true,
		},
		{
			name:       "BOM on header",
			columns:    []string{"\uFEFFProject", "Amount"},
			candidates: []string{"Project"},
			want:       "\uFEFFProject",
			wantOK:     true,
		},
		{
			name:       "empty candidate ignored",
			columns:    []string{"A"},
			candidates: []string{""},
			want:       "",
			wantOK:     false,
		},
		{
			name:       "no columns",
			columns:    nil,
			candidates: []string{"client"},
			want:       "",
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewColumnResolver(tt.columns).Resolve(tt.candidates)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%v) = (%q, %v), want (%q, %v)", tt.candidates, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestColumnResolver_Lookup(t *testing.T) {
	row := NewRawRow([]string{"Cliente", "Valor"}, []string{"ACME", "$10"})
	r := NewColumnResolver(row.Columns)

	v, ok := r.Lookup(row, []string{"cliente"})
	if !ok || v != "ACME" {
		t.Errorf("Lookup(cliente) = (%v, %v), want (ACME, true)", v, ok)
	}

	if _, ok := r.Lookup(row, []string{"zzz"}); ok {
		t.Errorf("Lookup(zzz) should be absent")
	}
}

func TestColumnResolver_AutoMap(t *testing.T) {
	def := &EntityDefinition{
		Kind: "widget",
		Fields: []FieldSpec{
			{Name: "name", Candidates: []string{"name", "nombre"}},
			{Name: "amount", Candidates: []string{"amount", "monto"}},
			{Name: "missing", Candidates: []string{"zzz"}},
		},
	}
	r := NewColumnResolver([]string{"Nombre", "Monto", "Other"})

	t.Run("fills unset entries", func(t *testing.T) {
		got := r.AutoMap(def, nil, false)
		if got["name"] != "Nombre" || got["amount"] != "Monto" {
			t.Errorf("AutoMap() = %v", got)
		}
		if _, ok := got.Column("missing"); ok {
			t.Errorf("AutoMap() should leave unresolvable field unset")
		}
	})

	t.Run("keeps explicit choice", func(t *testing.T) {
		got := r.AutoMap(def, FieldMapping{"amount": "Other"}, false)
		if got["amount"] != "Other" {
			t.Errorf("AutoMap() amount = %q, want explicit %q", got["amount"], "Other")
		}
	})

	t.Run("overwrite re-resolves", func(t *testing.T) {
		got := r.AutoMap(def, FieldMapping{"amount": "Other", "missing": "Other"}, true)
		if got["amount"] != "Monto" {
			t.Errorf("AutoMap(overwrite) amount = %q, want %q", got["amount"], "Monto")
		}
		if got["missing"] != "Other" {
			t.Errorf("AutoMap(overwrite) should keep a column it cannot replace, got %q", got["missing"])
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := FieldMapping{"amount": "Other"}
		r.AutoMap(def, in, true)
		if in["amount"] != "Other" {
			t.Errorf("AutoMap modified its input")
		}
	})
}

func TestColumnResolver_AutoMapOneFieldPerColumn(t *testing.T) {
	tests := []struct {
		name    string
		fields  []FieldSpec
		columns []string
		want    FieldMapping
	}{
		{
			name: "number column not reused as title",
			fields: []FieldSpec{
				{Name: "externalRef", Candidates: []string{"ticket #", "folio"}},
				{Name: "title", Candidates: []string{"title", "ticket"}},
				{Name: "description", Candidates: []string{"description"}},
			},
			columns: []string{"Ticket #", "Description"},
			want:    FieldMapping{"externalRef": "Ticket #", "description": "Description"},
		},
		{
			name: "exact match beats an earlier containment match",
			fields: []FieldSpec{
				{Name: "description", Candidates: []string{"description", "item"}},
				{Name: "line", Candidates: []string{"item #"}},
			},
			columns: []string{"Item #", "Qty"},
			want:    FieldMapping{"line": "Item #"},
		},
		{
			name: "claimed column is skipped by later fields",
			fields: []FieldSpec{
				{Name: "name", Candidates: []string{"name"}},
				{Name: "company", Candidates: []string{"name", "company"}},
			},
			columns: []string{"Name", "Company name"},
			want:    FieldMapping{"name": "Name", "company": "Company name"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &EntityDefinition{Kind: "widget", Fields: tt.fields}
			got := NewColumnResolver(tt.columns).AutoMap(def, nil, false)
			if len(got) != len(tt.want) {
				t.Fatalf("AutoMap() = %v, want %v", got, tt.want)
			}
			for field, col := range tt.want {
				if got[field] != col {
					t.Errorf("AutoMap()[%q] = %q, want %q", field, got[field], col)
				}
			}
		})
	}
}

func TestFieldMapping_Unset(t *testing.T) {
	def := &EntityDefinition{Fields: []FieldSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	got := FieldMapping{"a": "A", "b": ""}.Unset(def)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Unset() = %v, want [b c]", got)
	}
}

// ----------------------------------------------------------------------------
// MatchMappings Tests
// ----------------------------------------------------------------------------

func TestMatchMappings(t *testing.T) {
	stored := []StoredMapping{
		{Key: MappingKey{Kind: KindLead, Source: "crm.csv"}, Headers: []string{"Nombre", "Correo", "Telefono"}, UpdatedAt: time.Now()},
		{Key: MappingKey{Kind: KindLead, Source: "other.csv"}, Headers: []string{"A", "B", "C", "D"}},
		{Key: MappingKey{Kind: KindLead, Source: "partial.csv"}, Headers: []string{"nombre", "correo", "ciudad"}},
		{Key: MappingKey{Kind: KindLead, Source: "empty.csv"}},
	}

	matches := MatchMappings([]string{"\uFEFFNombre", "Correo", "Telefono", "Extra"}, stored)

	if len(matches) != 1 {
		t.Fatalf("MatchMappings() returned %d matches, want 1", len(matches))
	}
	if matches[0].Mapping.Key.Source != "crm.csv" || matches[0].Score != 1 {
		t.Errorf("MatchMappings()[0] = %+v", matches[0])
	}
}
