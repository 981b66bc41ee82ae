package core

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

// fixedNow pins Now for the duration of a test.
func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := Now
	Now = func() time.Time { return at }
	t.Cleanup(func() { Now = orig })
}

// ----------------------------------------------------------------------------
// ParseCurrency Tests
// ----------------------------------------------------------------------------

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		name         string
		input        any
		want         float64
		wantDegraded bool
	}{
		// Valid: numbers pass through
		{name: "float", input: 1234.5, want: 1234.5},
		{name: "int", input: 42, want: 42},
		{name: "int64", input: int64(7), want: 7},
		{name: "json number", input: json.Number("12.5"), want: 12.5},

		// Valid: spreadsheet artifacts
		{name: "pre-quoted csv artifact", input: `"$33,825.00"`, want: 33825},
		{name: "curly quotes", input: "\u201C$1,200\u201D", want: 1200},
		{name: "inner whitespace", input: " $ 1 200.50 ", want: 1200.50},
		{name: "excel formula prefix", input: `="450"`, want: 450},
		{name: "plain decimal", input: "0.99", want: 0.99},

		// Empty: zero, not degraded
		{name: "empty string", input: "", want: 0},
		{name: "whitespace only", input: "   ", want: 0},
		{name: "nil", input: nil, want: 0},

		// Degraded
		{name: "garbage", input: "abc", want: 0, wantDegraded: true},
		{name: "negative", input: "-5", want: 0, wantDegraded: true},
		{name: "negative number", input: -3.0, want: 0, wantDegraded: true},
		{name: "NaN", input: math.NaN(), want: 0, wantDegraded: true},
		{name: "infinity", input: math.Inf(1), want: 0, wantDegraded: true},
		{name: "unsupported type", input: []string{"1"}, want: 0, wantDegraded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCurrency(tt.input)
			if got.Value != tt.want {
				t.Errorf("ParseCurrency(%v) = %v, want %v", tt.input, got.Value, tt.want)
			}
			if got.Degraded != tt.wantDegraded {
				t.Errorf("ParseCurrency(%v).Degraded = %v, want %v", tt.input, got.Degraded, tt.wantDegraded)
			}
		})
	}
}

func TestParseCurrency_Idempotent(t *testing.T) {
	inputs := []any{0.0, 1.5, 33825.0, "1,000.25", `"$9.99"`}
	for _, in := range inputs {
		once := ParseCurrency(in).Value
		twice := ParseCurrency(once).Value
		if once != twice {
			t.Errorf("ParseCurrency not idempotent for %v: %v then %v", in, once, twice)
		}
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name         string
		input        any
		want         float64
		wantDegraded bool
	}{
		{name: "thousands separator", input: "3,000", want: 3000},
		{name: "quoted", input: `"12"`, want: 12},
		{name: "float", input: 2.5, want: 2.5},
		{name: "empty", input: "", want: 0},
		{name: "currency symbol is not stripped", input: "$5", want: 0, wantDegraded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCount(tt.input)
			if got.Value != tt.want || got.Degraded != tt.wantDegraded {
				t.Errorf("ParseCount(%v) = {%v, %v}, want {%v, %v}",
					tt.input, got.Value, got.Degraded, tt.want, tt.wantDegraded)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	tests := []struct {
		name         string
		input        any
		want         time.Time
		wantDegraded bool
	}{
		// Standard layouts
		{name: "ISO date", input: "2024-03-15", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "ISO datetime no zone", input: "2024-03-15 08:30:00", want: time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)},
		{name: "month name", input: "Mar 5, 2024", want: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{name: "compact", input: "20240315", want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},

		// Split fallback
		{name: "day first when first part over 12", input: "21/01/2025", want: time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)},
		{name: "month first", input: "01/21/2025", want: time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)},
		{name: "ambiguous reads month first", input: "03/04/2024", want: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{name: "dashes", input: "21-01-2025", want: time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)},
		{name: "year first dots", input: "2025.01.21", want: time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)},
		{name: "two digit year", input: "1/2/24", want: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{name: "two digit year past pivot", input: "1/2/99", want: time.Date(1999, 1, 2, 0, 0, 0, 0, time.UTC)},

		// Serial numbers
		{name: "serial float", input: 45000.0, want: time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "serial int", input: 45000, want: time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "serial with time", input: 45000.5, want: time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)},

		// Fallback to now
		{name: "garbage", input: "not a date", want: now, wantDegraded: true},
		{name: "empty", input: "", want: now, wantDegraded: true},
		{name: "nil", input: nil, want: now, wantDegraded: true},
		{name: "before 1971", input: "1970-01-01", want: now, wantDegraded: true},
		{name: "impossible day", input: "31/02/2024", want: now, wantDegraded: true},
		{name: "zero time", input: time.Time{}, want: now, wantDegraded: true},
		{name: "serial past year 9999", input: 1.0e9, want: now, wantDegraded: true},
		{name: "serial json number past year 9999", input: json.Number("1000000000"), want: now, wantDegraded: true},
		{name: "serial before 1971", input: 1000, want: now, wantDegraded: true},
		{name: "negative serial", input: -5.0, want: now, wantDegraded: true},
		{name: "infinite serial", input: math.Inf(1), want: now, wantDegraded: true},
		{name: "last serial", input: 2958465, want: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDate(tt.input)
			if !got.Value.Equal(tt.want) {
				t.Errorf("ParseDate(%v) = %v, want %v", tt.input, got.Value, tt.want)
			}
			if got.Degraded != tt.wantDegraded {
				t.Errorf("ParseDate(%v).Degraded = %v, want %v", tt.input, got.Degraded, tt.wantDegraded)
			}
		})
	}
}

func TestParseDate_SerialsEncode(t *testing.T) {
	for _, serial := range []any{1.0e9, json.Number("1e12"), 45000, 2958465.9} {
		got := ParseDate(serial)
		if _, err := json.Marshal(got.Value); err != nil {
			t.Errorf("ParseDate(%v) = %v, not encodable: %v", serial, got.Value, err)
		}
	}
}

func TestParseDate_ISORoundTrip(t *testing.T) {
	inputs := []string{
		"2024-03-15T10:30:00Z",
		"2023-12-31T23:59:59+02:00",
		"2025-01-21T08:00:00.123-05:00",
	}
	for _, in := range inputs {
		got := ParseDate(in)
		if got.Degraded {
			t.Errorf("ParseDate(%q) degraded", in)
			continue
		}
		if out := got.Value.Format(time.RFC3339Nano); out != in {
			t.Errorf("ParseDate(%q) round trip = %q", in, out)
		}
	}
}

func TestParseDate_SerialYear(t *testing.T) {
	got := ParseDate(45000)
	if got.Value.Year() != 2023 {
		t.Errorf("ParseDate(45000) year = %d, want 2023", got.Value.Year())
	}
}

func TestParseDate_PassesTimeThrough(t *testing.T) {
	at := time.Date(2022, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := ParseDate(at); !got.Value.Equal(at) || got.Degraded {
		t.Errorf("ParseDate(time) = %v (degraded %v), want %v", got.Value, got.Degraded, at)
	}
}

// ----------------------------------------------------------------------------
// Normalization helper Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{`"quoted"`, "quoted"},
		{`'single'`, "single"},
		{"\u201Ccurly\u201D", "curly"},
		{`""`, ""},
		{`"unbalanced`, `"unbalanced`},
		{"==x", "==x"},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"\uFEFFName", "Name"},
		{"Cliente\u00A0", "Cliente"},
		{"Es\u200Btado", "Estado"},
		{` "Valor" `, "Valor"},
	}

	for _, tt := range tests {
		if got := CleanHeader(tt.input); got != tt.want {
			t.Errorf("CleanHeader(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"En Ejecución", "en ejecucion"},
		{" CLIENTE ", "cliente"},
		{"Dirección", "direccion"},
		{"Año", "ano"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Fold(tt.input); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPhoneDigits(t *testing.T) {
	if got := PhoneDigits("+1 (555) 123-4567"); got != "15551234567" {
		t.Errorf("PhoneDigits() = %q, want %q", got, "15551234567")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{nil, ""},
		{" text ", "text"},
		{12.5, "12.5"},
		{42, "42"},
		{int64(9), "9"},
		{true, "true"},
		{json.Number("3"), "3"},
		{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "2024-01-02T00:00:00Z"},
		{time.Time{}, ""},
	}

	for _, tt := range tests {
		if got := ValueString(tt.input); got != tt.want {
			t.Errorf("ValueString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
