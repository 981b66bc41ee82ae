package core

// parse.go provides the value parsers that turn loosely-typed cells into
// canonical values.
//
// These functions handle the messy reality of user-provided spreadsheet data:
//   - Currency symbols, thousand separators and stray quotes in numbers
//   - Spreadsheet serial dates alongside ISO and slash-separated dates
//   - Excel formula prefixes (="value"), BOMs and invisible characters
//
// None of the parsers fail. Each returns a Parsed value whose Degraded flag
// is set when the input was present but unusable and a fallback was used.

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Parsed is the result of a parser: the value and whether a fallback was used.
type Parsed[T any] struct {
	Value    T
	Degraded bool
}

// Now returns the current time. Missing or garbled dates default to it.
var Now = time.Now

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// spreadsheetEpochOffset is the day count between the spreadsheet epoch
// (serial 0 = 1899-12-30) and the Unix epoch.
const spreadsheetEpochOffset = 25569

// minPlausibleYear guards against silent epoch-zero misparses.
const minPlausibleYear = 1971

// maxPlausibleYear is the last year an instant can be encoded in.
const maxPlausibleYear = 9999

// maxSerial is the spreadsheet serial of 9999-12-31.
const maxSerial = 2958465

// standardLayouts are tried before the slash/dot/dash fallback.
var standardLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"20060102",
}

// quoteChars are the straight and curly quote characters stripped from numbers.
const quoteChars = "\"'\u201C\u201D\u2018\u2019"

// ParseCurrency converts a money value to a non-negative float.
// Numbers pass through; strings lose "$", ",", whitespace and quotes.
// Empty input is 0; unparsable, negative or non-finite input is 0 and degraded.
func ParseCurrency(v any) Parsed[float64] {
	return parseAmount(v, true)
}

// ParseCount converts a quantity such as "3,000" to a non-negative float.
// Same rules as ParseCurrency without assuming a currency symbol.
func ParseCount(v any) Parsed[float64] {
	return parseAmount(v, false)
}

func parseAmount(v any, currency bool) Parsed[float64] {
	switch n := v.(type) {
	case nil:
		return Parsed[float64]{}
	case float64:
		return finiteAmount(n)
	case float32:
		return finiteAmount(float64(n))
	case int:
		return finiteAmount(float64(n))
	case int64:
		return finiteAmount(float64(n))
	case int32:
		return finiteAmount(float64(n))
	case decimal.Decimal:
		return finiteAmount(n.InexactFloat64())
	case json.Number:
		return parseAmount(n.String(), currency)
	case string:
		s := stripNumber(n, currency)
		if s == "" {
			return Parsed[float64]{}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Parsed[float64]{Degraded: true}
		}
		return finiteAmount(d.InexactFloat64())
	default:
		return Parsed[float64]{Degraded: true}
	}
}

func finiteAmount(f float64) Parsed[float64] {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return Parsed[float64]{Degraded: true}
	}
	return Parsed[float64]{Value: f}
}

// stripNumber removes the characters spreadsheets wrap around numbers.
func stripNumber(s string, currency bool) string {
	s = CleanCell(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r == ',':
			return -1
		case currency && r == '$':
			return -1
		case unicode.IsSpace(r):
			return -1
		case strings.ContainsRune(quoteChars, r):
			return -1
		}
		return r
	}, s)
}

// ParseDate converts a cell to an instant.
//
// Dispatch by shape:
//  1. time.Time is returned when non-zero.
//  2. Numbers are spreadsheet serial dates (serial 0 = 1899-12-30).
//  3. Strings try standard layouts, then a D/M/Y or M/D/Y split.
//
// Anything unusable yields Now() with Degraded set. Missing dates never
// abort an import.
func ParseDate(v any) Parsed[time.Time] {
	switch d := v.(type) {
	case time.Time:
		if d.IsZero() || d.Year() > maxPlausibleYear {
			return Parsed[time.Time]{Value: Now(), Degraded: true}
		}
		return Parsed[time.Time]{Value: d}
	case *time.Time:
		if d == nil {
			return Parsed[time.Time]{Value: Now(), Degraded: true}
		}
		return ParseDate(*d)
	case float64:
		return serialDate(d)
	case float32:
		return serialDate(float64(d))
	case int:
		return serialDate(float64(d))
	case int64:
		return serialDate(float64(d))
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return Parsed[time.Time]{Value: Now(), Degraded: true}
		}
		return serialDate(f)
	case string:
		if t, ok := parseDateString(d); ok {
			return Parsed[time.Time]{Value: t}
		}
	}
	return Parsed[time.Time]{Value: Now(), Degraded: true}
}

// SerialToTime converts a spreadsheet serial day count to a UTC instant.
func SerialToTime(serial float64) time.Time {
	secs := math.Round((serial - spreadsheetEpochOffset) * 86400)
	return time.Unix(int64(secs), 0).UTC()
}

// serialDate accepts serials from 1971 through 9999; anything else is
// degraded.
func serialDate(serial float64) Parsed[time.Time] {
	if math.IsNaN(serial) || serial < 0 || serial >= maxSerial+1 {
		return Parsed[time.Time]{Value: Now(), Degraded: true}
	}
	t := SerialToTime(serial)
	if t.Year() < minPlausibleYear {
		return Parsed[time.Time]{Value: Now(), Degraded: true}
	}
	return Parsed[time.Time]{Value: t}
}

func parseDateString(s string) (time.Time, bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range standardLayouts {
		t, err := time.Parse(layout, s)
		if err == nil && t.Year() >= minPlausibleYear {
			return t, true
		}
	}

	return parseSplitDate(s)
}

// parseSplitDate handles "21/01/2025", "01-21-2025", "2025.01.21" and
// two-digit years. When both leading parts are <= 12 the date is read
// month-first; "03/04/2024" is March 4th. That reading is ambiguous.
func parseSplitDate(s string) (time.Time, bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) != 3 {
		return time.Time{}, false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return time.Time{}, false
		}
		nums[i] = n
	}

	var year, month, day int
	switch {
	case len(strings.TrimSpace(parts[0])) == 4:
		year, month, day = nums[0], nums[1], nums[2]
	case nums[0] > 12:
		day, month, year = nums[0], nums[1], nums[2]
	default:
		month, day, year = nums[0], nums[1], nums[2]
	}

	if len(strings.TrimSpace(parts[2])) <= 2 && len(strings.TrimSpace(parts[0])) != 4 {
		year = expandTwoDigitYear(year)
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Year() < minPlausibleYear {
		return time.Time{}, false
	}
	return t, true
}

// expandTwoDigitYear applies the TwoDigitYearPivot.
func expandTwoDigitYear(yy int) int {
	pivotYear := Now().Year() + TwoDigitYearPivot
	year := 2000 + yy
	if year > pivotYear {
		year -= 100
	}
	return year
}

// CleanCell removes common spreadsheet artifacts from a cell value:
//   - Trims whitespace
//   - Removes Excel formula prefix (="...")
//   - Removes one pair of wrapping quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") && !strings.HasPrefix(s, "==") {
		s = s[1:]
	}

	return strings.TrimSpace(Dequote(s))
}

// Dequote strips a single pair of matching wrapping quote characters.
func Dequote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	pairs := [][2]string{{`"`, `"`}, {`'`, `'`}, {"\u201C", "\u201D"}, {"\u2018", "\u2019"}}
	for _, p := range pairs {
		if strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) && len(s) >= len(p[0])+len(p[1]) {
			return s[len(p[0]) : len(s)-len(p[1])]
		}
	}
	return s
}

// CleanHeader strips a leading byte-order mark, zero-width characters and
// non-breaking spaces from column header text.
func CleanHeader(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\uFEFF', '\u200B', '\u200C', '\u200D', '\u2060', '\uFFFE':
			return -1
		case '\u00A0':
			return ' '
		}
		return r
	}, s)
	return Dequote(strings.TrimSpace(s))
}

// Fold lower-cases s, strips accents and trims it, so "En Ejecución"
// compares equal to "en ejecucion".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(cases.Fold().String(folded))
}

// PhoneDigits returns only the digits of a phone number.
func PhoneDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ValueString renders a raw cell value as text.
func ValueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return CleanCell(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}

func isEmptyValue(v any) bool {
	return ValueString(v) == ""
}
