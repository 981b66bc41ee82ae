package entities

import (
	"strings"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// UsStates maps US state full names to their abbreviations.
var UsStates = map[string]string{
	"alabama":        "AL",
	"alaska":         "AK",
	"arizona":        "AZ",
	"arkansas":       "AR",
	"california":     "CA",
	"colorado":       "CO",
	"connecticut":    "CT",
	"delaware":       "DE",
	"florida":        "FL",
	"georgia":        "GA",
	"hawaii":         "HI",
	"idaho":          "ID",
	"illinois":       "IL",
	"indiana":        "IN",
	"iowa":           "IA",
	"kansas":         "KS",
	"kentucky":       "KY",
	"louisiana":      "LA",
	"maine":          "ME",
	"maryland":       "MD",
	"massachusetts":  "MA",
	"michigan":       "MI",
	"minnesota":      "MN",
	"mississippi":    "MS",
	"missouri":       "MO",
	"montana":        "MT",
	"nebraska":       "NE",
	"nevada":         "NV",
	"new hampshire":  "NH",
	"new jersey":     "NJ",
	"new mexico":     "NM",
	"new york":       "NY",
	"north carolina": "NC",
	"north dakota":   "ND",
	"ohio":           "OH",
	"oklahoma":       "OK",
	"oregon":         "OR",
	"pennsylvania":   "PA",
	"rhode island":   "RI",
	"south carolina": "SC",
	"south dakota":   "SD",
	"tennessee":      "TN",
	"texas":          "TX",
	"utah":           "UT",
	"vermont":        "VT",
	"virginia":       "VA",
	"washington":     "WA",
	"west virginia":  "WV",
	"wisconsin":      "WI",
	"wyoming":        "WY",
}

// spanishStateNames covers the states whose Spanish name differs.
var spanishStateNames = map[string]string{
	"carolina del norte":  "NC",
	"carolina del sur":    "SC",
	"dakota del norte":    "ND",
	"dakota del sur":      "SD",
	"luisiana":            "LA",
	"misisipi":            "MS",
	"misuri":              "MO",
	"nueva jersey":        "NJ",
	"nueva york":          "NY",
	"nuevo hampshire":     "NH",
	"nuevo mexico":        "NM",
	"pensilvania":         "PA",
	"tejas":               "TX",
	"virginia occidental": "WV",
}

// NormalizeUsState converts US state names to their 2-letter abbreviations.
// Accents and case are ignored, so "Texas", " TEXAS " and "tx" all give "TX".
// If the input is not recognized it is returned trimmed.
func NormalizeUsState(s string) string {
	s = strings.TrimSpace(s)
	folded := core.Fold(s)

	if code, ok := UsStates[folded]; ok {
		return code
	}
	if code, ok := spanishStateNames[folded]; ok {
		return code
	}

	upper := strings.ToUpper(s)
	for _, code := range UsStates {
		if upper == code {
			return code
		}
	}

	return s
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
