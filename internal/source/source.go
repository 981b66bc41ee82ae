// Package source provides row sources for the import engine.
//
// A File reads an uploaded spreadsheet: delimited text (comma, semicolon or
// tab) or an Excel workbook, detected by extension and content. A RemoteList
// pages through a JSON list service. Both return a core.RowSet whose columns
// come from the header row (or the item field names) and whose rows keep
// source order.
package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// Errors returned by sources. Their text is matched by core.MapError.
var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidCSV      = errors.New("invalid csv")
	ErrInvalidWorkbook = errors.New("invalid workbook")
	ErrRemoteList      = errors.New("remote list")
)

// buildRowSet turns raw records into a RowSet. The first non-blank record is
// the header; everything after it is data.
func buildRowSet(records [][]string) (*core.RowSet, error) {
	start := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, core.ErrEmptySource
	}

	header := headerNames(records[start])
	set := &core.RowSet{
		Columns: header,
		Rows:    make([]core.RawRow, 0, len(records)-start-1),
	}
	for _, rec := range records[start+1:] {
		set.Rows = append(set.Rows, core.NewRawRow(header, rec))
	}
	return set, nil
}

// headerNames cleans header cells and makes them unique. Empty headers
// become "Column N"; repeats get a " (2)", " (3)" suffix.
func headerNames(cells []string) []string {
	out := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, c := range cells {
		name := core.CleanHeader(c)
		if name == "" {
			name = fmt.Sprintf("Column %d", i+1)
		}
		key := strings.ToLower(name)
		seen[key]++
		if n := seen[key]; n > 1 {
			name = fmt.Sprintf("%s (%d)", name, n)
		}
		out[i] = name
	}
	return out
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
