package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// sniffBytes bounds how much of the first line is inspected for the
// delimiter.
const sniffBytes = 4096

// CSV streams delimited text from a reader. The delimiter is taken from the
// header line unless Comma is set.
type CSV struct {
	name string
	r    io.Reader

	// Comma forces the field delimiter. Zero means detect.
	Comma rune
	// MaxBytes fails the read with ErrFileTooLarge past this size.
	MaxBytes int64
}

// NewCSV returns a CSV source named name reading from r.
func NewCSV(name string, r io.Reader) *CSV {
	return &CSV{name: name, r: r}
}

func (c *CSV) Name() string { return c.name }

// Read parses the whole stream. It may only be called once.
func (c *CSV) Read(ctx context.Context) (*core.RowSet, error) {
	if c.r == nil {
		return nil, errors.New("no file provided")
	}
	return readCSV(ctx, &limitReader{r: c.r, limit: c.MaxBytes}, c.Comma)
}

func readCSV(ctx context.Context, r io.Reader, comma rune) (*core.RowSet, error) {
	br := bufio.NewReaderSize(cleanText(r), sniffBytes)
	if comma == 0 {
		comma = sniffDelimiter(br)
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var records [][]string
	for n := 0; ; n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		records = append(records, rec)
	}
	return buildRowSet(records)
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on the
// first line, ignoring quoted text. Spreadsheets saved under Spanish
// locales use semicolons.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(sniffBytes)

	counts := map[rune]int{}
	inQuotes := false
	for _, b := range head {
		if b == '\n' && !inQuotes {
			break
		}
		switch b {
		case '"':
			inQuotes = !inQuotes
		case ',', ';', '\t':
			if !inQuotes {
				counts[rune(b)]++
			}
		}
	}

	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
