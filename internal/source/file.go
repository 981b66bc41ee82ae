package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// DefaultMaxFileSize is the upload size limit when none is configured.
const DefaultMaxFileSize int64 = 10 << 20

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Format is a spreadsheet file format.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// File is an uploaded spreadsheet. The format is detected from content,
// then from the file extension.
type File struct {
	name     string
	r        io.Reader
	maxBytes int64
	format   Format
	sheet    string
}

// FileOption configures a File.
type FileOption func(*File)

// WithMaxBytes sets the size limit. Zero or less disables it.
func WithMaxBytes(n int64) FileOption {
	return func(f *File) { f.maxBytes = n }
}

// WithFormat skips format detection.
func WithFormat(format Format) FileOption {
	return func(f *File) { f.format = format }
}

// WithSheet reads the named workbook sheet instead of the first one.
func WithSheet(name string) FileOption {
	return func(f *File) { f.sheet = name }
}

// NewFile returns a source for the file name read from r.
func NewFile(name string, r io.Reader, opts ...FileOption) *File {
	f := &File{name: name, r: r, maxBytes: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *File) Name() string { return f.name }

// Read loads and parses the file. It may only be called once.
func (f *File) Read(ctx context.Context) (*core.RowSet, error) {
	if f.r == nil {
		return nil, errors.New("no file provided")
	}

	data, err := io.ReadAll(&limitReader{r: f.r, limit: f.maxBytes})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))) == 0 {
		return nil, core.ErrEmptySource
	}

	format := f.format
	if format == FormatAuto {
		if format, err = DetectFormat(f.name, data); err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatXLSX:
		return readWorkbook(ctx, data, f.sheet)
	case FormatCSV:
		return readCSV(ctx, decodeText(data), 0)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, format)
	}
}

// DetectFormat decides how to parse data. Content wins over the extension
// for workbooks, since renamed .xlsx files are common.
func DetectFormat(name string, data []byte) (Format, error) {
	m := mimetype.Detect(data)
	if m.Is(xlsxMIME) {
		return FormatXLSX, nil
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xls":
		return "", fmt.Errorf("%w: legacy .xls, save as .xlsx", ErrUnsupportedType)
	}

	for _, text := range []string{"text/csv", "text/tab-separated-values", "text/plain"} {
		if m.Is(text) {
			return FormatCSV, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, m.String())
}

// decodeText returns data as UTF-8. Files that are not valid UTF-8 are read
// as Windows-1252, which is what Excel writes for "CSV" on most Western
// locales.
func decodeText(data []byte) io.Reader {
	r := bytes.NewReader(data)
	if utf8.Valid(bytes.TrimPrefix(data, utf8BOM)) {
		return r
	}
	return transform.NewReader(r, charmap.Windows1252.NewDecoder())
}
