package source

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tabimport/internal/core"
)

func readFile(t *testing.T, name string, data []byte, opts ...FileOption) (*core.RowSet, error) {
	t.Helper()
	return NewFile(name, bytes.NewReader(data), opts...).Read(context.Background())
}

// ----------------------------------------------------------------------------
// CSV Tests
// ----------------------------------------------------------------------------

func TestFile_CSV(t *testing.T) {
	data := "\xEF\xBB\xBFCliente,Valor,Estado\nACME,\"$1,200.00\",Ganado\n,,\nBeta,50,\n"

	set, err := readFile(t, "proyectos.csv", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"Cliente", "Valor", "Estado"}, set.Columns)
	require.Len(t, set.Rows, 3)

	v, _ := set.Rows[0].Get("Valor")
	assert.Equal(t, "$1,200.00", v)
	assert.True(t, set.Rows[1].IsBlank())
	v, _ = set.Rows[2].Get("Cliente")
	assert.Equal(t, "Beta", v)
}

func TestFile_CSVDelimiters(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"semicolon", "Nombre;Monto\nAna;1.000,50\n"},
		{"tab", "Nombre\tMonto\nAna\t1.000,50\n"},
		{"quoted commas do not count", "\"Nombre, completo\";Monto\nAna;1.000,50\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := readFile(t, "x.csv", []byte(tt.data))
			require.NoError(t, err)
			require.Len(t, set.Columns, 2)
			v, _ := set.Rows[0].Get(set.Columns[1])
			assert.Equal(t, "1.000,50", v)
		})
	}
}

func TestFile_CSVWindows1252(t *testing.T) {
	// "Dirección,Año" encoded as Windows-1252
	data := []byte("Direcci\xf3n,A\xf1o\nCalle 1,2024\n")

	set, err := readFile(t, "export.csv", data)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dirección", "Año"}, set.Columns)
}

func TestFile_CSVRaggedRows(t *testing.T) {
	set, err := readFile(t, "x.csv", []byte("A,B,C\n1\n1,2,3,4\n"))
	require.NoError(t, err)
	require.Len(t, set.Rows, 2)

	v, ok := set.Rows[0].Get("C")
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Len(t, set.Rows[1].Values, 3)
}

func TestFile_HeaderNames(t *testing.T) {
	set, err := readFile(t, "x.csv", []byte("\n\nName,,name, Total \n1,2,3,4\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Column 2", "name (2)", "Total"}, set.Columns)
}

func TestFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    []byte
		opts    []FileOption
		wantErr error
	}{
		{name: "empty", file: "x.csv", data: nil, wantErr: core.ErrEmptySource},
		{name: "only BOM and spaces", file: "x.csv", data: []byte("\xEF\xBB\xBF \n "), wantErr: core.ErrEmptySource},
		{name: "too large", file: "x.csv", data: []byte(strings.Repeat("a,b\n", 100)), opts: []FileOption{WithMaxBytes(50)}, wantErr: ErrFileTooLarge},
		{name: "legacy xls", file: "old.xls", data: []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, wantErr: ErrUnsupportedType},
		{name: "binary", file: "photo", data: []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), wantErr: ErrUnsupportedType},
		{name: "not a workbook", file: "broken.xlsx", data: []byte("plain text"), wantErr: ErrInvalidWorkbook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readFile(t, tt.file, tt.data, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFile_ErrorsMapToUserMessages(t *testing.T) {
	_, err := readFile(t, "x.csv", []byte(strings.Repeat("a,b\n", 100)), WithMaxBytes(10))
	require.Error(t, err)
	assert.Equal(t, "SRC001", core.MapError(err).Code)

	_, err = readFile(t, "photo", []byte("\x89PNG\r\n\x1a\n"))
	require.Error(t, err)
	assert.Equal(t, "SRC004", core.MapError(err).Code)
}

func TestNewFile_NoReader(t *testing.T) {
	_, err := NewFile("x.csv", nil).Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, "SRC002", core.MapError(err).Code)
}

// ----------------------------------------------------------------------------
// Workbook Tests
// ----------------------------------------------------------------------------

func workbook(t *testing.T, sheets map[string][][]any, order ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFile_XLSX(t *testing.T) {
	data := workbook(t, map[string][][]any{
		"Compras": {
			{"PO #", "Description", "Total", "Region"},
			{"1001", "Lumber", 150.5, "USA"},
			{"2002", "Concrete", 80, "MEX"},
		},
		"Notas": {
			{"ignored"},
		},
	}, "Compras", "Notas")

	set, err := readFile(t, "compras.xlsx", data)
	require.NoError(t, err)

	assert.Equal(t, []string{"PO #", "Description", "Total", "Region"}, set.Columns)
	require.Len(t, set.Rows, 2)
	v, _ := set.Rows[0].Get("Total")
	assert.Equal(t, "150.5", v)
	v, _ = set.Rows[1].Get("Region")
	assert.Equal(t, "MEX", v)
}

func TestFile_XLSXSheet(t *testing.T) {
	data := workbook(t, map[string][][]any{
		"First":  {{"A"}, {"1"}},
		"Second": {{"B"}, {"2"}, {"3"}},
	}, "First", "Second")

	set, err := readFile(t, "book.xlsx", data, WithSheet("Second"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, set.Columns)
	assert.Len(t, set.Rows, 2)

	_, err = readFile(t, "book.xlsx", data, WithSheet("Missing"))
	assert.ErrorIs(t, err, ErrInvalidWorkbook)
}

// ----------------------------------------------------------------------------
// Import Tests
// ----------------------------------------------------------------------------

func TestFile_ImportsThroughEngine(t *testing.T) {
	core.Clear()
	t.Cleanup(core.Clear)
	core.Register(&core.EntityDefinition{
		Kind:     core.KindTicket,
		IDPrefix: "tkt",
		Fields:   []core.FieldSpec{{Name: "title", Candidates: []string{"title"}}},
		Build: func(c *core.RowContext) (core.Record, error) {
			return &core.Ticket{Title: c.Text("title"), Status: "Sent", Date: core.Now()}, nil
		},
	})

	res, err := core.NewImporter().Run(context.Background(), core.ImportRequest{
		Kind:   core.KindTicket,
		Source: NewFile("t.csv", strings.NewReader("Title\nA\nB\n")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)

	_, err = core.NewImporter().Run(context.Background(), core.ImportRequest{
		Kind:   core.KindTicket,
		Source: NewFile("t.csv", strings.NewReader("")),
	})
	assert.ErrorIs(t, err, core.ErrSourceUnavailable)
	assert.ErrorIs(t, err, core.ErrEmptySource)
}
