package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabimport/internal/core"
)

func TestRemoteList_Pages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprintf(w, `{
				"value": [
					{"@odata.etag": "1", "fields": {"Title": "Casa", "Monto": 1200.5, "Cliente": {"LookupValue": "Lopez"}}},
					{"fields": {"Title": "Bodega", "Tags": ["a", "b"]}}
				],
				"@odata.nextLink": "%s/items?page=2"
			}`, srv.URL)
		case "2":
			fmt.Fprint(w, `{"value": [{"fields": {"Title": "Oficina", "Estado": "Ganado"}}]}`)
		}
	}))
	defer srv.Close()

	l := NewRemoteList("crm/projects", srv.URL+"/items")
	l.FieldsKey = "fields"
	l.Header.Set("Authorization", "Bearer token")

	set, err := l.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Cliente", "Monto", "Title", "Tags", "Estado"}, set.Columns)
	require.Len(t, set.Rows, 3)

	v, _ := set.Rows[0].Get("Monto")
	assert.Equal(t, json.Number("1200.5"), v)
	v, _ = set.Rows[0].Get("Cliente")
	assert.Equal(t, "Lopez", v)
	v, _ = set.Rows[1].Get("Tags")
	assert.Equal(t, "a, b", v)
	v, ok := set.Rows[1].Get("Estado")
	assert.True(t, ok)
	assert.Nil(t, v)
	v, _ = set.Rows[2].Get("Estado")
	assert.Equal(t, "Ganado", v)

	assert.Equal(t, 1200.5, core.ParseCurrency(set.Rows[0].Values["Monto"]).Value)
}

func TestRemoteList_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html>")
			},
		},
		{
			name: "next link loops",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"value": [{"A": 1}], "@odata.nextLink": "http://%s%s"}`, r.Host, r.URL.Path)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewRemoteList("list", srv.URL+"/items").Read(context.Background())
			require.ErrorIs(t, err, ErrRemoteList)
			assert.Equal(t, "SRC007", core.MapError(err).Code)
		})
	}
}

func TestRemoteList_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": []}`)
	}))
	defer srv.Close()

	set, err := NewRemoteList("list", srv.URL).Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, set.Columns)
	assert.Empty(t, set.Rows)
}

func TestRemoteList_MaxPages(t *testing.T) {
	n := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		fmt.Fprintf(w, `{"value": [{"A": %d}], "@odata.nextLink": "http://%s/items?n=%d"}`, n, r.Host, n)
	}))
	defer srv.Close()

	l := NewRemoteList("list", srv.URL+"/items")
	l.MaxPages = 3

	_, err := l.Read(context.Background())
	assert.ErrorIs(t, err, ErrRemoteList)
	assert.Equal(t, 3, n)
}
