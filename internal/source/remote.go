package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// Defaults for RemoteList.
const (
	DefaultItemsKey  = "value"
	DefaultNextKey   = "@odata.nextLink"
	DefaultMaxPages  = 200
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 512
)

// RemoteList reads a paginated JSON list. Each page is an object holding an
// array of items under ItemsKey and, when more pages follow, the next page
// URL under NextKey. Each item becomes one row keyed by its field names.
//
// Authentication is the caller's business: supply a Client that adds it, or
// static Header values.
type RemoteList struct {
	name string
	url  string

	Client *http.Client
	Header http.Header

	ItemsKey string
	NextKey  string
	// FieldsKey names a nested object holding the item's fields, as list
	// services that wrap fields under "fields" do. Empty means top level.
	FieldsKey string
	MaxPages  int
}

// NewRemoteList returns a source named name that starts at url.
func NewRemoteList(name, url string) *RemoteList {
	return &RemoteList{
		name:     name,
		url:      url,
		Client:   &http.Client{Timeout: defaultTimeout},
		Header:   http.Header{},
		ItemsKey: DefaultItemsKey,
		NextKey:  DefaultNextKey,
		MaxPages: DefaultMaxPages,
	}
}

func (l *RemoteList) Name() string { return l.name }

// Read fetches every page. Columns are the union of item field names in
// order of first appearance; fields within one item are taken in sorted
// order so the column order is stable.
func (l *RemoteList) Read(ctx context.Context) (*core.RowSet, error) {
	var (
		items   []map[string]any
		columns []string
		seen    = map[string]bool{}
		visited = map[string]bool{}
	)

	next := l.url
	for page := 0; next != ""; page++ {
		if l.MaxPages > 0 && page >= l.MaxPages {
			return nil, fmt.Errorf("%w: more than %d pages", ErrRemoteList, l.MaxPages)
		}
		if visited[next] {
			return nil, fmt.Errorf("%w: page %s requested twice", ErrRemoteList, next)
		}
		visited[next] = true

		pageItems, nextURL, err := l.fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, item := range pageItems {
			fields := l.fields(item)
			keys := make([]string, 0, len(fields))
			for k := range fields {
				if strings.HasPrefix(k, "@odata") {
					delete(fields, k)
					continue
				}
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
			items = append(items, fields)
		}
		next = nextURL
	}

	// An empty list is a readable source with no rows.
	set := &core.RowSet{Columns: columns, Rows: make([]core.RawRow, 0, len(items))}
	for _, fields := range items {
		row := core.RawRow{Columns: columns, Values: make(map[string]any, len(columns))}
		for _, c := range columns {
			row.Values[c] = flatten(fields[c])
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

func (l *RemoteList) fetch(ctx context.Context, url string) ([]map[string]any, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrRemoteList, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range l.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: %v", ErrRemoteList, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, "", fmt.Errorf("%w: %s: status %d: %s",
			ErrRemoteList, url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page map[string]json.RawMessage
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&page); err != nil {
		return nil, "", fmt.Errorf("%w: decode page: %v", ErrRemoteList, err)
	}

	var items []map[string]any
	if raw, ok := page[l.itemsKey()]; ok {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		if err := d.Decode(&items); err != nil {
			return nil, "", fmt.Errorf("%w: decode items: %v", ErrRemoteList, err)
		}
	}

	var next string
	if raw, ok := page[l.nextKey()]; ok {
		_ = json.Unmarshal(raw, &next)
	}
	return items, next, nil
}

func (l *RemoteList) fields(item map[string]any) map[string]any {
	if l.FieldsKey == "" {
		return item
	}
	if nested, ok := item[l.FieldsKey].(map[string]any); ok {
		return nested
	}
	return item
}

func (l *RemoteList) itemsKey() string {
	if l.ItemsKey == "" {
		return DefaultItemsKey
	}
	return l.ItemsKey
}

func (l *RemoteList) nextKey() string {
	if l.NextKey == "" {
		return DefaultNextKey
	}
	return l.NextKey
}

// flatten reduces nested JSON values to scalars: lookup objects to their
// display value, arrays to a comma-separated list.
func flatten(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range []string{"LookupValue", "lookupValue", "Value", "value", "Title", "title", "Email", "email"} {
			if inner, ok := t[k]; ok {
				return flatten(inner)
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := core.ValueString(flatten(e)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return v
	}
}
