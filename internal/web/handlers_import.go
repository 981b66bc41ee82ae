package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/source"
)

// formOverhead is the room left for multipart boundaries and form fields on
// top of the file size limit.
const formOverhead = 1 << 20

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// importAccepted is the response to an async import.
type importAccepted struct {
	RunID     string `json:"runId"`
	StatusURL string `json:"statusUrl"`
	EventsURL string `json:"eventsUrl"`
}

// remoteImportRequest describes a remote list to import.
type remoteImportRequest struct {
	URL       string            `json:"url" validate:"required,url"`
	Name      string            `json:"name"`
	ItemsKey  string            `json:"itemsKey"`
	NextKey   string            `json:"nextKey"`
	FieldsKey string            `json:"fieldsKey"`
	Headers   map[string]string `json:"headers"`
	Mapping   core.FieldMapping `json:"mapping"`
	Region    string            `json:"region"`
	Remap     bool              `json:"remap"`
	Async     bool              `json:"async"`
}

// kindInfo describes an importable kind.
type kindInfo struct {
	Kind   core.Kind        `json:"kind"`
	Label  string           `json:"label"`
	Fields []core.FieldSpec `json:"fields"`
	Filter *core.RowFilter  `json:"filter,omitempty"`
}

func (s *Server) handleListKinds(w http.ResponseWriter, r *http.Request) {
	defs := core.All()
	out := make([]kindInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, kindInfo{Kind: d.Kind, Label: d.Label, Fields: d.Fields, Filter: d.Filter})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleImport imports an uploaded CSV or XLSX file.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	req, async, err := s.fileRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.runImport(w, r, req, async)
}

// handlePreview maps and reconciles an uploaded file without writing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, _, err := s.fileRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	preview, err := s.deps.Runs.Preview(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, preview)
}

// handleImportRemote imports every item of a paginated JSON list.
func (s *Server) handleImportRemote(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body remoteImportRequest
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, badRequest(fmt.Errorf("decode request: %w", err)))
		return
	}
	if err := requestValidator.Struct(body); err != nil {
		respondError(w, r, badRequest(err))
		return
	}
	if err := validMapping(kind, body.Mapping); err != nil {
		respondError(w, r, err)
		return
	}

	name := body.Name
	if name == "" {
		name = body.URL
	}
	list := source.NewRemoteList(name, body.URL)
	list.ItemsKey = body.ItemsKey
	list.NextKey = body.NextKey
	list.FieldsKey = body.FieldsKey
	for k, v := range body.Headers {
		list.Header.Set(k, v)
	}

	req := core.ImportRequest{
		Kind:         kind,
		Source:       list,
		Mapping:      body.Mapping,
		Remap:        body.Remap,
		FilterTarget: s.region(body.Region),
	}
	s.runImport(w, r, req, body.Async)
}

// runImport runs req synchronously, or starts it and answers 202.
func (s *Server) runImport(w http.ResponseWriter, r *http.Request, req core.ImportRequest, async bool) {
	if async {
		id, err := s.deps.Runs.Start(r.Context(), req)
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, importAccepted{
			RunID:     id,
			StatusURL: "/api/runs/" + id,
			EventsURL: "/api/runs/" + id + "/events",
		})
		return
	}

	res, err := s.deps.Runs.Run(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// fileRequest builds an import request from a multipart upload. The file is
// read into memory so async runs outlive the request's temp files.
func (s *Server) fileRequest(w http.ResponseWriter, r *http.Request) (core.ImportRequest, bool, error) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return core.ImportRequest{}, false, err
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.ImportRequest{}, false, fmt.Errorf("%w: limit is %d bytes", source.ErrFileTooLarge, maxSize)
		}
		return core.ImportRequest{}, false, badRequest(fmt.Errorf("invalid form: %w", err))
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.ImportRequest{}, false, badRequest(errors.New("no file provided"))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return core.ImportRequest{}, false, fmt.Errorf("%w: read upload: %v", core.ErrSourceUnavailable, err)
	}

	var mapping core.FieldMapping
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return core.ImportRequest{}, false, badRequest(fmt.Errorf("invalid mapping: %w", err))
		}
	}
	if err := validMapping(kind, mapping); err != nil {
		return core.ImportRequest{}, false, err
	}

	name := header.Filename
	if v := r.FormValue("source"); v != "" {
		name = v
	}

	req := core.ImportRequest{
		Kind: kind,
		Source: source.NewFile(name, bytes.NewReader(data),
			source.WithMaxBytes(maxSize),
			source.WithSheet(r.FormValue("sheet")),
		),
		Mapping:      mapping,
		Remap:        formBool(r, "remap"),
		FilterTarget: s.region(r.FormValue("region")),
	}
	return req, formBool(r, "async"), nil
}

func (s *Server) region(v string) string {
	if v != "" {
		return v
	}
	return s.cfg.Import.RegionTarget
}

func validMapping(kind core.Kind, m core.FieldMapping) error {
	if len(m) == 0 {
		return nil
	}
	def, err := core.Definition(kind)
	if err != nil {
		return err
	}
	if err := core.ValidateMapping(def, m); err != nil {
		return badRequest(err)
	}
	return nil
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}
