package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabimport/internal/core"
)

// mappingRequest saves a field mapping for a source.
type mappingRequest struct {
	Source  string            `json:"source" validate:"required"`
	Fields  core.FieldMapping `json:"fields" validate:"required"`
	Headers []string          `json:"headers"`
}

// autoMapRequest asks for a mapping of the given headers.
type autoMapRequest struct {
	Source    string            `json:"source"`
	Headers   []string          `json:"headers" validate:"required,min=1"`
	Existing  core.FieldMapping `json:"existing"`
	Overwrite bool              `json:"overwrite"`
}

// autoMapResponse is a proposed mapping with the saved mappings whose
// headers resemble the request's.
type autoMapResponse struct {
	Fields  core.FieldMapping   `json:"fields"`
	Unset   []string            `json:"unset"`
	Matches []core.MappingMatch `json:"matches"`
}

var errNoMappingStore = errors.New("mapping store not configured")

// handleGetMappings returns the mapping saved for ?source=, or every mapping
// of the kind.
func (s *Server) handleGetMappings(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if s.deps.Mappings == nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrSinkUnavailable, errNoMappingStore))
		return
	}

	if src := r.URL.Query().Get("source"); src != "" {
		m, err := s.deps.Mappings.Load(r.Context(), core.MappingKey{Kind: kind, Source: src})
		if err != nil {
			respondError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, m)
		return
	}

	list, err := s.deps.Mappings.List(r.Context(), kind)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrSinkUnavailable, err))
		return
	}
	if list == nil {
		list = []core.StoredMapping{}
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if s.deps.Mappings == nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrSinkUnavailable, errNoMappingStore))
		return
	}

	var body mappingRequest
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, badRequest(fmt.Errorf("decode request: %w", err)))
		return
	}
	if err := requestValidator.Struct(body); err != nil {
		respondError(w, r, badRequest(err))
		return
	}
	if err := validMapping(kind, body.Fields); err != nil {
		respondError(w, r, err)
		return
	}

	m := core.StoredMapping{
		Key:       core.MappingKey{Kind: kind, Source: body.Source},
		Fields:    body.Fields,
		Headers:   body.Headers,
		UpdatedAt: core.Now(),
	}
	if err := s.deps.Mappings.Save(r.Context(), m); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrSinkUnavailable, err))
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// handleAutoMap proposes a mapping for a set of headers, starting from the
// saved mapping of the source when there is one.
func (s *Server) handleAutoMap(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	def, err := core.Definition(kind)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var body autoMapRequest
	r.Body = http.MaxBytesReader(w, r.Body, formOverhead)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, badRequest(fmt.Errorf("decode request: %w", err)))
		return
	}
	if err := requestValidator.Struct(body); err != nil {
		respondError(w, r, badRequest(err))
		return
	}

	existing := body.Existing
	var matches []core.MappingMatch
	if s.deps.Mappings != nil {
		if existing == nil && body.Source != "" {
			saved, err := s.deps.Mappings.Load(r.Context(), core.MappingKey{Kind: kind, Source: body.Source})
			if err == nil {
				existing = saved.Fields
			}
		}
		if stored, err := s.deps.Mappings.List(r.Context(), kind); err == nil {
			matches = core.MatchMappings(body.Headers, stored)
		}
	}
	if matches == nil {
		matches = []core.MappingMatch{}
	}

	fields := core.NewColumnResolver(body.Headers).AutoMap(def, existing, body.Overwrite)
	writeJSON(w, r, http.StatusOK, autoMapResponse{
		Fields:  fields,
		Unset:   fields.Unset(def),
		Matches: matches,
	})
}
