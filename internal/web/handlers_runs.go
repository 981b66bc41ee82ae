package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/tabimport/internal/core"
	"github.com/JonMunkholm/tabimport/internal/runs"
)

// runResult is the outcome of a finished run.
type runResult struct {
	Result *core.ImportResult `json:"result,omitempty"`
	Error  *ErrorResponse     `json:"error,omitempty"`
}

func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Runs.Progress(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// handleRunEvents streams progress as server-sent events until the run
// finishes or the client goes away.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	// Event IDs are progress percentages, so reconnecting clients skip what
	// they have already seen.
	lastEventID := 0
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastEventID, _ = strconv.Atoi(v)
	}
	resuming := r.Header.Get("Last-Event-ID") != "" || r.URL.Query().Get("lastEventId") != ""

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"))
		return
	}

	updates, stop, err := s.deps.Runs.Subscribe(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case p, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			pct := p.Percent()
			if resuming && pct <= lastEventID && !p.Phase.Done() {
				continue
			}
			resuming = false

			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunResult waits for the run to finish and returns its outcome.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Runs.Wait(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, runs.ErrRunNotFound) || r.Context().Err() != nil {
		respondError(w, r, err)
		return
	}

	out := runResult{Result: res}
	if err != nil {
		msg := core.MapError(err)
		out.Error = &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	if err := s.deps.Runs.Cancel(id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"runId": id, "status": "cancelling"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if s.deps.History == nil {
		writeJSON(w, r, http.StatusOK, []any{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.History.ListRuns(r.Context(), kind, limit)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrSinkUnavailable, err))
		return
	}
	if entries == nil {
		writeJSON(w, r, http.StatusOK, []any{})
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"imports": s.deps.Runs.Status(),
	}
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
	}
	writeJSON(w, r, status, body)
}
