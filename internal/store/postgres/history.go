package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/tabimport/internal/core"
)

const historyTimeout = 5 * time.Second

// HistoryObserver appends every finished run to the import history.
// Failures to write the history are logged and otherwise ignored.
type HistoryObserver struct {
	store *Store
}

// History returns an observer that records runs in s.
func (s *Store) History() *HistoryObserver {
	return &HistoryObserver{store: s}
}

func (h *HistoryObserver) ObserveImport(res *core.ImportResult, err error) {
	if res == nil || res.RunID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if recErr := h.store.RecordRun(ctx, res, err); recErr != nil {
		slog.Warn("could not record import run",
			"run_id", res.RunID,
			"kind", res.Kind,
			"error", recErr,
		)
	}
}
