package handler

import (
	"log/slog"
	"net/http"

	"github.com/pitchside/auctiond/internal/engine"
)

// SnapshotHandler serves the authoritative auction snapshot. Clients call
// this on connect and reconnect instead of replaying missed events.
type SnapshotHandler struct {
	registry *engine.Registry
	logger   *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(registry *engine.Registry, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		registry: registry,
		logger:   logHandler(logger, "snapshot"),
	}
}

// GetSnapshot returns the full current state of one auction.
// GET /api/auctions/{id}/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	eng, err := h.registry.Get(r.Context(), orgID(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := eng.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
