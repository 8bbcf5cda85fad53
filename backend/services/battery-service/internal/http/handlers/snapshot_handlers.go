package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/models"
	"batterymon/backend/services/battery-service/internal/service"
)

// SnapshotAPI saves and lists snapshots.
type SnapshotAPI interface {
	Save(ctx context.Context) (*models.Snapshot, error)
	List(ctx context.Context, params service.ListParams) (*service.SnapshotPage, error)
}

// SnapshotHandlers serves /dp/save and /dp/saved.
type SnapshotHandlers struct {
	svc    SnapshotAPI
	logger *zap.Logger
}

// NewSnapshotHandlers returns handler.
func NewSnapshotHandlers(svc SnapshotAPI, logger *zap.Logger) *SnapshotHandlers {
	return &SnapshotHandlers{svc: svc, logger: logger}
}

// Save handles POST /dp/save.
func (h *SnapshotHandlers) Save(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.Save(r.Context())
	switch {
	case errors.Is(err, service.ErrNoReading):
		writeError(w, http.StatusBadRequest, "no data to save")
		return
	case err != nil:
		h.logger.Error("failed to save snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// List handles GET /dp/saved.
func (h *SnapshotHandlers) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", service.DefaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	perPage, err := queryInt(r, "per_page", service.DefaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "per_page must be an integer")
		return
	}

	q := r.URL.Query()
	result, err := h.svc.List(r.Context(), service.ListParams{
		Page:    page,
		PerPage: perPage,
		Order:   q.Get("order"),
		Date:    q.Get("date"),
	})
	switch {
	case errors.Is(err, service.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to list snapshots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
