package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/models"
)

const (
	defaultDPLogLimit = 50
	maxDPLogLimit     = 1000
)

// DPLogReader returns recent raw samples.
type DPLogReader interface {
	Recent(ctx context.Context, limit int) ([]models.DPLogEntry, error)
}

// NewDPLogHandler returns GET /dp handler.
func NewDPLogHandler(reader DPLogReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", defaultDPLogLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		if limit < 1 {
			limit = 1
		}
		if limit > maxDPLogLimit {
			limit = maxDPLogLimit
		}

		rows, err := reader.Recent(r.Context(), limit)
		if err != nil {
			logger.Error("failed to fetch dp log", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch dp log")
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}
