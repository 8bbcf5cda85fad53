package httpserver

import (
	"encoding/json"
	"net/http"

	"batterymon/backend/services/dplog-consumer/internal/consumer"
)

// StatusSource reports consumer progress.
type StatusSource interface {
	Status() consumer.Status
}

// NewRouter sets up HTTP routing.
func NewRouter(status StatusSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"consumer": status.Status(),
		})
	}))
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
