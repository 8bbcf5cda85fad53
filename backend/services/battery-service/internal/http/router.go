package httpserver

import (
	"net/http"

	"batterymon/backend/services/battery-service/internal/http/middleware"
)

// Routes defines HTTP endpoints.
type Routes struct {
	DPLog         http.Handler
	SaveSnapshot  http.Handler
	ListSnapshots http.Handler
	MQTTHealth    http.Handler
	Health        http.Handler
	Viewers       http.Handler
}

// NewRouter sets up HTTP routing. REST routes get the given middlewares; the
// viewer socket is mounted bare.
func NewRouter(routes Routes, middlewares ...middleware.Middleware) http.Handler {
	mux := http.NewServeMux()

	rest := func(path, expected string, h http.Handler) {
		if h == nil {
			return
		}
		mux.Handle(path, middleware.Chain(method(expected, h), middlewares...))
	}
	rest("/dp", http.MethodGet, routes.DPLog)
	rest("/dp/save", http.MethodPost, routes.SaveSnapshot)
	rest("/dp/saved", http.MethodGet, routes.ListSnapshots)
	rest("/health/mqtt", http.MethodGet, routes.MQTTHealth)
	rest("/health", http.MethodGet, routes.Health)

	if routes.Viewers != nil {
		mux.Handle("/ws", method(http.MethodGet, routes.Viewers))
	}
	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
