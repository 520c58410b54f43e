package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// RouterConfig holds the cross-cutting pieces NewRouter wires around the handlers.
type RouterConfig struct {
	Logger         *zap.Logger
	AllowedOrigins []string
	// InFlight, when set, counts every request for shutdown draining.
	InFlight *InFlightTracker
}

// NewRouter registers the public routes and wraps them in CORS handling.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	if cfg.InFlight != nil {
		router.Use(InFlightMiddleware(cfg.InFlight))
	}
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/weather", h.CreateWeatherRequest).Methods(http.MethodPost)
	router.HandleFunc("/weather/{id}", h.GetWeatherRequest).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	return CORSMiddleware(cfg.AllowedOrigins)(router)
}
