package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
	"github.com/kjstillabower/weather-lookup-service/internal/validation"
)

// HealthConfig holds the inputs the health handler evaluates.
type HealthConfig struct {
	APIKeyConfigured bool
	// StorePing, when set, is called to check store reachability. Used when backend is memcached.
	StorePing        func() error
	Tracker          *traffic.Tracker
	DegradedWindow   time.Duration
	DegradedErrorPct int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	service          *service.WeatherRequestService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(svc *service.WeatherRequestService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:      svc,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown flips the health endpoint to 503 shutting-down while the server drains.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateWeatherRequest handles POST /weather.
func (h *Handler) CreateWeatherRequest(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeWeatherRequest(r.Body)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "INVALID_REQUEST", err.Error())
		return
	}

	id, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, createResponse{ID: id})
}

// GetWeatherRequest handles GET /weather/{id}.
func (h *Handler) GetWeatherRequest(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, r, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-lookup-service",
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > store unreachable > API key missing > upstream error rate > healthy.
// Every check is reported even when an earlier one decides the status.
func (h *Handler) computeHealthStatus() healthResult {
	checks := map[string]string{}
	cfg := h.healthConfig
	if cfg == nil {
		cfg = &HealthConfig{APIKeyConfigured: true}
	}

	storeOK := true
	if cfg.StorePing != nil {
		storeOK = cfg.StorePing() == nil
		checks["store"] = healthyLabel(storeOK)
	}

	if cfg.APIKeyConfigured {
		checks["weatherApiKey"] = "configured"
	} else {
		checks["weatherApiKey"] = "missing"
	}

	upstreamOK := true
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := cfg.Tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			upstreamOK = false
		}
	}
	checks["weatherApi"] = healthyLabel(upstreamOK)

	switch {
	case h.shuttingDown.Load():
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	case !storeOK:
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable", checks}
	case !cfg.APIKeyConfigured:
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_missing", checks}
	case !upstreamOK:
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	default:
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
}

func healthyLabel(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// writeJSON encodes v before writing headers so an encode failure becomes a 500
// instead of a success status with an empty body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		observability.LoggerFromContext(r.Context()).Error("encode response", zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorBody(r, "INTERNAL_ERROR", "Internal server error"))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError writes the standard error envelope. detail mirrors message for
// browser clients that read a top-level detail string.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorBody(r, code, message))
}

func errorBody(r *http.Request, code, message string) map[string]interface{} {
	return map[string]interface{}{
		"detail": message,
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	}
}

// writeServiceError maps service and client errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, client.ErrMissingAPIKey):
		writeError(w, r, http.StatusInternalServerError, "CONFIGURATION_ERROR",
			"API key not found. Please create a .env file with WEATHER_API_KEY.")
	case errors.Is(err, client.ErrUpstreamFailure):
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE",
			"Error retrieving data from Weather API: "+err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Weather data not found")
	case errors.Is(err, service.ErrStore):
		logger.Error("store failure", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Unable to access stored weather data")
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
