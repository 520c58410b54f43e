package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

var (
	// ErrNotFound is returned by Get for identifiers never handed out by Create.
	ErrNotFound = errors.New("weather request not found")
	// ErrStore wraps record store backend failures.
	ErrStore = errors.New("record store failure")
)

// WeatherRequestService creates and retrieves stored weather requests.
// It is the only writer of the store it is given.
type WeatherRequestService struct {
	client  client.WeatherClient
	store   store.Store
	tracker *traffic.Tracker
	newID   func() string
}

// NewWeatherRequestService wires the service. tracker may be nil.
func NewWeatherRequestService(c client.WeatherClient, s store.Store, tracker *traffic.Tracker) *WeatherRequestService {
	return &WeatherRequestService{
		client:  c,
		store:   s,
		tracker: tracker,
		newID:   uuid.NewString,
	}
}

// Create looks up weather for req.Location, stores the request with the upstream
// payload under a fresh identifier and returns that identifier.
//
// The upstream call is detached from ctx cancellation: once started, a create runs
// to completion even if the caller goes away. Nothing is stored on failure.
func (s *WeatherRequestService) Create(ctx context.Context, req models.WeatherRequest) (string, error) {
	ctx = context.WithoutCancel(ctx)
	logger := observability.LoggerFromContext(ctx)

	payload, err := s.client.Lookup(ctx, req.Location)
	if err != nil {
		category := client.CategorizeError(err)
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(category)).Inc()
		if errors.Is(err, client.ErrMissingAPIKey) {
			logger.Error("weather API key missing; set WEATHER_API_KEY")
			return "", err
		}
		s.tracker.RecordError()
		logger.Warn("weather lookup failed",
			zap.String("location", req.Location),
			zap.String("category", string(category)),
			zap.Error(err))
		return "", fmt.Errorf("lookup weather for %q: %w", req.Location, err)
	}
	s.tracker.RecordSuccess()

	id := s.newID()
	record := models.StoredRecord{
		UserRequestData: req,
		WeatherData:     payload,
	}

	start := time.Now()
	if err := s.store.Put(ctx, id, record); err != nil {
		observability.StoreOperationDuration.WithLabelValues("put", "error").Observe(time.Since(start).Seconds())
		logger.Error("store put failed", zap.String("id", id), zap.Error(err))
		return "", fmt.Errorf("%w: put %s: %w", ErrStore, id, err)
	}
	observability.StoreOperationDuration.WithLabelValues("put", "success").Observe(time.Since(start).Seconds())
	observability.WeatherRequestsCreatedTotal.Inc()

	logger.Info("weather request stored",
		zap.String("id", id),
		zap.String("location", req.Location),
		zap.String("resolved_location", gjson.GetBytes(payload, "location.name").String()))
	return id, nil
}

// Get returns the record stored under id, or ErrNotFound.
func (s *WeatherRequestService) Get(ctx context.Context, id string) (models.StoredRecord, error) {
	start := time.Now()
	record, ok, err := s.store.Get(ctx, id)
	if err != nil {
		observability.StoreOperationDuration.WithLabelValues("get", "error").Observe(time.Since(start).Seconds())
		observability.WeatherRequestLookupsTotal.WithLabelValues("error").Inc()
		return models.StoredRecord{}, fmt.Errorf("%w: get %s: %w", ErrStore, id, err)
	}
	observability.StoreOperationDuration.WithLabelValues("get", "success").Observe(time.Since(start).Seconds())
	if !ok {
		observability.WeatherRequestLookupsTotal.WithLabelValues("not_found").Inc()
		return models.StoredRecord{}, ErrNotFound
	}
	observability.WeatherRequestLookupsTotal.WithLabelValues("found").Inc()
	return record, nil
}
