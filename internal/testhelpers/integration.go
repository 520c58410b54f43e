//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	StoreBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "http://api.weatherstack.com/current"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		StoreBackend:  os.Getenv("INTEGRATION_STORE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationStore returns the configured store, falling back to in-memory
// when memcached is requested but unreachable. Cleanup is registered on t.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) store.Store {
	t.Helper()
	if cfg.StoreBackend != "memcached" {
		return store.NewInMemoryStore()
	}

	mc, err := store.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
	if err == nil {
		err = mc.Ping()
	}
	if err != nil {
		t.Logf("Memcached not available (%v), using in-memory store", err)
		return store.NewInMemoryStore()
	}
	t.Cleanup(func() { _ = mc.Close() })
	t.Logf("Using Memcached store at %s", cfg.MemcachedAddr)
	return mc
}

// SetupIntegrationService creates a service backed by the real upstream.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherRequestService, store.Store) {
	t.Helper()
	weatherClient, err := client.NewWeatherstackClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherstackClient() error = %v", err)
	}
	s := SetupIntegrationStore(t, cfg)
	return service.NewWeatherRequestService(weatherClient, s, traffic.NewTracker(0)), s
}
