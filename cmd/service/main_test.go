package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/config"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"WEATHER_API_KEY", "ENV_NAME", "PORT", "WEATHER_API_URL", "STORE_BACKEND", "MEMCACHED_ADDRS", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config-dir", "env", "port"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s not registered", name)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	dir := isolateEnv(t)
	if err := os.WriteFile(filepath.Join(dir, "prod.yaml"), []byte("server:\n  port: \"9000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&options{configDir: dir, envName: "prod"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Errorf("ServerPort = %q, want 9000 from prod.yaml", cfg.ServerPort)
	}

	cfg, err = loadConfig(&options{configDir: dir, envName: "prod", port: "8123"})
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.ServerPort != "8123" {
		t.Errorf("ServerPort = %q, want --port to win", cfg.ServerPort)
	}
}

func TestNewStore_Backends(t *testing.T) {
	s, closer, ping, err := newStore(&config.Config{StoreBackend: "in_memory"}, zap.NewNop())
	if err != nil {
		t.Fatalf("newStore(in_memory) error = %v", err)
	}
	if _, ok := s.(*store.InMemoryStore); !ok {
		t.Errorf("newStore(in_memory) = %T, want *store.InMemoryStore", s)
	}
	if closer != nil || ping != nil {
		t.Error("in_memory store should have no closer or ping")
	}

	s, closer, ping, err = newStore(&config.Config{
		StoreBackend:     "memcached",
		MemcachedAddrs:   "127.0.0.1:11211",
		MemcachedTimeout: 100 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("newStore(memcached) error = %v", err)
	}
	if _, ok := s.(*store.MemcachedStore); !ok {
		t.Errorf("newStore(memcached) = %T, want *store.MemcachedStore", s)
	}
	if closer == nil || ping == nil {
		t.Error("memcached store should expose closer and ping")
	}
	_ = closer()
}

func TestNewWeatherClient(t *testing.T) {
	cfg := &config.Config{
		WeatherAPIURL:                  "http://api.weatherstack.com/current",
		CircuitBreakerEnabled:          true,
		CircuitBreakerFailureThreshold: 3,
		CircuitBreakerTimeout:          time.Second,
	}

	c, err := newWeatherClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newWeatherClient() error = %v", err)
	}
	if c.HasAPIKey() {
		t.Error("HasAPIKey() = true, want false without a configured key")
	}

	cfg.WeatherAPIKey = "k"
	c, err = newWeatherClient(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newWeatherClient() error = %v", err)
	}
	if !c.HasAPIKey() {
		t.Error("HasAPIKey() = false, want true")
	}
}
