package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

const benchPayload = `{
	"request": {"type": "City", "query": "Seattle, United States of America", "language": "en", "unit": "m"},
	"location": {"name": "Seattle", "country": "United States of America", "localtime": "2024-01-01 09:00"},
	"current": {"temperature": 7, "weather_descriptions": ["Overcast"], "wind_speed": 11, "humidity": 87}
}`

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	client, _ := NewWeatherstackClient(testAPIKey, "http://api.weatherstack.com/current", 2*time.Second)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.buildRequest(ctx, "seattle")
	}
}

// BenchmarkClient_ValidatePayload benchmarks the JSON validity check applied to upstream bodies.
func BenchmarkClient_ValidatePayload(b *testing.B) {
	body := []byte(benchPayload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = json.Valid(body)
	}
}

// BenchmarkClient_ReadLocationName benchmarks the single-field read used for log context.
func BenchmarkClient_ReadLocationName(b *testing.B) {
	body := []byte(benchPayload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gjson.GetBytes(body, "location.name").String()
	}
}

// BenchmarkClient_Lookup benchmarks a full round trip against a local stub.
func BenchmarkClient_Lookup(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(benchPayload))
	}))
	defer server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, server.URL, 2*time.Second)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Lookup(ctx, "seattle"); err != nil {
			b.Fatalf("Lookup() error = %v", err)
		}
	}
}
