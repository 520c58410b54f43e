package models

import "encoding/json"

// WeatherRequest is the caller-supplied part of a stored record.
type WeatherRequest struct {
	Date     string `json:"date"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

// StoredRecord pairs the original request with the upstream payload.
// WeatherData is kept verbatim; this service never interprets it.
type StoredRecord struct {
	UserRequestData WeatherRequest  `json:"user_request_data"`
	WeatherData     json.RawMessage `json:"weather_data"`
}
