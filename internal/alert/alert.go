// Package alert holds the security alert record, manual alert parsing and the
// session alert feed.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAlert is returned when a manual alert submission is not valid JSON.
var ErrInvalidAlert = errors.New("invalid JSON alert format")

// ErrNotFound is returned when an alert ID is not in the feed.
var ErrNotFound = errors.New("alert not found")

// Alert is an inbound security event. It is never mutated after creation.
type Alert struct {
	ID                  string    `json:"id" yaml:"id"`
	Alert               string    `json:"alert" yaml:"alert"`
	Location            string    `json:"location" yaml:"location"`
	UserCurrentLocation string    `json:"user_current_location" yaml:"user_current_location"`
	Attempts            int       `json:"attempts" yaml:"attempts"`
	Timestamp           time.Time `json:"timestamp" yaml:"timestamp"`
}

// manualFields is the subset of fields taken from a user-supplied alert. ID and
// timestamp are always assigned server side.
type manualFields struct {
	Alert               string `json:"alert"`
	Location            string `json:"location"`
	UserCurrentLocation string `json:"user_current_location"`
	Attempts            int    `json:"attempts"`
}

// ParseManual parses a free-form manual submission. The whole submission is
// rejected on any decode failure.
func ParseManual(raw []byte, now time.Time) (*Alert, error) {
	var f manualFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	if f.Attempts < 0 {
		return nil, fmt.Errorf("%w: attempts must be >= 0", ErrInvalidAlert)
	}
	return &Alert{
		ID:                  fmt.Sprintf("evt_%d", now.UnixMilli()),
		Alert:               f.Alert,
		Location:            f.Location,
		UserCurrentLocation: f.UserCurrentLocation,
		Attempts:            f.Attempts,
		Timestamp:           now.UTC(),
	}, nil
}

// Seeds returns the built-in demo alerts relative to now.
func Seeds(now time.Time) []Alert {
	return []Alert{
		{
			ID:                  "evt_001",
			Alert:               "Brute force attack detected",
			Location:            "Moscow, RU",
			UserCurrentLocation: "New York, US",
			Attempts:            45,
			Timestamp:           now.Add(-5 * time.Minute).UTC(),
		},
		{
			ID:                  "evt_002",
			Alert:               "Unauthorized API Access Attempt",
			Location:            "Unknown",
			UserCurrentLocation: "New York, US",
			Attempts:            1,
			Timestamp:           now.Add(-15 * time.Minute).UTC(),
		},
	}
}
