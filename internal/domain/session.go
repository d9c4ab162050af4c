// Package domain contains core domain types for the Agribot application.
package domain

import (
	"time"
)

// Session identifies one conversation and its metadata. The ordered turn
// history is owned by the store and reached through the session manager.
type Session struct {
	ID              string           `json:"id"`
	DefaultLocation string           `json:"default_location,omitempty"`
	LastForecast    *ForecastContext `json:"last_forecast,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ForecastContext remembers the table produced by the most recent successful
// weather exchange so a follow-up "breakdown" can be answered without a refetch.
type ForecastContext struct {
	Location  string    `json:"location"`
	Table     string    `json:"table"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewSession returns a session stamped with the current time.
func NewSession(id, defaultLocation string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:              id,
		DefaultLocation: defaultLocation,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IdleFor returns how long the session has gone without an update.
func (s *Session) IdleFor(now time.Time) time.Duration {
	if s.UpdatedAt.IsZero() {
		return 0
	}
	idle := now.Sub(s.UpdatedAt)
	if idle < 0 {
		return 0
	}
	return idle
}
