package repository

import (
	"time"

	"github.com/google/uuid"
)

// config holds settings shared by the store implementations.
type config struct {
	now   func() time.Time
	newID func() string
}

func defaultConfig() config {
	return config{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Option configures a store.
type Option func(*config)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides how pipeline ids are minted.
func WithIDGenerator(newID func() string) Option {
	return func(c *config) {
		if newID != nil {
			c.newID = newID
		}
	}
}
