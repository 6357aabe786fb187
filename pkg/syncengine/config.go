package syncengine

import (
	"fmt"
	"time"
)

// Config tunes the engine loops.
type Config struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    5 * time.Second,
		ReconnectDelay:    5 * time.Second,
		MaxRetries:        3,
	}
}

// Validate rejects non-positive timings.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delay must not be negative, got %s", c.ReconnectDelay)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	return nil
}
