// Package config defines the client's configuration surface. Values are
// populated directly by library callers, or by cmd/q2mon's pflag-based
// loader; the core itself never reads flags or environment variables.
package config

import "time"

// Config holds every externally-supplied setting a Client needs.
type Config struct {
	ServerIP   string
	ServerPort int

	PlayerName string

	PassiveMode bool
	MonitorMode bool

	MonitorInterval time.Duration

	MaxReconnectAttempts int

	Debug bool
}

// Default returns a Config with the documented defaults applied; callers
// still must set ServerIP and PlayerName.
func Default() Config {
	return Config{
		ServerPort:            27910,
		MonitorInterval:       5000 * time.Millisecond,
		MaxReconnectAttempts:  5,
	}
}
