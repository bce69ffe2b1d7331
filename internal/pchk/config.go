package pchk

import (
	"fmt"
	"time"
)

// DimMode selects the output resolution of the LCN bus.
type DimMode string

// Supported dim modes.
const (
	DimSteps50  DimMode = "STEPS50"
	DimSteps200 DimMode = "STEPS200"
)

// Default settings, matching what PCHK installations use out of the box.
const (
	DefaultPort               = 4114
	DefaultSKNumTries         = 3
	DefaultNumTries           = 3
	DefaultAcknowledgeTimeout = 1500 * time.Millisecond
	DefaultTimeout            = 3500 * time.Millisecond
	DefaultPingInterval       = 600 * time.Second
	DefaultConnectTimeout     = 30 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultStatusInterval     = 60 * time.Second
)

// Settings tunes the bus protocol behaviour.
type Settings struct {
	// SKNumTries is how often the segment coupler scan is sent.
	// Zero skips the scan; the local segment is then 0.
	SKNumTries int

	// DimMode is the output resolution configured on the bus.
	DimMode DimMode

	// NumTries is how often an acknowledged command or a request is sent
	// before giving up.
	NumTries int

	// AcknowledgeTimeout is how long to wait for a module acknowledgement.
	AcknowledgeTimeout time.Duration

	// DefaultTimeout bounds handshake steps and module requests.
	DefaultTimeout time.Duration

	// PingInterval is the keepalive interval. Zero disables pings.
	PingInterval time.Duration

	// StatusInterval is how often an active status request handler polls
	// its item. Zero polls once.
	StatusInterval time.Duration
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		SKNumTries:         DefaultSKNumTries,
		DimMode:            DimSteps200,
		NumTries:           DefaultNumTries,
		AcknowledgeTimeout: DefaultAcknowledgeTimeout,
		DefaultTimeout:     DefaultTimeout,
		PingInterval:       DefaultPingInterval,
		StatusInterval:     DefaultStatusInterval,
	}
}

// Config holds PCHK connection configuration.
type Config struct {
	// Name identifies the connection in logs (the config entry title).
	Name string

	Host     string
	Port     int
	Username string
	Password string

	Settings Settings

	// ConnectTimeout bounds the whole Connect call.
	// Default: 30 seconds.
	ConnectTimeout time.Duration
}

// withDefaults fills zero values. SKNumTries is left alone since zero is
// meaningful.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Settings.DimMode == "" {
		c.Settings.DimMode = DimSteps200
	}
	if c.Settings.NumTries <= 0 {
		c.Settings.NumTries = DefaultNumTries
	}
	if c.Settings.AcknowledgeTimeout <= 0 {
		c.Settings.AcknowledgeTimeout = DefaultAcknowledgeTimeout
	}
	if c.Settings.DefaultTimeout <= 0 {
		c.Settings.DefaultTimeout = DefaultTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Name == "" {
		c.Name = c.Host
	}
	return c
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConnectionFailed, c.Port)
	}
	switch c.Settings.DimMode {
	case "", DimSteps50, DimSteps200:
	default:
		return fmt.Errorf("%w: unknown dim mode %q", ErrConnectionFailed, c.Settings.DimMode)
	}
	return nil
}
