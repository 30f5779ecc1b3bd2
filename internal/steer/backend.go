package steer

import (
	"fmt"
	"strings"
)

type BackendConfig struct {
	// Backend is one of "sysfs", "periph" or "none".
	Backend     string
	Pin         string
	PWMChip     string
	PWMChannel  int
	FrequencyHz int
}

// Open returns the driver selected by cfg.Backend.
func Open(cfg BackendConfig) (Driver, error) {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return NopDriver{}, nil
	case "sysfs":
		return openSysfs(cfg.PWMChip, cfg.PWMChannel, cfg.FrequencyHz)
	case "periph":
		return openPeriph(cfg.Pin, cfg.FrequencyHz)
	default:
		return nil, fmt.Errorf("steer: unknown backend %q", cfg.Backend)
	}
}
