// Package steer drives the steering servo from a signed angle.
package steer

import (
	"fmt"
	"math"
	"sync"
)

const (
	DefaultFrequencyHz = 50
	DefaultMinPulseUS  = 1100
	DefaultMaxPulseUS  = 1900
	DefaultMaxAngleDeg = 90.0
)

// Driver is the minimal interface a PWM backend provides. Pulse width is in
// microseconds. Close should leave the output in a safe state.
type Driver interface {
	SetPulse(us float64) error
	Close() error
}

type Config struct {
	MinPulseUS  float64
	MaxPulseUS  float64
	MaxAngleDeg float64
}

// Servo maps [-MaxAngleDeg, MaxAngleDeg] linearly onto the pulse range.
type Servo struct {
	cfg Config
	drv Driver

	mu        sync.Mutex
	lastPulse float64
	applied   bool
}

func NewServo(cfg Config, drv Driver) (*Servo, error) {
	if cfg.MinPulseUS == 0 && cfg.MaxPulseUS == 0 {
		cfg.MinPulseUS, cfg.MaxPulseUS = DefaultMinPulseUS, DefaultMaxPulseUS
	}
	if cfg.MinPulseUS <= 0 || cfg.MaxPulseUS <= cfg.MinPulseUS {
		return nil, fmt.Errorf("steer: invalid pulse range %v..%v", cfg.MinPulseUS, cfg.MaxPulseUS)
	}
	if cfg.MaxAngleDeg <= 0 {
		cfg.MaxAngleDeg = DefaultMaxAngleDeg
	}
	if drv == nil {
		drv = NopDriver{}
	}
	return &Servo{cfg: cfg, drv: drv}, nil
}

// PulseFor returns the pulse width for angle, clamped to the configured range.
func (s *Servo) PulseFor(angle float64) float64 {
	if math.IsNaN(angle) {
		angle = 0
	}
	lim := s.cfg.MaxAngleDeg
	if angle < -lim {
		angle = -lim
	}
	if angle > lim {
		angle = lim
	}
	return s.cfg.MinPulseUS + (angle+lim)*(s.cfg.MaxPulseUS-s.cfg.MinPulseUS)/(2*lim)
}

// Apply computes the pulse for angle and writes it only when enabled.
func (s *Servo) Apply(angle float64, enabled bool) (pulseUS float64, applied bool, err error) {
	pulseUS = s.PulseFor(angle)
	if !enabled {
		return pulseUS, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.drv.SetPulse(pulseUS); err != nil {
		return pulseUS, false, fmt.Errorf("steer: set pulse: %w", err)
	}
	s.lastPulse = pulseUS
	s.applied = true
	return pulseUS, true, nil
}

// LastPulse is the last pulse width written to the driver.
func (s *Servo) LastPulse() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPulse, s.applied
}

// Center drives the servo to neutral and closes the driver.
func (s *Servo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.drv.SetPulse(s.PulseFor(0))
	return s.drv.Close()
}

// NopDriver accepts and discards every pulse.
type NopDriver struct{}

func (NopDriver) SetPulse(float64) error { return nil }
func (NopDriver) Close() error           { return nil }
