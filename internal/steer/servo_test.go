package steer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type recordingDriver struct {
	pulses []float64
	err    error
	closed bool
}

func (d *recordingDriver) SetPulse(us float64) error {
	if d.err != nil {
		return d.err
	}
	d.pulses = append(d.pulses, us)
	return nil
}

func (d *recordingDriver) Close() error {
	d.closed = true
	return nil
}

func newTestServo(t *testing.T, drv Driver) *Servo {
	t.Helper()
	s, err := NewServo(Config{MinPulseUS: 1100, MaxPulseUS: 1900, MaxAngleDeg: 90}, drv)
	require.NoError(t, err)
	return s
}

func TestServo_PulseMapping(t *testing.T) {
	s := newTestServo(t, nil)
	require.Equal(t, 1100.0, s.PulseFor(-90))
	require.Equal(t, 1500.0, s.PulseFor(0))
	require.Equal(t, 1900.0, s.PulseFor(90))
	require.InDelta(t, 1700.0, s.PulseFor(45), 1e-9)
	require.Equal(t, 1100.0, s.PulseFor(-400))
	require.Equal(t, 1900.0, s.PulseFor(400))
}

func TestServo_ApplyRespectsEnabled(t *testing.T) {
	drv := &recordingDriver{}
	s := newTestServo(t, drv)

	pulse, applied, err := s.Apply(45, false)
	require.NoError(t, err)
	require.False(t, applied)
	require.InDelta(t, 1700.0, pulse, 1e-9)
	require.Empty(t, drv.pulses)

	_, applied, err = s.Apply(-90, true)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, []float64{1100}, drv.pulses)

	last, ok := s.LastPulse()
	require.True(t, ok)
	require.Equal(t, 1100.0, last)

	require.NoError(t, s.Close())
	require.True(t, drv.closed)
	require.Equal(t, []float64{1100, 1500}, drv.pulses)
}

func TestServo_ApplyWrapsDriverError(t *testing.T) {
	boom := errors.New("boom")
	s := newTestServo(t, &recordingDriver{err: boom})
	_, applied, err := s.Apply(0, true)
	require.ErrorIs(t, err, boom)
	require.False(t, applied)
}

func TestNewServo_RejectsInvertedRange(t *testing.T) {
	_, err := NewServo(Config{MinPulseUS: 1900, MaxPulseUS: 1100}, nil)
	require.Error(t, err)
}

func TestOpen_NoneAndUnknown(t *testing.T) {
	d, err := Open(BackendConfig{Backend: "none"})
	require.NoError(t, err)
	require.IsType(t, NopDriver{}, d)

	_, err = Open(BackendConfig{Backend: "bogus"})
	require.Error(t, err)
}

func TestDutyFor(t *testing.T) {
	period := 20 * time.Millisecond
	require.Equal(t, gpio.Duty(0), dutyFor(0, period))
	require.InDelta(t, float64(gpio.DutyMax)*0.075, float64(dutyFor(1500, period)), 1)
	require.Equal(t, gpio.DutyMax, dutyFor(30000, period))
}
