package nav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPID_ProportionalOnlyByDefault(t *testing.T) {
	p := NewPID(0.3, 0, 0, 90)
	require.InDelta(t, -6.0, p.Update(-20, 10*time.Millisecond), 1e-9)
	require.InDelta(t, 3.0, p.Update(10, 0), 1e-9)
}

func TestPID_ClampsToLimits(t *testing.T) {
	p := NewPID(10, 0, 0, 90)
	require.Equal(t, 90.0, p.Update(179, time.Second))
	require.Equal(t, -90.0, p.Update(-179, time.Second))
}

func TestPID_IntegralNeedsTime(t *testing.T) {
	p := NewPID(0, 1, 0, 90)
	require.Equal(t, 0.0, p.Update(10, 0))
	require.InDelta(t, 5.0, p.Update(10, 500*time.Millisecond), 1e-9)

	p.Reset()
	require.Equal(t, 0.0, p.Update(10, 0))
}

func TestPID_DerivativeUsesPreviousError(t *testing.T) {
	p := NewPID(0, 0, 1, 90)
	require.Equal(t, 0.0, p.Update(10, time.Second))
	require.InDelta(t, -4.0, p.Update(6, time.Second), 1e-9)
}
