package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeadingError_Wraps(t *testing.T) {
	cases := []struct {
		bearing, heading, want float64
	}{
		{350, 10, -20},
		{10, 350, 20},
		{90, 90, 0},
		{0, 180, -180},
		{270, 0, -90},
		{45, 300, 105},
	}
	for _, c := range cases {
		require.InDelta(t, c.want, HeadingError(c.bearing, c.heading), 1e-9, "bearing=%v heading=%v", c.bearing, c.heading)
	}
}

func TestInitialBearing_Cardinal(t *testing.T) {
	require.InDelta(t, 0, InitialBearing(0, 0, 1, 0), 1e-9)
	require.InDelta(t, 90, InitialBearing(0, 0, 0, 1), 1e-9)
	require.InDelta(t, 180, InitialBearing(1, 0, 0, 0), 1e-9)
	require.InDelta(t, 270, InitialBearing(0, 1, 0, 0), 1e-9)
}

func TestHaversine_OneDegreeLatitude(t *testing.T) {
	d := Haversine(0, 0, 1, 0)
	require.InDelta(t, EarthRadiusM*math.Pi/180, d, 1e-6)
}

func TestApproxDistance_MatchesHaversineAtShortRange(t *testing.T) {
	lat1, lon1 := 48.1173, 11.5167
	lat2, lon2 := 48.1180, 11.5180
	h := Haversine(lat1, lon1, lat2, lon2)
	a := ApproxDistance(lat1, lon1, lat2, lon2)
	require.Greater(t, h, 50.0)
	require.InDelta(t, h, a, h*0.001)
}

func TestValidLatLon(t *testing.T) {
	require.True(t, ValidLatLon(48.1, 11.5))
	require.True(t, ValidLatLon(-90, 180))
	require.False(t, ValidLatLon(90.01, 0))
	require.False(t, ValidLatLon(0, -180.5))
	require.False(t, ValidLatLon(math.NaN(), 0))
}
