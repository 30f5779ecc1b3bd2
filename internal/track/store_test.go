package track

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_EmptyHasNoLatest(t *testing.T) {
	s := NewStore(0)
	require.Equal(t, DefaultCapacity, s.Capacity())
	_, ok := s.Latest()
	require.False(t, ok)
	require.Empty(t, s.Fixes())
}

func TestStore_EvictsOldestFirst(t *testing.T) {
	s := NewStore(60)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	const n = 137
	for i := 0; i < n; i++ {
		s.Record(float64(i)/1000, float64(i)/100, base.Add(time.Duration(i)*time.Second))
		require.LessOrEqual(t, s.Len(), 60)
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	require.InDelta(t, float64(n-1)/1000, latest.Lat, 1e-12)

	fixes := s.Fixes()
	require.Len(t, fixes, 60)
	for i, f := range fixes {
		want := n - 60 + i
		require.InDelta(t, float64(want)/1000, f.Lat, 1e-12)
		require.Equal(t, base.Add(time.Duration(want)*time.Second), f.Time)
	}
}

func TestStore_ZeroTimestampUsesClock(t *testing.T) {
	s := NewStore(3)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return at }
	s.Record(1, 2, time.Time{})
	f, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, at, f.Time)
}

type featureJSON struct {
	Type     string `json:"type"`
	Features []struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		Geometry   struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

func TestStore_GeoJSONEmpty(t *testing.T) {
	b, err := NewStore(60).MarshalGeoJSON()
	require.NoError(t, err)

	var fc featureJSON
	require.NoError(t, json.Unmarshal(b, &fc))
	require.Equal(t, "FeatureCollection", fc.Type)
	require.Empty(t, fc.Features)
}

func TestStore_GeoJSONPointsThenLineLonLat(t *testing.T) {
	s := NewStore(60)
	s.Record(48.1, 11.5, time.Time{})
	s.Record(48.2, 11.6, time.Time{})

	b, err := s.MarshalGeoJSON()
	require.NoError(t, err)

	var fc featureJSON
	require.NoError(t, json.Unmarshal(b, &fc))
	require.Len(t, fc.Features, 2)

	require.Equal(t, "MultiPoint", fc.Features[0].Geometry.Type)
	require.Equal(t, "points", fc.Features[0].Properties["kind"])
	require.Equal(t, "LineString", fc.Features[1].Geometry.Type)
	require.Equal(t, "track", fc.Features[1].Properties["kind"])

	want := [][2]float64{{11.5, 48.1}, {11.6, 48.2}}
	require.Equal(t, want, fc.Features[0].Geometry.Coordinates)
	require.Equal(t, want, fc.Features[1].Geometry.Coordinates)
}
