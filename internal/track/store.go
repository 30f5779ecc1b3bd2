// Package track keeps the recent position history and exports it as GeoJSON
// for map rendering.
package track

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"rtkrover/internal/gps"
)

// DefaultCapacity is the number of fixes kept when no capacity is given.
const DefaultCapacity = 60

// Store is a bounded, order-preserving fix history. When full, the oldest
// fix is evicted first. The control loop is the only writer; the web and
// telemetry goroutines read.
type Store struct {
	mu    sync.RWMutex
	fixes []gps.Fix // ring storage, len == cap once full
	start int       // index of the oldest fix
	n     int
	now   func() time.Time
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{fixes: make([]gps.Fix, capacity), now: time.Now}
}

// Record appends a fix. A zero ts is replaced by the current time.
func (s *Store) Record(lat, lon float64, ts time.Time) {
	if ts.IsZero() {
		ts = s.now()
	}
	f := gps.Fix{Lat: lat, Lon: lon, Time: ts}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := len(s.fixes)
	if s.n < c {
		s.fixes[(s.start+s.n)%c] = f
		s.n++
		return
	}
	s.fixes[s.start] = f
	s.start = (s.start + 1) % c
}

// Latest returns the most recent fix.
func (s *Store) Latest() (gps.Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.n == 0 {
		return gps.Fix{}, false
	}
	return s.fixes[(s.start+s.n-1)%len(s.fixes)], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

func (s *Store) Capacity() int { return len(s.fixes) }

// Fixes returns a copy of the history, oldest first.
func (s *Store) Fixes() []gps.Fix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gps.Fix, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.fixes[(s.start+i)%len(s.fixes)]
	}
	return out
}

// GeoJSON builds a feature collection with a MultiPoint of every fix
// (kind=points) followed by a LineString through them in recorded order
// (kind=track). Coordinates are [lon, lat]. No fixes yields no features.
func (s *Store) GeoJSON() *geojson.FeatureCollection {
	fixes := s.Fixes()
	fc := geojson.NewFeatureCollection()
	if len(fixes) == 0 {
		return fc
	}

	pts := make([]orb.Point, len(fixes))
	for i, f := range fixes {
		pts[i] = orb.Point{f.Lon, f.Lat}
	}

	points := geojson.NewFeature(orb.MultiPoint(pts))
	points.Properties["kind"] = "points"
	fc.Append(points)

	line := geojson.NewFeature(orb.LineString(append([]orb.Point(nil), pts...)))
	line.Properties["kind"] = "track"
	fc.Append(line)
	return fc
}

// MarshalGeoJSON is GeoJSON encoded.
func (s *Store) MarshalGeoJSON() ([]byte, error) {
	return json.Marshal(s.GeoJSON())
}
