package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"rtkrover/internal/gps"
	"rtkrover/internal/nav"
	"rtkrover/internal/rc"
	"rtkrover/internal/track"
)

func newTestServer(t *testing.T, st *Status, tracks *track.Store, feed *Broadcaster, shutdown func()) *httptest.Server {
	t.Helper()
	logs := NewLogBuffer(10)
	_, _ = logs.Write([]byte("level=INFO msg=\"caster connected\"\nlevel=WARN msg=\"wifi link down\"\n"))
	ts := httptest.NewServer(Handler(st, tracks, logs, feed, shutdown))
	t.Cleanup(ts.Close)
	return ts
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetRunID("run-1")
	st.SetWaypointCount(4)
	st.MarkTick(time.Now(), ControlUpdate{
		Receiver: gps.ReceiverStatus{
			TimeOfDay: "12:35:19", Quality: gps.FixRTKFixed, HasQuality: true,
			Lat: 48.1173, Lon: 11.5167, HasPosition: true,
			Heading: 84.4, HeadingText: "84.40", HasHeading: true,
			LastUpdate: time.Now(),
		},
		TrackLen: 3,
		Inputs:   rc.Inputs{SteeringUS: 1500, ModeUS: 1900},
		Command: nav.Command{
			Mode: nav.ModeAutonomous, AngleDeg: 6, Navigating: true,
			WaypointIndex: 2, Distance: 12.5, HasDistance: true, HeadingError: 20,
		},
		PulseUS: 1553.3,
		Applied: true,
	})

	ts := newTestServer(t, st, nil, nil, nil)
	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap StatusSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, "rtkrover", snap.Service)
	require.Equal(t, "run-1", snap.RunID)
	require.True(t, snap.Fix.Valid)
	require.Equal(t, "RTK Fixed", snap.Fix.Quality)
	require.InDelta(t, 48.1173, *snap.Fix.Lat, 1e-9)
	require.Equal(t, "84.40", snap.Fix.Heading)
	require.Equal(t, 3, snap.Fix.TrackPoints)
	require.Equal(t, "autonomous", snap.Control.Mode)
	require.True(t, snap.Control.SteeringEnabled)
	require.Equal(t, 2, snap.Nav.WaypointIndex)
	require.Equal(t, 4, snap.Nav.WaypointCount)
	require.InDelta(t, 12.5, *snap.Nav.DistanceM, 1e-9)
	require.Equal(t, uint64(1), snap.Ticks)
}

func TestAPIStatus_NoFixYet(t *testing.T) {
	snap := NewStatus().Snapshot(time.Now())
	require.False(t, snap.Fix.Valid)
	require.Nil(t, snap.Fix.Lat)
	require.Nil(t, snap.Fix.QualityCode)
	require.Nil(t, snap.Nav.DistanceM)
	require.Equal(t, "manual", snap.Control.Mode)
}

func TestAPISteering_Toggle(t *testing.T) {
	st := NewStatus()
	ts := newTestServer(t, st, nil, nil, nil)

	resp, err := http.Post(ts.URL+"/api/steering?state=off", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, st.SteeringEnabled())

	resp, err = http.Get(ts.URL + "/api/steering?state=on")
	require.NoError(t, err)
	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.True(t, out["steering_enabled"])
	require.True(t, st.SteeringEnabled())

	resp, err = http.Get(ts.URL + "/api/steering?state=maybe")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.True(t, st.SteeringEnabled())
}

func TestAPITrack_GeoJSON(t *testing.T) {
	tracks := track.NewStore(60)
	tracks.Record(48.1, 11.5, time.Time{})
	ts := newTestServer(t, NewStatus(), tracks, nil, nil)

	resp, err := http.Get(ts.URL + "/api/track")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fc))
	require.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
}

func TestAPITrack_MissingStore(t *testing.T) {
	ts := newTestServer(t, NewStatus(), nil, nil, nil)
	resp, err := http.Get(ts.URL + "/api/track")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIShutdown(t *testing.T) {
	var called atomic.Bool
	ts := newTestServer(t, NewStatus(), nil, nil, func() { called.Store(true) })

	resp, err := http.Get(ts.URL + "/api/shutdown")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.False(t, called.Load())

	resp, err = http.Post(ts.URL+"/api/shutdown", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, called.Load())
}

func TestAPILogs_Filter(t *testing.T) {
	ts := newTestServer(t, NewStatus(), nil, nil, nil)

	resp, err := http.Get(ts.URL + "/api/logs?q=WARN")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out LogsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, []string{`level=WARN msg="wifi link down"`}, out.Lines)
}

func TestRootPage(t *testing.T) {
	ts := newTestServer(t, NewStatus(), nil, nil, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))

	resp2, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestWSStatus_PushesSnapshots(t *testing.T) {
	st := NewStatus()
	st.SetRunID("ws-run")
	feed := NewBroadcaster()
	ts := newTestServer(t, st, nil, feed, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	feed.Publish(st.Snapshot(time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snap StatusSnapshot
	require.NoError(t, conn.ReadJSON(&snap))
	require.Equal(t, "ws-run", snap.RunID)
}
