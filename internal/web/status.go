package web

import (
	"sync"
	"time"

	"rtkrover/internal/gps"
	"rtkrover/internal/nav"
	"rtkrover/internal/ntrip"
	"rtkrover/internal/rc"
	"rtkrover/internal/wifi"
)

const serviceName = "rtkrover"

// Status is the one shared status value. The control loop and the monitors
// write it; HTTP, WebSocket and MQTT readers take snapshots. The steering
// flag is the only field an operator can change.
type Status struct {
	mu sync.RWMutex

	start  time.Time
	runID  string
	ticks  uint64
	lastAt time.Time

	receiver gps.ReceiverStatus
	trackLen int

	cmd        nav.Command
	inputs     rc.Inputs
	pulseUS    float64
	applied    bool
	wpCount    int
	steeringOn bool

	relay        ntrip.Snapshot
	relayEnabled bool
	link         wifi.LinkState
}

func NewStatus() *Status {
	return &Status{
		start:      time.Now().UTC(),
		steeringOn: true,
		inputs:     rc.Inputs{SteeringUS: rc.DefaultSteeringUS, ModeUS: rc.DefaultModeUS},
	}
}

func (s *Status) SetRunID(id string) {
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

func (s *Status) SteeringEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.steeringOn
}

func (s *Status) SetSteeringEnabled(on bool) {
	s.mu.Lock()
	s.steeringOn = on
	s.mu.Unlock()
}

func (s *Status) SetWaypointCount(n int) {
	s.mu.Lock()
	s.wpCount = n
	s.mu.Unlock()
}

// ControlUpdate is what the loop publishes after each tick.
type ControlUpdate struct {
	Receiver gps.ReceiverStatus
	TrackLen int
	Inputs   rc.Inputs
	Command  nav.Command
	PulseUS  float64
	Applied  bool
}

// MarkTick records one loop iteration in a single critical section so
// readers never see a fix from one tick with a command from another.
func (s *Status) MarkTick(now time.Time, u ControlUpdate) {
	if now.IsZero() {
		now = time.Now()
	}
	s.mu.Lock()
	s.ticks++
	s.lastAt = now
	s.receiver = u.Receiver
	s.trackLen = u.TrackLen
	s.inputs = u.Inputs
	s.cmd = u.Command
	s.pulseUS = u.PulseUS
	s.applied = u.Applied
	s.mu.Unlock()
}

func (s *Status) SetRelay(enabled bool, snap ntrip.Snapshot) {
	s.mu.Lock()
	s.relayEnabled = enabled
	s.relay = snap
	s.mu.Unlock()
}

func (s *Status) SetLink(st wifi.LinkState) {
	s.mu.Lock()
	s.link = st
	s.mu.Unlock()
}

type FixSnapshot struct {
	Valid         bool     `json:"valid"`
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	TimeOfDay     string   `json:"time_utc,omitempty"`
	Quality       string   `json:"fix_quality,omitempty"`
	QualityCode   *int     `json:"fix_quality_code,omitempty"`
	HeadingDeg    *float64 `json:"heading_deg,omitempty"`
	Heading       string   `json:"heading,omitempty"`
	LastUpdateUTC string   `json:"last_update_utc,omitempty"`
	AgeSec        *float64 `json:"age_sec,omitempty"`
	TrackPoints   int      `json:"track_points"`
}

type ControlSnapshot struct {
	Mode            string  `json:"mode"`
	SteeringEnabled bool    `json:"steering_enabled"`
	AngleDeg        float64 `json:"angle_deg"`
	PulseUS         float64 `json:"steering_pulse_us"`
	Applied         bool    `json:"applied"`
	Navigating      bool    `json:"navigating"`
	RCSteeringUS    int     `json:"rc_steering_us"`
	RCModeUS        int     `json:"rc_mode_us"`
}

type NavSnapshot struct {
	WaypointIndex int      `json:"waypoint_index"`
	WaypointCount int      `json:"waypoint_count"`
	DistanceM     *float64 `json:"distance_m,omitempty"`
	HeadingError  float64  `json:"heading_error"`
}

type RelaySnapshot struct {
	Enabled bool `json:"enabled"`
	ntrip.Snapshot
}

type StatusSnapshot struct {
	Service     string          `json:"service"`
	RunID       string          `json:"run_id,omitempty"`
	NowUTC      string          `json:"now_utc"`
	UptimeSec   int64           `json:"uptime_sec"`
	Ticks       uint64          `json:"ticks"`
	LastTickUTC string          `json:"last_tick_utc,omitempty"`
	Fix         FixSnapshot     `json:"fix"`
	Control     ControlSnapshot `json:"control"`
	Nav         NavSnapshot     `json:"nav"`
	NTRIP       RelaySnapshot   `json:"ntrip"`
	WiFi        wifi.LinkState  `json:"wifi"`
}

func (s *Status) Snapshot(now time.Time) StatusSnapshot {
	if now.IsZero() {
		now = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		Service:   serviceName,
		RunID:     s.runID,
		NowUTC:    now.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(now.Sub(s.start).Seconds()),
		Ticks:     s.ticks,
		Fix:       fixSnapshot(s.receiver, now),
		Control: ControlSnapshot{
			Mode:            s.cmd.Mode.String(),
			SteeringEnabled: s.steeringOn,
			AngleDeg:        s.cmd.AngleDeg,
			PulseUS:         s.pulseUS,
			Applied:         s.applied,
			Navigating:      s.cmd.Navigating,
			RCSteeringUS:    s.inputs.SteeringUS,
			RCModeUS:        s.inputs.ModeUS,
		},
		Nav: NavSnapshot{
			WaypointIndex: s.cmd.WaypointIndex,
			WaypointCount: s.wpCount,
			HeadingError:  s.cmd.HeadingError,
		},
		NTRIP: RelaySnapshot{Enabled: s.relayEnabled, Snapshot: s.relay},
		WiFi:  s.link,
	}
	snap.Fix.TrackPoints = s.trackLen
	if s.cmd.HasDistance {
		d := s.cmd.Distance
		snap.Nav.DistanceM = &d
	}
	if !s.lastAt.IsZero() {
		snap.LastTickUTC = s.lastAt.UTC().Format(time.RFC3339Nano)
	}
	return snap
}

func fixSnapshot(rs gps.ReceiverStatus, now time.Time) FixSnapshot {
	var f FixSnapshot
	if rs.HasPosition {
		lat, lon := rs.Lat, rs.Lon
		f.Lat, f.Lon = &lat, &lon
		f.Valid = true
	}
	f.TimeOfDay = rs.TimeOfDay
	if rs.HasQuality {
		q := int(rs.Quality)
		f.QualityCode = &q
		f.Quality = rs.Quality.String()
		f.Valid = f.Valid && rs.Quality != gps.FixNone
	}
	if rs.HasHeading {
		h := rs.Heading
		f.HeadingDeg = &h
		f.Heading = rs.HeadingText
	}
	if !rs.LastUpdate.IsZero() {
		f.LastUpdateUTC = rs.LastUpdate.UTC().Format(time.RFC3339Nano)
		age := now.Sub(rs.LastUpdate).Seconds()
		f.AgeSec = &age
	}
	return f
}
