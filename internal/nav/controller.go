// Package nav arbitrates between manual RC steering and autonomous
// waypoint following and produces a bounded steering angle each tick.
package nav

import (
	"sync"
	"time"

	"rtkrover/internal/geo"
	"rtkrover/internal/rc"
)

const (
	DefaultAutoThresholdUS     = 1500
	DefaultOverrideThresholdUS = 1750
	DefaultProximityM          = 2.0
	DefaultFullLeftUS          = 1048
	DefaultFullRightUS         = 2043
	DefaultMaxAngleDeg         = 90.0
	DefaultKp                  = 0.3
)

// Mode is the steering authority for a tick.
type Mode int

const (
	ModeManual Mode = iota
	ModeAutonomous
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAutonomous:
		return "autonomous"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

type Config struct {
	AutoThresholdUS     int
	OverrideThresholdUS int
	ProximityM          float64
	FullLeftUS          int
	FullRightUS         int
	MaxAngleDeg         float64
	Kp, Ki, Kd          float64
}

func DefaultConfig() Config {
	return Config{
		AutoThresholdUS:     DefaultAutoThresholdUS,
		OverrideThresholdUS: DefaultOverrideThresholdUS,
		ProximityM:          DefaultProximityM,
		FullLeftUS:          DefaultFullLeftUS,
		FullRightUS:         DefaultFullRightUS,
		MaxAngleDeg:         DefaultMaxAngleDeg,
		Kp:                  DefaultKp,
	}
}

// TickInput is everything the controller reads at the top of a tick.
type TickInput struct {
	Inputs rc.Inputs

	Lat, Lon    float64
	HasPosition bool
	Heading     float64
	HasHeading  bool

	Now time.Time
}

// Command is the result of one tick.
type Command struct {
	Mode     Mode    `json:"mode"`
	AngleDeg float64 `json:"angle_deg"`
	// Navigating is set when the angle came from the heading controller.
	Navigating    bool    `json:"navigating"`
	Advanced      bool    `json:"advanced"`
	WaypointIndex int     `json:"waypoint_index"`
	Distance      float64 `json:"distance_m"`
	HasDistance   bool    `json:"has_distance"`
	HeadingError  float64 `json:"heading_error"`
}

// State is a copy of the controller's navigation state.
type State struct {
	Mode             Mode       `json:"mode"`
	WaypointIndex    int        `json:"waypoint_index"`
	WaypointCount    int        `json:"waypoint_count"`
	Target           *Waypoint  `json:"target,omitempty"`
	OverrideLatched  bool       `json:"override_latched"`
	LastHeadingError float64    `json:"last_heading_error"`
	LastDistance     float64    `json:"last_distance_m"`
	HasDistance      bool       `json:"has_distance"`
	Advances         int        `json:"advances"`
	Waypoints        []Waypoint `json:"-"`
}

// Controller owns the navigation state. Tick is called only from the control
// loop; State may be called from any goroutine.
type Controller struct {
	cfg       Config
	waypoints []Waypoint
	pid       *PID

	mu       sync.Mutex
	mode     Mode
	index    int
	latch    bool
	lastErr  float64
	lastDist float64
	haveDist bool
	advances int
	lastTick time.Time
}

func NewController(cfg Config, waypoints []Waypoint) *Controller {
	def := DefaultConfig()
	if cfg.AutoThresholdUS <= 0 {
		cfg.AutoThresholdUS = def.AutoThresholdUS
	}
	if cfg.OverrideThresholdUS <= 0 {
		cfg.OverrideThresholdUS = def.OverrideThresholdUS
	}
	if cfg.ProximityM <= 0 {
		cfg.ProximityM = def.ProximityM
	}
	if cfg.FullLeftUS <= 0 || cfg.FullRightUS <= 0 || cfg.FullLeftUS == cfg.FullRightUS {
		cfg.FullLeftUS, cfg.FullRightUS = def.FullLeftUS, def.FullRightUS
	}
	if cfg.MaxAngleDeg <= 0 {
		cfg.MaxAngleDeg = def.MaxAngleDeg
	}
	return &Controller{
		cfg:       cfg,
		waypoints: append([]Waypoint(nil), waypoints...),
		pid:       NewPID(cfg.Kp, cfg.Ki, cfg.Kd, cfg.MaxAngleDeg),
	}
}

func (c *Controller) Config() Config { return c.cfg }

// Tick runs one control step. Mode is level-triggered on the mode pulse.
func (c *Controller) Tick(in TickInput) Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dt time.Duration
	if !c.lastTick.IsZero() && !in.Now.IsZero() {
		dt = in.Now.Sub(c.lastTick)
	}
	if !in.Now.IsZero() {
		c.lastTick = in.Now
	}

	if in.Inputs.ModeUS <= c.cfg.AutoThresholdUS {
		if c.mode == ModeAutonomous {
			c.pid.Reset()
		}
		c.mode = ModeManual
		return Command{
			Mode:          ModeManual,
			AngleDeg:      c.manualAngle(in.Inputs.SteeringUS),
			WaypointIndex: c.index,
			Distance:      c.lastDist,
			HasDistance:   c.haveDist,
			HeadingError:  c.lastErr,
		}
	}
	c.mode = ModeAutonomous
	cmd := Command{Mode: ModeAutonomous}

	n := len(c.waypoints)
	if n == 0 {
		return cmd
	}

	if c.shouldAdvance(in.Inputs.SteeringUS) {
		c.index = (c.index + 1) % n
		c.haveDist = false
		c.lastDist = 0
		c.advances++
		c.pid.Reset()
		cmd.Advanced = true
	}
	cmd.WaypointIndex = c.index

	if !in.HasPosition || !in.HasHeading {
		cmd.Distance, cmd.HasDistance, cmd.HeadingError = c.lastDist, c.haveDist, c.lastErr
		return cmd
	}

	wp := c.waypoints[c.index]
	dist := geo.ApproxDistance(in.Lat, in.Lon, wp.Lat, wp.Lon)
	bearing := geo.InitialBearing(in.Lat, in.Lon, wp.Lat, wp.Lon)
	herr := geo.HeadingError(bearing, in.Heading)

	c.lastDist, c.haveDist, c.lastErr = dist, true, herr

	cmd.Navigating = true
	cmd.AngleDeg = c.pid.Update(herr, dt)
	cmd.Distance, cmd.HasDistance, cmd.HeadingError = dist, true, herr
	return cmd
}

// shouldAdvance updates the override latch and reports whether the active
// waypoint should move on: once per rising edge of the steering pulse, or
// whenever the last computed distance is inside the proximity radius.
func (c *Controller) shouldAdvance(steeringUS int) bool {
	advance := false
	high := steeringUS > c.cfg.OverrideThresholdUS
	if high && !c.latch {
		advance = true
	}
	c.latch = high

	if c.haveDist && c.lastDist < c.cfg.ProximityM {
		advance = true
	}
	return advance
}

// manualAngle maps the steering pulse from the calibrated full-left/right
// range onto ±MaxAngleDeg, clamped.
func (c *Controller) manualAngle(us int) float64 {
	left, right := float64(c.cfg.FullLeftUS), float64(c.cfg.FullRightUS)
	lim := c.cfg.MaxAngleDeg
	a := (float64(us)-left)*(2*lim)/(right-left) - lim
	if a < -lim {
		a = -lim
	}
	if a > lim {
		a = lim
	}
	return a
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Mode:             c.mode,
		WaypointIndex:    c.index,
		WaypointCount:    len(c.waypoints),
		OverrideLatched:  c.latch,
		LastHeadingError: c.lastErr,
		LastDistance:     c.lastDist,
		HasDistance:      c.haveDist,
		Advances:         c.advances,
		Waypoints:        append([]Waypoint(nil), c.waypoints...),
	}
	if len(c.waypoints) > 0 {
		wp := c.waypoints[c.index]
		s.Target = &wp
	}
	return s
}
