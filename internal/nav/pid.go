package nav

import "time"

// PID is a small PID controller driven by a pre-computed error term (target
// zero). With Ki and Kd at zero it is a clamped proportional controller.
//
// Not safe for concurrent use.
type PID struct {
	Kp, Ki, Kd     float64
	OutMin, OutMax float64

	integral  float64
	prevError float64
	havePrev  bool
}

func NewPID(kp, ki, kd, limit float64) *PID {
	if limit <= 0 {
		limit = DefaultMaxAngleDeg
	}
	return &PID{Kp: kp, Ki: ki, Kd: kd, OutMin: -limit, OutMax: limit}
}

// Update returns the clamped output for err. The integral and derivative
// terms only advance when dt > 0.
func (p *PID) Update(err float64, dt time.Duration) float64 {
	derivative := 0.0
	if sec := dt.Seconds(); sec > 0 {
		p.integral += err * sec
		if p.havePrev {
			derivative = (err - p.prevError) / sec
		}
	}
	p.prevError = err
	p.havePrev = true

	out := p.Kp*err + p.Ki*p.integral + p.Kd*derivative
	if out < p.OutMin {
		out = p.OutMin
	}
	if out > p.OutMax {
		out = p.OutMax
	}
	return out
}

func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.havePrev = false
}
