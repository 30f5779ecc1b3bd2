// Package rc reads the radio-control receiver's steering and mode channels
// as pulse widths in microseconds.
package rc

import "sync"

const (
	DefaultSteeringUS = 1500
	DefaultModeUS     = 1000

	DefaultMinValidUS = 900
	DefaultMaxValidUS = 2200
)

// Inputs are the most recent valid pulse widths.
type Inputs struct {
	SteeringUS int `json:"steering_us"`
	ModeUS     int `json:"mode_us"`
}

// Sampler returns the latest raw measurement per channel. ok reports which
// channels produced a measurement since the previous call.
type Sampler interface {
	Sample() (steeringUS, modeUS int, ok [2]bool)
}

// Filter keeps the last plausible value per channel. Out-of-range or missing
// measurements leave the stored value untouched; there is no timeout reset.
type Filter struct {
	Min, Max int
	cur      Inputs
}

func NewFilter(min, max int) *Filter {
	if min <= 0 {
		min = DefaultMinValidUS
	}
	if max <= min {
		max = DefaultMaxValidUS
	}
	return &Filter{
		Min: min,
		Max: max,
		cur: Inputs{SteeringUS: DefaultSteeringUS, ModeUS: DefaultModeUS},
	}
}

func (f *Filter) valid(us int) bool { return us > f.Min && us < f.Max }

// Update folds one sample into the filter and returns the current inputs.
func (f *Filter) Update(steeringUS, modeUS int, ok [2]bool) Inputs {
	if ok[0] && f.valid(steeringUS) {
		f.cur.SteeringUS = steeringUS
	}
	if ok[1] && f.valid(modeUS) {
		f.cur.ModeUS = modeUS
	}
	return f.cur
}

// Read samples s and folds the result in.
func (f *Filter) Read(s Sampler) Inputs {
	if s == nil {
		return f.cur
	}
	st, md, ok := s.Sample()
	return f.Update(st, md, ok)
}

func (f *Filter) Current() Inputs { return f.cur }

// StaticSampler reports fixed pulse widths. The zero value reports nothing,
// which keeps the filter at its defaults.
type StaticSampler struct {
	mu       sync.Mutex
	steering int
	mode     int
	set      [2]bool
}

func (s *StaticSampler) Set(steeringUS, modeUS int) {
	s.mu.Lock()
	s.steering, s.mode = steeringUS, modeUS
	s.set = [2]bool{true, true}
	s.mu.Unlock()
}

func (s *StaticSampler) Sample() (int, int, [2]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steering, s.mode, s.set
}

func (s *StaticSampler) Close() error { return nil }
