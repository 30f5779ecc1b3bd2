package steer

import (
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// periphPWM drives the servo through periph.io's GPIO PWM support.
type periphPWM struct {
	pin    gpio.PinIO
	freq   physic.Frequency
	period time.Duration
}

func openPeriph(pinName string, hz int) (Driver, error) {
	if pinName == "" {
		return nil, fmt.Errorf("steer: periph backend needs a pin name")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("steer: periph init: %w", err)
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("steer: gpio %q not found", pinName)
	}
	return &periphPWM{
		pin:    p,
		freq:   physic.Frequency(hz) * physic.Hertz,
		period: time.Second / time.Duration(hz),
	}, nil
}

func (d *periphPWM) SetPulse(us float64) error {
	return d.pin.PWM(dutyFor(us, d.period), d.freq)
}

func (d *periphPWM) Close() error { return d.pin.Halt() }

// dutyFor converts a pulse width into a periph duty for the given period.
func dutyFor(us float64, period time.Duration) gpio.Duty {
	if period <= 0 || us <= 0 || math.IsNaN(us) {
		return 0
	}
	frac := us * float64(time.Microsecond) / float64(period)
	if frac > 1 {
		frac = 1
	}
	return gpio.Duty(math.Round(frac * float64(gpio.DutyMax)))
}
