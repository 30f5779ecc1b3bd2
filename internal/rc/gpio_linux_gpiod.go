//go:build linux && (arm || arm64)

package rc

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOSampler measures the two RC channels from both-edge events on the GPIO
// character device.
type GPIOSampler struct {
	chip     *gpiocdev.Chip
	lines    []*gpiocdev.Line
	steering pulseMeter
	mode     pulseMeter
}

// OpenGPIO requests steeringLine and modeLine on chip (for example
// "/dev/gpiochip0" or "gpiochip0") as inputs with edge detection.
func OpenGPIO(chip string, steeringLine, modeLine int) (*GPIOSampler, error) {
	if steeringLine < 0 || modeLine < 0 || steeringLine == modeLine {
		return nil, fmt.Errorf("rc: invalid gpio lines steering=%d mode=%d", steeringLine, modeLine)
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("rtkrover-rc"))
	if err != nil {
		return nil, fmt.Errorf("rc: open %s: %w", chip, err)
	}
	s := &GPIOSampler{chip: c}

	for _, req := range []struct {
		offset int
		meter  *pulseMeter
	}{
		{steeringLine, &s.steering},
		{modeLine, &s.mode},
	} {
		meter := req.meter
		l, err := c.RequestLine(req.offset,
			gpiocdev.AsInput,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				meter.edge(evt.Type == gpiocdev.LineEventRisingEdge, evt.Timestamp)
			}),
		)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("rc: request line %d: %w", req.offset, err)
		}
		s.lines = append(s.lines, l)
	}
	return s, nil
}

func (s *GPIOSampler) Sample() (int, int, [2]bool) {
	st, okS := s.steering.take()
	md, okM := s.mode.take()
	return st, md, [2]bool{okS, okM}
}

func (s *GPIOSampler) Close() error {
	var errs []error
	for _, l := range s.lines {
		errs = append(errs, l.Close())
	}
	s.lines = nil
	if s.chip != nil {
		errs = append(errs, s.chip.Close())
		s.chip = nil
	}
	return errors.Join(errs...)
}
