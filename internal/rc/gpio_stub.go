//go:build !linux || (!arm && !arm64)

package rc

import "fmt"

// GPIOSampler is unavailable on this platform.
type GPIOSampler struct{}

func OpenGPIO(chip string, steeringLine, modeLine int) (*GPIOSampler, error) {
	return nil, fmt.Errorf("rc: gpio unsupported on this platform")
}

func (s *GPIOSampler) Sample() (int, int, [2]bool) { return 0, 0, [2]bool{} }

func (s *GPIOSampler) Close() error { return nil }
