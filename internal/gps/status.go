package gps

import (
	"fmt"
	"time"
)

// FixQuality is the GGA fix-quality code. Codes without a name are kept
// verbatim so they can still be reported.
type FixQuality int

const (
	FixNone     FixQuality = 0
	FixGPS      FixQuality = 1
	FixDGPS     FixQuality = 2
	FixRTKFixed FixQuality = 4
	FixRTKFloat FixQuality = 5
)

func (q FixQuality) String() string {
	switch q {
	case FixNone:
		return "None"
	case FixGPS:
		return "GPS"
	case FixDGPS:
		return "DGPS"
	case FixRTKFixed:
		return "RTK Fixed"
	case FixRTKFloat:
		return "RTK Float"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// ReceiverStatus is the latest receiver state assembled from decoded
// records. Each field is updated independently: a heading record leaves a
// previously parsed position untouched.
//
// Not safe for concurrent use; the control loop owns it and copies it into
// the shared status.
type ReceiverStatus struct {
	TimeOfDay string `json:"time,omitempty"`

	Quality    FixQuality `json:"-"`
	HasQuality bool       `json:"-"`

	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	HasPosition bool    `json:"has_position"`

	Heading     float64 `json:"heading_deg"`
	HeadingText string  `json:"heading,omitempty"`
	HasHeading  bool    `json:"has_heading"`

	LastUpdate time.Time `json:"last_update,omitempty"`
}

// Apply folds one update into the status.
func (s *ReceiverStatus) Apply(u Update) {
	if u.Position != nil {
		s.Lat = u.Position.Lat
		s.Lon = u.Position.Lon
		s.HasPosition = true
	}
	if u.TimeOfDay != "" {
		s.TimeOfDay = u.TimeOfDay
	}
	if u.HasQuality {
		s.Quality = u.Quality
		s.HasQuality = true
	}
	if u.Heading != nil {
		s.Heading = *u.Heading
		s.HeadingText = u.HeadingText
		s.HasHeading = true
	}
	if u.Sentence == "GGA" {
		s.LastUpdate = u.At
	}
}

// QualityText is the fix quality for display, empty until a GGA was seen.
func (s ReceiverStatus) QualityText() string {
	if !s.HasQuality {
		return ""
	}
	return s.Quality.String()
}
