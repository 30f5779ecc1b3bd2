package gps

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"rtkrover/internal/geo"
)

var (
	// ErrUnsupportedSentence is returned for records this package does not decode.
	ErrUnsupportedSentence = errors.New("gps: unsupported sentence")
	// ErrMalformed is returned when a record is missing fields or a field is not numeric.
	ErrMalformed = errors.New("gps: malformed record")
	// ErrOutOfRange is returned when a decoded coordinate falls outside WGS84 bounds.
	ErrOutOfRange = errors.New("gps: coordinate out of range")
)

var knownTalkers = map[string]bool{
	"GP": true, // GPS
	"GN": true, // multi-constellation
	"GL": true, // GLONASS
	"GA": true, // Galileo
	"GB": true, // BeiDou
	"GQ": true, // QZSS
}

// Fix is one accepted position.
type Fix struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

// Update is what a single decoded record contributes. Only the fields the
// record carried are set.
type Update struct {
	Sentence string

	Position *Fix

	// TimeOfDay is "HH:MM:SS" UTC.
	TimeOfDay string

	Quality    FixQuality
	HasQuality bool

	Heading     *float64
	HeadingText string

	At time.Time
}

// decodeRecord decodes one record body (the text after '$').
func decodeRecord(body string, now time.Time) (Update, error) {
	// The inbound side ignores checksums; just cut them off.
	if star := strings.IndexByte(body, '*'); star != -1 {
		body = body[:star]
	}
	fields := strings.Split(body, ",")
	id := strings.TrimSpace(fields[0])
	if len(id) != 5 || !knownTalkers[strings.ToUpper(id[:2])] {
		return Update{}, fmt.Errorf("%w: %q", ErrUnsupportedSentence, id)
	}

	switch strings.ToUpper(id[2:]) {
	case "GGA":
		return decodeGGA(fields, now)
	case "VTG":
		return decodeVTG(fields, now)
	default:
		return Update{}, fmt.Errorf("%w: %q", ErrUnsupportedSentence, id)
	}
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time (hhmmss.ss)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality (0=invalid, 1=GPS, 2=DGPS, 4=RTK fixed, 5=RTK float)
func decodeGGA(f []string, now time.Time) (Update, error) {
	if len(f) < 2 {
		return Update{}, fmt.Errorf("%w: GGA has %d fields", ErrMalformed, len(f))
	}
	u := Update{Sentence: "GGA", At: now}

	if len(f) > 5 {
		latRaw, lonRaw := strings.TrimSpace(f[2]), strings.TrimSpace(f[4])
		// Empty lat/lon is a receiver without a fix yet, not an error.
		if latRaw != "" || lonRaw != "" {
			lat, latOK := parseNMEALatLon(latRaw, f[3], 'N', 'S')
			lon, lonOK := parseNMEALatLon(lonRaw, f[5], 'E', 'W')
			if !latOK || !lonOK {
				return Update{}, fmt.Errorf("%w: GGA position %q,%q %q,%q", ErrMalformed, f[2], f[3], f[4], f[5])
			}
			if !geo.ValidLatLon(lat, lon) {
				return Update{}, fmt.Errorf("%w: lat=%f lon=%f", ErrOutOfRange, lat, lon)
			}
			u.Position = &Fix{Lat: lat, Lon: lon, Time: now}
		}
	}

	if tod, ok := parseTimeOfDay(f[1]); ok {
		u.TimeOfDay = tod
	}

	if len(f) > 6 {
		if q := strings.TrimSpace(f[6]); q != "" {
			if v, err := strconv.Atoi(q); err == nil {
				u.Quality = FixQuality(v)
				u.HasQuality = true
			}
		}
	}

	if u.Position == nil && u.TimeOfDay == "" && !u.HasQuality {
		return Update{}, fmt.Errorf("%w: GGA carries no usable field", ErrMalformed)
	}
	return u, nil
}

// VTG: Course Over Ground and Ground Speed
// Fields:
//
//	0: talker+type
//	1: course over ground, degrees true
//	2: T
func decodeVTG(f []string, now time.Time) (Update, error) {
	if len(f) < 2 {
		return Update{}, fmt.Errorf("%w: VTG has %d fields", ErrMalformed, len(f))
	}
	course, ok := parseFloat(f[1])
	if !ok {
		return Update{}, fmt.Errorf("%w: VTG course %q", ErrMalformed, f[1])
	}
	h := math.Round(course*100) / 100
	return Update{
		Sentence:    "VTG",
		Heading:     &h,
		HeadingText: strconv.FormatFloat(course, 'f', 2, 64),
		At:          now,
	}, nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseTimeOfDay slices hhmmss[.ss] into "HH:MM:SS".
func parseTimeOfDay(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 6 {
		return "", false
	}
	for i := 0; i < 6; i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", false
		}
	}
	return raw[0:2] + ":" + raw[2:4] + ":" + raw[4:6], true
}

// parseNMEALatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude)
// plus a hemisphere letter. pos and neg are the accepted letters for the axis.
func parseNMEALatLon(v string, hemi string, pos, neg byte) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || len(hemi) != 1 || (hemi[0] != pos && hemi[0] != neg) {
		return 0, false
	}

	// Minutes are the last two digits of the integer part plus any fraction.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degPart := intPart[:len(intPart)-2]
	minPart := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degPart)
	if err != nil || deg < 0 {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil || mins < 0 || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi[0] == neg {
		dec = -dec
	}
	return dec, true
}
