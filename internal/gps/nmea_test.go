package gps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 35, 19, 0, time.UTC)

func TestDecodeRecord_GGA(t *testing.T) {
	u, err := decodeRecord("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47", testNow)
	require.NoError(t, err)
	require.Equal(t, "GGA", u.Sentence)
	require.NotNil(t, u.Position)
	require.InDelta(t, 48.1173, u.Position.Lat, 1e-4)
	require.InDelta(t, 11.5167, u.Position.Lon, 1e-4)
	require.Equal(t, testNow, u.Position.Time)
	require.Equal(t, "12:35:19", u.TimeOfDay)
	require.True(t, u.HasQuality)
	require.Equal(t, FixGPS, u.Quality)
}

func TestDecodeRecord_GGASouthWestIsNegative(t *testing.T) {
	u, err := decodeRecord("GPGGA,000001,3351.000,S,15112.000,W,4,12,0.5,10.0,M,0,M,,", testNow)
	require.NoError(t, err)
	require.InDelta(t, -33.85, u.Position.Lat, 1e-9)
	require.InDelta(t, -151.2, u.Position.Lon, 1e-9)
	require.Equal(t, FixRTKFixed, u.Quality)
}

func TestDecodeRecord_GGANoFixYetKeepsTimeAndQuality(t *testing.T) {
	u, err := decodeRecord("GNGGA,235959.00,,,,,0,00,99.99,,,,,,", testNow)
	require.NoError(t, err)
	require.Nil(t, u.Position)
	require.Equal(t, "23:59:59", u.TimeOfDay)
	require.True(t, u.HasQuality)
	require.Equal(t, FixNone, u.Quality)
}

func TestDecodeRecord_GGARejectsBadPosition(t *testing.T) {
	cases := []struct {
		name string
		rec  string
		want error
	}{
		{"NonNumericLat", "GNGGA,123519,48x7.038,N,01131.000,E,1,08", ErrMalformed},
		{"BadHemisphere", "GNGGA,123519,4807.038,E,01131.000,E,1,08", ErrMalformed},
		{"MinutesOverflow", "GNGGA,123519,4875.000,N,01131.000,E,1,08", ErrMalformed},
		{"LatOutOfRange", "GNGGA,123519,9130.000,N,01131.000,E,1,08", ErrOutOfRange},
		{"LonOutOfRange", "GNGGA,123519,4807.038,N,18130.000,E,1,08", ErrOutOfRange},
		{"OnlyID", "GNGGA", ErrMalformed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := decodeRecord(c.rec, testNow)
			require.Error(t, err)
			require.True(t, errors.Is(err, c.want), "err=%v", err)
		})
	}
}

func TestDecodeRecord_VTGHeading(t *testing.T) {
	u, err := decodeRecord("GNVTG,54.7,T,34.4,M,005.5,N,010.2,K*48", testNow)
	require.NoError(t, err)
	require.Equal(t, "VTG", u.Sentence)
	require.NotNil(t, u.Heading)
	require.InDelta(t, 54.7, *u.Heading, 1e-9)
	require.Equal(t, "54.70", u.HeadingText)
	require.Nil(t, u.Position)
}

func TestDecodeRecord_VTGEmptyCourseIsMalformed(t *testing.T) {
	_, err := decodeRecord("GNVTG,,T,,M,0.0,N,0.0,K,N*32", testNow)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRecord_Unsupported(t *testing.T) {
	for _, rec := range []string{"GNRMC,123519,A", "PAIR001,752,0", "XXGGA,1", "GSV"} {
		_, err := decodeRecord(rec, testNow)
		require.ErrorIs(t, err, ErrUnsupportedSentence, rec)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, ok := parseTimeOfDay("081500.00")
	require.True(t, ok)
	require.Equal(t, "08:15:00", tod)

	_, ok = parseTimeOfDay("0815")
	require.False(t, ok)
	_, ok = parseTimeOfDay("08a500")
	require.False(t, ok)
}

func TestFixQuality_String(t *testing.T) {
	require.Equal(t, "None", FixNone.String())
	require.Equal(t, "GPS", FixGPS.String())
	require.Equal(t, "DGPS", FixDGPS.String())
	require.Equal(t, "RTK Fixed", FixRTKFixed.String())
	require.Equal(t, "RTK Float", FixRTKFloat.String())
	require.Equal(t, "Unknown(6)", FixQuality(6).String())
}

func TestReceiverStatus_FieldsUpdateIndependently(t *testing.T) {
	var st ReceiverStatus
	gga, err := decodeRecord("GNGGA,123519,4807.038,N,01131.000,E,5,08,0.9,545.4,M,46.9,M,,", testNow)
	require.NoError(t, err)
	st.Apply(gga)
	require.True(t, st.HasPosition)
	require.Equal(t, "RTK Float", st.QualityText())
	require.False(t, st.HasHeading)

	later := testNow.Add(time.Second)
	vtg, err := decodeRecord("GNVTG,270.129,T,,M,0.1,N,0.2,K,D", later)
	require.NoError(t, err)
	st.Apply(vtg)
	require.True(t, st.HasHeading)
	require.Equal(t, "270.13", st.HeadingText)
	require.InDelta(t, 48.1173, st.Lat, 1e-4)
	require.Equal(t, "12:35:19", st.TimeOfDay)
	require.Equal(t, testNow, st.LastUpdate)
}
