package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"rtkrover/internal/geo"
	"rtkrover/internal/gps"
)

type captureSummary struct {
	Records   uint64
	Decoded   uint64
	Rejected  uint64
	Resyncs   uint64
	Positions int
	Headings  int
	FirstTime string
	LastTime  string
	// PathM is the summed great-circle length between consecutive positions.
	PathM         float64
	SentenceCount map[string]int
	QualityCount  map[gps.FixQuality]int

	prev    gps.Fix
	hasPrev bool
}

func (s *captureSummary) add(u gps.Update) {
	s.SentenceCount[u.Sentence]++
	if u.HasQuality {
		s.QualityCount[u.Quality]++
	}
	if u.TimeOfDay != "" {
		if s.FirstTime == "" {
			s.FirstTime = u.TimeOfDay
		}
		s.LastTime = u.TimeOfDay
	}
	if u.Heading != nil {
		s.Headings++
	}
	if u.Position != nil {
		s.Positions++
		if s.hasPrev {
			s.PathM += geo.Haversine(s.prev.Lat, s.prev.Lon, u.Position.Lat, u.Position.Lon)
		}
		s.prev, s.hasPrev = *u.Position, true
	}
}

// summarizeCapture feeds a raw receiver capture through the parser in
// chunkBytes pieces, so it sees the same framing the live link produces.
func summarizeCapture(r io.Reader, chunkBytes int) (captureSummary, error) {
	s := captureSummary{
		SentenceCount: map[string]int{},
		QualityCount:  map[gps.FixQuality]int{},
	}
	if chunkBytes <= 0 {
		chunkBytes = 512
	}
	p := gps.NewParser(gps.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var ups []gps.Update
	buf := make([]byte, chunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ups = p.AppendFeed(ups[:0], buf[:n])
			for _, u := range ups {
				s.add(u)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return s, err
		}
	}
	// A capture cut without a final newline still counts its last line.
	if p.Buffered() > 0 {
		for _, u := range p.AppendFeed(ups[:0], []byte("\n")) {
			s.add(u)
		}
	}

	st := p.Stats()
	s.Records, s.Decoded, s.Rejected, s.Resyncs = st.Records, st.Decoded, st.Rejected, st.Resyncs
	return s, nil
}

func printCaptureSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := summarizeCapture(f, 512)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	fmt.Fprintf(w, "decoded: %d\n", s.Decoded)
	fmt.Fprintf(w, "rejected: %d\n", s.Rejected)
	fmt.Fprintf(w, "resyncs: %d\n", s.Resyncs)
	fmt.Fprintf(w, "positions: %d\n", s.Positions)
	fmt.Fprintf(w, "headings: %d\n", s.Headings)
	if s.FirstTime != "" {
		fmt.Fprintf(w, "time_span: %s - %s\n", s.FirstTime, s.LastTime)
	}
	fmt.Fprintf(w, "path_m: %.2f\n", s.PathM)

	names := make([]string, 0, len(s.SentenceCount))
	for k := range s.SentenceCount {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "sentences:\n")
	for _, k := range names {
		fmt.Fprintf(w, "  %s: %d\n", k, s.SentenceCount[k])
	}

	qs := make([]int, 0, len(s.QualityCount))
	for q := range s.QualityCount {
		qs = append(qs, int(q))
	}
	sort.Ints(qs)
	fmt.Fprintf(w, "fix_quality:\n")
	for _, q := range qs {
		fq := gps.FixQuality(q)
		fmt.Fprintf(w, "  %s: %d\n", fq, s.QualityCount[fq])
	}
	return nil
}
