// Package sample builds the analytic sample for one estimation window: one
// row per driver in fatal one- and two-vehicle crashes, each labelled sober,
// drinking, or unknown by the window's BAC threshold.
package sample

import (
	"fmt"
	"sort"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/units"
)

// DriverType is the BAC classification of a driver.
type DriverType int

const (
	Unknown DriverType = iota
	Sober
	Drinking
)

func (d DriverType) String() string {
	switch d {
	case Sober:
		return "sober"
	case Drinking:
		return "drinking"
	default:
		return "unknown"
	}
}

// ParseDriverType maps a group name from configuration to a DriverType.
func ParseDriverType(name string) (DriverType, error) {
	switch name {
	case "sober":
		return Sober, nil
	case "drinking":
		return Drinking, nil
	}
	return Unknown, fars.Dataf("unknown driver type %q", name)
}

// Boundary selects how a BAC equal to the threshold is classified.
type Boundary int

const (
	// BoundaryInclusive treats BAC >= T as drinking. At T = 0 a zero BAC
	// is still sober.
	BoundaryInclusive Boundary = iota
	// BoundaryExclusive treats only BAC > T as drinking.
	BoundaryExclusive
)

func (b Boundary) String() string {
	if b == BoundaryExclusive {
		return "exclusive"
	}
	return "inclusive"
}

// ParseBoundary accepts "inclusive" or "exclusive".
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "", "inclusive":
		return BoundaryInclusive, nil
	case "exclusive":
		return BoundaryExclusive, nil
	}
	return BoundaryInclusive, fmt.Errorf("invalid boundary %q (want inclusive or exclusive)", s)
}

// Window defines which crashes enter a sample and how BAC is binarised.
type Window struct {
	Start              int
	End                int
	Threshold          float64
	DropBelowThreshold bool
	Boundary           Boundary
}

// NewWindow returns the window of length years ending in end, with the
// default drop policy for threshold.
func NewWindow(end, length int, threshold float64) Window {
	return Window{
		Start:              end - length + 1,
		End:                end,
		Threshold:          threshold,
		DropBelowThreshold: threshold > 0,
	}
}

// Years is the number of calendar years covered.
func (w Window) Years() int { return w.End - w.Start + 1 }

func (w Window) String() string {
	return fmt.Sprintf("%d-%d (threshold %g)", w.Start, w.End, w.Threshold)
}

// Validate checks the year range and threshold.
func (w Window) Validate() error {
	if w.End < w.Start {
		return fars.Dataf("window end %d before start %d", w.End, w.Start)
	}
	if !units.IsValidThreshold(w.Threshold) {
		return fars.Dataf("invalid BAC threshold %g", w.Threshold)
	}
	return nil
}

// Classify labels a driver's BAC.
func (w Window) Classify(bac float64, known bool) DriverType {
	if !known {
		return Unknown
	}
	if w.Boundary == BoundaryExclusive || w.Threshold == 0 {
		if bac > w.Threshold {
			return Drinking
		}
		return Sober
	}
	if bac >= w.Threshold {
		return Drinking
	}
	return Sober
}

// belowThreshold reports a positive BAC under the threshold.
func (w Window) belowThreshold(bac float64, known bool) bool {
	return known && w.Threshold > 0 && bac > 0 && bac < w.Threshold
}

// Row is one driver of a sample crash.
type Row struct {
	Year       int
	Case       int
	VehicleNo  int
	Crash      int // cluster index, contiguous within a sample
	State      int
	Hour       int
	Weekend    bool
	Drivers    int
	Fatalities int
	BAC        float64
	BACKnown   bool
	Type       DriverType
}

// Attributes are the row attributes usable as covariates or strata.
var Attributes = []string{"year", "state", "weekend", "hour", "drivers"}

// Attribute returns the integer value of a named attribute.
func (r Row) Attribute(name string) (int, error) {
	switch name {
	case "year":
		return r.Year, nil
	case "state":
		return r.State, nil
	case "weekend":
		if r.Weekend {
			return 1, nil
		}
		return 0, nil
	case "hour":
		return r.Hour, nil
	case "drivers":
		return r.Drivers, nil
	}
	return 0, fars.Dataf("unknown attribute %q", name)
}

// Sample is an analytic sample. Rows of one crash are adjacent and share
// the Crash index; indices run 0..Crashes-1.
type Sample struct {
	Window  Window
	Rows    []Row
	Crashes int
}

// Span is the half-open row range [Lo, Hi) of one crash.
type Span struct {
	Lo, Hi int
}

// Spans returns the row range of every crash in order.
func (s *Sample) Spans() []Span {
	spans := make([]Span, 0, s.Crashes)
	for lo := 0; lo < len(s.Rows); {
		hi := lo + 1
		for hi < len(s.Rows) && s.Rows[hi].Crash == s.Rows[lo].Crash {
			hi++
		}
		spans = append(spans, Span{lo, hi})
		lo = hi
	}
	return spans
}

// Clone returns a deep copy.
func (s *Sample) Clone() *Sample {
	c := *s
	c.Rows = append([]Row(nil), s.Rows...)
	return &c
}

// Missing counts rows whose type is still unknown.
func (s *Sample) Missing() int {
	n := 0
	for _, r := range s.Rows {
		if r.Type == Unknown {
			n++
		}
	}
	return n
}

// Select builds the analytic sample for w. Crashes are dropped whole when
// any vehicle lacks an identified driver, when they involve more than two
// vehicles, when their hour is unknown, or, with DropBelowThreshold, when
// any driver has 0 < BAC < Threshold.
func Select(t *fars.Tables, w Window) (*Sample, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	crashes := inWindow(t, w)
	if len(crashes) == 0 {
		return nil, fars.Dataf("no crashes in window %d-%d", w.Start, w.End)
	}
	idx := fars.NewIndex(t)

	s := &Sample{Window: w}
	for _, c := range crashes {
		vs := idx.VehiclesByCrash[c.Key()]
		if !modelCrash(c, vs) || (w.DropBelowThreshold && anyBelow(w, vs)) {
			continue
		}
		for _, v := range vs {
			s.Rows = append(s.Rows, Row{
				Year:       c.Year,
				Case:       c.Case,
				VehicleNo:  v.VehicleNo,
				Crash:      s.Crashes,
				State:      c.State,
				Hour:       c.Hour,
				Weekend:    c.Weekend(),
				Drivers:    len(vs),
				Fatalities: idx.FatalitiesByCrash[c.Key()],
				BAC:        v.BAC,
				BACKnown:   v.BACKnown,
				Type:       w.Classify(v.BAC, v.BACKnown),
			})
		}
		s.Crashes++
	}
	if len(s.Rows) == 0 {
		return nil, fars.Dataf("no qualifying crashes in window %d-%d", w.Start, w.End)
	}
	return s, nil
}

// inWindow returns the crashes of the window ordered by (year, case).
func inWindow(t *fars.Tables, w Window) []fars.Crash {
	var out []fars.Crash
	for _, c := range t.Crashes {
		if c.Year >= w.Start && c.Year <= w.End {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Case < out[j].Case
	})
	return out
}

func modelCrash(c fars.Crash, vs []fars.Vehicle) bool {
	if len(vs) < 1 || len(vs) > 2 || !c.HourKnown() {
		return false
	}
	for _, v := range vs {
		if !v.QualifyingDriver() {
			return false
		}
	}
	return true
}

func anyBelow(w Window, vs []fars.Vehicle) bool {
	for _, v := range vs {
		if w.belowThreshold(v.BAC, v.BACKnown) {
			return true
		}
	}
	return false
}
