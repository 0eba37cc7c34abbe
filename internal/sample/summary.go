package sample

import (
	"github.com/banshee-data/crashrisk/internal/fars"
)

// Summary holds the descriptive statistics of one window.
type Summary struct {
	Start          int
	End            int
	Crashes        int
	Vehicles       int
	Drivers        int // qualifying drivers
	Fatalities     int
	OneVehicle     int // one-vehicle crashes entering the model sample
	TwoVehicle     int // two-vehicle crashes entering the model sample
	KnownBAC       int
	DrinkingKnown  int
	AlcoholCrashes int // crashes with at least one known drinking driver
	KnownShare     float64
	DrinkingShare  float64
}

var summaryLabels = []string{
	"Window start year",
	"Window end year",
	"Fatal crashes",
	"Vehicles",
	"Drivers",
	"Fatalities",
	"One-vehicle crashes in model sample",
	"Two-vehicle crashes in model sample",
	"Drivers with known BAC",
	"Drinking drivers (known BAC)",
	"Alcohol-involved crashes",
	"Share of drivers with known BAC",
	"Share drinking among known BAC",
}

// Labels returns the human-readable name of each value in Values order.
func (s Summary) Labels() []string {
	return append([]string(nil), summaryLabels...)
}

// Values returns the statistics in Labels order.
func (s Summary) Values() []float64 {
	return []float64{
		float64(s.Start),
		float64(s.End),
		float64(s.Crashes),
		float64(s.Vehicles),
		float64(s.Drivers),
		float64(s.Fatalities),
		float64(s.OneVehicle),
		float64(s.TwoVehicle),
		float64(s.KnownBAC),
		float64(s.DrinkingKnown),
		float64(s.AlcoholCrashes),
		s.KnownShare,
		s.DrinkingShare,
	}
}

// Summarize computes the descriptive statistics of w over all crashes in
// the window, not only those entering the model sample.
func Summarize(t *fars.Tables, w Window) (Summary, error) {
	if err := w.Validate(); err != nil {
		return Summary{}, err
	}
	crashes := inWindow(t, w)
	if len(crashes) == 0 {
		return Summary{}, fars.Dataf("no crashes in window %d-%d", w.Start, w.End)
	}
	idx := fars.NewIndex(t)

	sum := Summary{Start: w.Start, End: w.End, Crashes: len(crashes)}
	for _, c := range crashes {
		vs := idx.VehiclesByCrash[c.Key()]
		sum.Vehicles += len(vs)
		sum.Fatalities += idx.FatalitiesByCrash[c.Key()]

		alcohol := false
		for _, v := range vs {
			if !v.QualifyingDriver() {
				continue
			}
			sum.Drivers++
			if !v.BACKnown {
				continue
			}
			sum.KnownBAC++
			if w.Classify(v.BAC, true) == Drinking {
				sum.DrinkingKnown++
				alcohol = true
			}
		}
		if alcohol {
			sum.AlcoholCrashes++
		}

		if modelCrash(c, vs) && !(w.DropBelowThreshold && anyBelow(w, vs)) {
			if len(vs) == 1 {
				sum.OneVehicle++
			} else {
				sum.TwoVehicle++
			}
		}
	}
	if sum.Drivers > 0 {
		sum.KnownShare = float64(sum.KnownBAC) / float64(sum.Drivers)
	}
	if sum.KnownBAC > 0 {
		sum.DrinkingShare = float64(sum.DrinkingKnown) / float64(sum.KnownBAC)
	}
	return sum, nil
}
