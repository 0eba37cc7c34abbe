package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/testutil"
)

// fixture builds a 2010-2012 table with one crash per selection rule.
//
//	case 1: one driver, sober, Saturday
//	case 2: two drivers, 0.12 and unknown BAC, two fatalities
//	case 3: two drivers, 0.05 and 0.00
//	case 4: three vehicles
//	case 5: hit-and-run
//	case 6: unknown hour
//	case 7: 2012, outside 2010-2011
//	case 8: one driver at exactly 0.08
func fixture() *fars.Tables {
	t := &fars.Tables{}
	crash := func(year, cs, hour, dow int, bacs ...float64) {
		t.Crashes = append(t.Crashes, fars.Crash{Year: year, Case: cs, State: 6, Hour: hour, DayOfWeek: dow})
		for i, b := range bacs {
			v := fars.Vehicle{Year: year, Case: cs, VehicleNo: i + 1, DriverPresent: true, BAC: b, BACKnown: b >= 0}
			if b < 0 {
				v.BAC = 0
			}
			t.Vehicles = append(t.Vehicles, v)
		}
	}
	crash(2010, 1, 1, 7, 0)
	crash(2010, 2, 22, 3, 0.12, -1)
	crash(2011, 3, 14, 4, 0.05, 0)
	crash(2011, 4, 9, 2, -1, -1, -1)
	crash(2011, 5, 3, 1, 0.20)
	t.Vehicles[len(t.Vehicles)-1].HitAndRun = true
	crash(2011, 6, fars.UnknownHour, 5, 0)
	crash(2012, 7, 2, 6, 0.15)
	crash(2011, 8, 23, 6, 0.08)

	t.Persons = []fars.Person{
		{Year: 2010, Case: 1, VehicleNo: 1, PersonNo: 1, PersonType: fars.PersonDriver, InjurySeverity: fars.InjuryFatal},
		{Year: 2010, Case: 2, VehicleNo: 1, PersonNo: 1, PersonType: fars.PersonDriver, InjurySeverity: fars.InjuryFatal},
		{Year: 2010, Case: 2, VehicleNo: 2, PersonNo: 2, PersonType: fars.PersonPassenger, InjurySeverity: fars.InjuryFatal},
		{Year: 2010, Case: 2, VehicleNo: 2, PersonNo: 1, PersonType: fars.PersonDriver, InjurySeverity: 2},
	}
	return t
}

func cases(s *Sample) []int {
	var out []int
	for _, r := range s.Rows {
		out = append(out, r.Case)
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		window   Window
		bac      float64
		known    bool
		expected DriverType
	}{
		{"unknown", Window{Threshold: 0.08}, 0.2, false, Unknown},
		{"zero at any alcohol", Window{}, 0, true, Sober},
		{"positive at any alcohol", Window{}, 0.01, true, Drinking},
		{"exclusive zero", Window{Boundary: BoundaryExclusive}, 0, true, Sober},
		{"below limit", Window{Threshold: 0.08}, 0.07, true, Sober},
		{"at limit inclusive", Window{Threshold: 0.08}, 0.08, true, Drinking},
		{"at limit exclusive", Window{Threshold: 0.08, Boundary: BoundaryExclusive}, 0.08, true, Sober},
		{"above limit exclusive", Window{Threshold: 0.08, Boundary: BoundaryExclusive}, 0.09, true, Drinking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.window.Classify(tt.bac, tt.known))
		})
	}
}

func TestSelectAnyAlcohol(t *testing.T) {
	s, err := Select(fixture(), NewWindow(2011, 2, 0))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 2, 3, 3, 8}, cases(s))
	assert.Equal(t, 4, s.Crashes)
	assert.Equal(t, []Span{{0, 1}, {1, 3}, {3, 5}, {5, 6}}, s.Spans())

	types := []DriverType{Sober, Drinking, Unknown, Drinking, Sober, Drinking}
	for i, r := range s.Rows {
		assert.Equal(t, types[i], r.Type, "row %d", i)
	}
	assert.Equal(t, 1, s.Missing())

	assert.True(t, s.Rows[0].Weekend)
	assert.Equal(t, 2, s.Rows[1].Drivers)
	assert.Equal(t, 2, s.Rows[1].Fatalities)
	assert.Equal(t, 2, s.Rows[2].Fatalities)
	assert.Equal(t, 1, s.Rows[1].Crash)
	assert.Equal(t, 1, s.Rows[2].Crash)
}

func TestSelectDropBelowThreshold(t *testing.T) {
	w := NewWindow(2011, 2, 0.08)
	require.True(t, w.DropBelowThreshold)

	s, err := Select(fixture(), w)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 8}, cases(s))
	for _, r := range s.Rows {
		assert.False(t, r.BACKnown && r.BAC > 0 && r.BAC < 0.08, "row %+v below threshold", r)
	}

	w.DropBelowThreshold = false
	s, err = Select(fixture(), w)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 3, 3, 8}, cases(s))
	assert.Equal(t, Sober, s.Rows[3].Type, "0.05 is sober at 0.08")
	assert.Equal(t, Drinking, s.Rows[5].Type, "0.08 is drinking when inclusive")

	w.Boundary = BoundaryExclusive
	s, err = Select(fixture(), w)
	require.NoError(t, err)
	assert.Equal(t, Sober, s.Rows[5].Type, "0.08 is sober when exclusive")
}

func TestSelectErrors(t *testing.T) {
	_, err := Select(fixture(), NewWindow(1999, 5, 0))
	assert.ErrorIs(t, err, fars.ErrData)

	_, err = Select(fixture(), Window{Start: 2011, End: 2010})
	assert.ErrorIs(t, err, fars.ErrData)

	_, err = Select(fixture(), Window{Start: 2010, End: 2011, Threshold: -1})
	assert.ErrorIs(t, err, fars.ErrData)

	onlyExcluded := fixture()
	onlyExcluded.Crashes = onlyExcluded.Crashes[3:5]
	onlyExcluded.Vehicles = onlyExcluded.Vehicles[5:9]
	onlyExcluded.Persons = nil
	_, err = Select(onlyExcluded, NewWindow(2011, 1, 0))
	assert.ErrorIs(t, err, fars.ErrData)
}

func TestSelectRowCountMatchesRecount(t *testing.T) {
	g := testutil.DefaultSynthetic()
	g.CrashesPerYear = 400
	tables := g.Tables()

	for _, threshold := range []float64{0, 0.08} {
		w := NewWindow(2014, 2, threshold)
		s, err := Select(tables, w)
		require.NoError(t, err)

		idx := fars.NewIndex(tables)
		want := 0
		for _, c := range tables.Crashes {
			vs := idx.VehiclesByCrash[c.Key()]
			ok := len(vs) >= 1 && len(vs) <= 2 && c.HourKnown()
			for _, v := range vs {
				ok = ok && v.DriverPresent && !v.HitAndRun
				if w.DropBelowThreshold && v.BACKnown && v.BAC > 0 && v.BAC < threshold {
					ok = false
				}
			}
			if ok {
				want += len(vs)
			}
		}
		assert.Equal(t, want, len(s.Rows), "threshold %g", threshold)
		for _, r := range s.Rows {
			assert.Contains(t, []DriverType{Sober, Drinking, Unknown}, r.Type)
			assert.Equal(t, r.BACKnown, r.Type != Unknown)
		}
	}
}

func TestSummarize(t *testing.T) {
	sum, err := Summarize(fixture(), NewWindow(2011, 2, 0))
	require.NoError(t, err)

	want := Summary{
		Start:          2010,
		End:            2011,
		Crashes:        7,
		Vehicles:       11,
		Drivers:        10,
		Fatalities:     3,
		OneVehicle:     2,
		TwoVehicle:     2,
		KnownBAC:       6,
		DrinkingKnown:  3,
		AlcoholCrashes: 3,
		KnownShare:     0.6,
		DrinkingShare:  0.5,
	}
	assert.Equal(t, want, sum)
	assert.Len(t, sum.Values(), len(sum.Labels()))
	assert.Equal(t, 2010.0, sum.Values()[0])

	_, err = Summarize(fixture(), NewWindow(1990, 5, 0))
	assert.ErrorIs(t, err, fars.ErrData)
}

func TestRowAttribute(t *testing.T) {
	r := Row{Year: 2011, State: 6, Weekend: true, Hour: 23, Drivers: 2}
	for name, want := range map[string]int{"year": 2011, "state": 6, "weekend": 1, "hour": 23, "drivers": 2} {
		got, err := r.Attribute(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := r.Attribute("age")
	assert.ErrorIs(t, err, fars.ErrData)
}

func TestParse(t *testing.T) {
	d, err := ParseDriverType("drinking")
	require.NoError(t, err)
	assert.Equal(t, Drinking, d)
	_, err = ParseDriverType("tipsy")
	assert.Error(t, err)

	b, err := ParseBoundary("exclusive")
	require.NoError(t, err)
	assert.Equal(t, BoundaryExclusive, b)
	_, err = ParseBoundary("open")
	assert.Error(t, err)
}
