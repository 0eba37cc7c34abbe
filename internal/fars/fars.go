// Package fars holds the crash, vehicle, and person records of the
// Fatality Analysis Reporting System that the analysis consumes.
//
// Records are keyed the way FARS keys them: crashes by (year, case),
// vehicles by (year, case, vehicle number), persons by (year, case,
// vehicle number, person number). Tables are loaded once and treated as
// immutable by every later stage.
package fars

import (
	"sort"
)

// UnknownHour is the FARS code for a crash with no recorded hour.
const UnknownHour = 99

// Person types and injury severities used by the analysis.
const (
	PersonDriver    = 1
	PersonPassenger = 2
	InjuryFatal     = 4
)

// CrashKey identifies a crash.
type CrashKey struct {
	Year int
	Case int
}

// VehicleKey identifies a vehicle within a crash.
type VehicleKey struct {
	Year      int
	Case      int
	VehicleNo int
}

// Crash is one fatal crash (FARS accident file).
type Crash struct {
	Year      int `json:"year"`
	Case      int `json:"st_case"`
	State     int `json:"state"`
	Hour      int `json:"hour"`
	DayOfWeek int `json:"day_week"` // 1 = Sunday ... 7 = Saturday
}

// Key returns the crash identifier.
func (c Crash) Key() CrashKey { return CrashKey{c.Year, c.Case} }

// Weekend reports whether the crash happened on a Saturday or Sunday.
func (c Crash) Weekend() bool { return c.DayOfWeek == 1 || c.DayOfWeek == 7 }

// HourKnown reports whether the crash hour is recorded.
func (c Crash) HourKnown() bool { return c.Hour >= 0 && c.Hour < 24 }

// Vehicle is one vehicle in a crash together with its driver's BAC.
type Vehicle struct {
	Year          int     `json:"year"`
	Case          int     `json:"st_case"`
	VehicleNo     int     `json:"veh_no"`
	DriverPresent bool    `json:"dr_pres"`
	HitAndRun     bool    `json:"hit_run"`
	BAC           float64 `json:"bac"` // g/dL, meaningful only when BACKnown
	BACKnown      bool    `json:"bac_known"`
}

// Key returns the vehicle identifier.
func (v Vehicle) Key() VehicleKey { return VehicleKey{v.Year, v.Case, v.VehicleNo} }

// CrashKey returns the identifier of the crash the vehicle belongs to.
func (v Vehicle) CrashKey() CrashKey { return CrashKey{v.Year, v.Case} }

// QualifyingDriver reports whether the vehicle had an identified driver.
// Vehicles without a driver or whose driver fled cannot be typed.
func (v Vehicle) QualifyingDriver() bool { return v.DriverPresent && !v.HitAndRun }

// Person is one person involved in a crash. Non-occupants carry vehicle
// number 0.
type Person struct {
	Year           int `json:"year"`
	Case           int `json:"st_case"`
	VehicleNo      int `json:"veh_no"`
	PersonNo       int `json:"per_no"`
	PersonType     int `json:"per_typ"`
	InjurySeverity int `json:"inj_sev"`
	Age            int `json:"age"`
}

// CrashKey returns the identifier of the crash the person was involved in.
func (p Person) CrashKey() CrashKey { return CrashKey{p.Year, p.Case} }

// Fatal reports whether the person died in the crash.
func (p Person) Fatal() bool { return p.InjurySeverity == InjuryFatal }

// Tables bundles the three record sets.
type Tables struct {
	Crashes  []Crash
	Vehicles []Vehicle
	Persons  []Person
}

// Validate checks key uniqueness and that every vehicle and person refers
// to a known crash.
func (t *Tables) Validate() error {
	crashes := make(map[CrashKey]struct{}, len(t.Crashes))
	for _, c := range t.Crashes {
		if _, dup := crashes[c.Key()]; dup {
			return Dataf("duplicate crash %d/%d", c.Year, c.Case)
		}
		crashes[c.Key()] = struct{}{}
	}
	vehicles := make(map[VehicleKey]struct{}, len(t.Vehicles))
	for _, v := range t.Vehicles {
		if _, ok := crashes[v.CrashKey()]; !ok {
			return Dataf("vehicle %d/%d/%d references unknown crash", v.Year, v.Case, v.VehicleNo)
		}
		if _, dup := vehicles[v.Key()]; dup {
			return Dataf("duplicate vehicle %d/%d/%d", v.Year, v.Case, v.VehicleNo)
		}
		vehicles[v.Key()] = struct{}{}
	}
	for _, p := range t.Persons {
		if _, ok := crashes[p.CrashKey()]; !ok {
			return Dataf("person %d/%d/%d/%d references unknown crash", p.Year, p.Case, p.VehicleNo, p.PersonNo)
		}
	}
	return nil
}

// Years returns the distinct crash years in ascending order.
func (t *Tables) Years() []int {
	seen := make(map[int]bool)
	var years []int
	for _, c := range t.Crashes {
		if !seen[c.Year] {
			seen[c.Year] = true
			years = append(years, c.Year)
		}
	}
	sort.Ints(years)
	return years
}

// Index is a lookup structure over Tables built once per selection.
type Index struct {
	VehiclesByCrash   map[CrashKey][]Vehicle
	FatalitiesByCrash map[CrashKey]int
}

// NewIndex groups vehicles (ordered by vehicle number) and fatality counts
// by crash.
func NewIndex(t *Tables) *Index {
	idx := &Index{
		VehiclesByCrash:   make(map[CrashKey][]Vehicle),
		FatalitiesByCrash: make(map[CrashKey]int),
	}
	for _, v := range t.Vehicles {
		k := v.CrashKey()
		idx.VehiclesByCrash[k] = append(idx.VehiclesByCrash[k], v)
	}
	for k, vs := range idx.VehiclesByCrash {
		sort.Slice(vs, func(i, j int) bool { return vs[i].VehicleNo < vs[j].VehicleNo })
		idx.VehiclesByCrash[k] = vs
	}
	for _, p := range t.Persons {
		if p.Fatal() {
			idx.FatalitiesByCrash[p.CrashKey()]++
		}
	}
	return idx
}
