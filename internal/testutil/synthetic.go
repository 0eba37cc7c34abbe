package testutil

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/crashrisk/internal/fars"
)

// Synthetic describes a crash population drawn from the relative-risk
// model: two-driver crashes pair drivers with additive hazards, one-driver
// crashes carry relative risk Theta^Lambda.
type Synthetic struct {
	StartYear      int
	Years          int
	CrashesPerYear int
	Theta          float64
	Lambda         float64
	Prevalence     float64 // weekday share of drinking drivers on the road
	WeekendEffect  float64 // log-odds shift of prevalence on weekends
	OneDriverShare float64
	MissingShare   float64 // drivers whose BAC is not recorded
	ExcludedShare  float64 // crashes that never enter a model sample
	States         int
	Seed           uint64
}

// DefaultSynthetic is the population used by the recovery tests.
func DefaultSynthetic() Synthetic {
	return Synthetic{
		StartYear:      2013,
		Years:          2,
		CrashesPerYear: 1000,
		Theta:          2.0,
		Lambda:         0.5,
		Prevalence:     0.4,
		WeekendEffect:  0.5,
		OneDriverShare: 0.3,
		MissingShare:   0.05,
		ExcludedShare:  0.05,
		States:         4,
		Seed:           1,
	}
}

// Tables draws the population. The same Synthetic always yields the same
// tables.
func (g Synthetic) Tables() *fars.Tables {
	rng := rand.New(rand.NewPCG(g.Seed, 0x5eed))
	t := &fars.Tables{}
	base := math.Log(g.Prevalence / (1 - g.Prevalence))
	states := g.States
	if states < 1 {
		states = 1
	}

	for i := 0; i < g.Years*g.CrashesPerYear; i++ {
		c := fars.Crash{
			Year:      g.StartYear + i/g.CrashesPerYear,
			Case:      i + 1,
			State:     1 + rng.IntN(states),
			Hour:      rng.IntN(24),
			DayOfWeek: 1 + rng.IntN(7),
		}
		t.Crashes = append(t.Crashes, c)

		if rng.Float64() < g.ExcludedShare {
			g.addExcluded(rng, t, c)
			continue
		}

		eta := base
		if c.Weekend() {
			eta += g.WeekendEffect
		}
		r := math.Exp(eta)

		var drinking []bool
		if rng.Float64() < g.OneDriverShare {
			odds := r * math.Pow(g.Theta, g.Lambda)
			drinking = []bool{rng.Float64() < odds/(1+odds)}
		} else {
			w1 := r * (1 + g.Theta)
			w2 := r * r * g.Theta
			u := rng.Float64() * (1 + w1 + w2)
			switch {
			case u < 1:
				drinking = []bool{false, false}
			case u < 1+w1:
				first := rng.IntN(2) == 0
				drinking = []bool{first, !first}
			default:
				drinking = []bool{true, true}
			}
		}

		for n, d := range drinking {
			v := fars.Vehicle{
				Year:          c.Year,
				Case:          c.Case,
				VehicleNo:     n + 1,
				DriverPresent: true,
				BACKnown:      true,
			}
			if d {
				v.BAC = 0.10 + 0.01*float64(rng.IntN(16))
			}
			if rng.Float64() < g.MissingShare {
				v.BAC, v.BACKnown = 0, false
			}
			t.Vehicles = append(t.Vehicles, v)
			t.Persons = append(t.Persons, driver(c, n+1, n == 0 || rng.Float64() < 0.3))
		}
	}
	return t
}

// addExcluded adds either a three-vehicle crash or a hit-and-run crash.
func (g Synthetic) addExcluded(rng *rand.Rand, t *fars.Tables, c fars.Crash) {
	if rng.IntN(2) == 0 {
		for n := 1; n <= 3; n++ {
			t.Vehicles = append(t.Vehicles, fars.Vehicle{Year: c.Year, Case: c.Case, VehicleNo: n, DriverPresent: true, BACKnown: true})
			t.Persons = append(t.Persons, driver(c, n, n == 1))
		}
		return
	}
	t.Vehicles = append(t.Vehicles, fars.Vehicle{Year: c.Year, Case: c.Case, VehicleNo: 1, DriverPresent: true, HitAndRun: true})
	t.Persons = append(t.Persons, fars.Person{Year: c.Year, Case: c.Case, VehicleNo: 0, PersonNo: 1, PersonType: 5, InjurySeverity: fars.InjuryFatal, Age: 30})
}

func driver(c fars.Crash, vehicle int, fatal bool) fars.Person {
	p := fars.Person{Year: c.Year, Case: c.Case, VehicleNo: vehicle, PersonNo: 1, PersonType: fars.PersonDriver, Age: 40}
	if fatal {
		p.InjurySeverity = fars.InjuryFatal
	}
	return p
}
