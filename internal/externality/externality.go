// Package externality converts the fitted relative risk and prevalence of
// drinking drivers into the external cost per mile they impose on other
// road users in two-vehicle crashes.
package externality

import (
	"context"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/resample"
	"github.com/banshee-data/crashrisk/internal/riskmodel"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/trends"
)

// DOTValueOfStatisticalLife is the US DOT 2016 guidance in dollars.
const DOTValueOfStatisticalLife = 9600000

// Exogenous holds the inputs not estimated from FARS for the window ending
// in Year.
type Exogenous struct {
	Year      int
	AnnualVMT float64 // vehicle miles travelled
	VSL       float64 // value of a statistical life, dollars
}

// DefaultExogenous is NHTSA's annual VMT for the years 1987 to 2017 in
// steps of five, with the DOT VSL.
func DefaultExogenous() []Exogenous {
	vmt := []float64{1924330000000, 2247150000000, 2560370000000, 2829340000000, 3003200000000, 2938500000000, 3208500000000}
	out := make([]Exogenous, len(vmt))
	for i, v := range vmt {
		out[i] = Exogenous{Year: 1987 + 5*i, AnnualVMT: v, VSL: DOTValueOfStatisticalLife}
	}
	return out
}

// Lookup returns the rows for the given window end years in order.
func Lookup(rows []Exogenous, ends []int) ([]Exogenous, error) {
	byYear := make(map[int]Exogenous, len(rows))
	for _, r := range rows {
		byYear[r.Year] = r
	}
	out := make([]Exogenous, len(ends))
	for i, end := range ends {
		r, ok := byYear[end]
		if !ok {
			return nil, fars.Dataf("no exogenous inputs for window ending %d", end)
		}
		out[i] = r
	}
	return out, nil
}

// Window is the externality estimate for one window.
type Window struct {
	Window      sample.Window
	Exogenous   Exogenous
	Theta       trends.Estimate
	Lambda      trends.Estimate
	CostPerMile trends.Estimate
}

// Cost is the external cost implied by one set of parameters.
type Cost struct {
	AnnualFatalities float64 // in two-driver crashes
	ExcessDeaths     float64 // annual deaths attributable to drinking drivers
	PerMile          float64 // dollars per mile driven by a drinking driver
}

// ExternalCost applies the additive pairing hazards: with prevalence p and
// relative risk theta the two-driver crash rate relative to an all-sober
// road is W = (1-p)² + 2p(1-p)(1+theta)/2 + p²theta, and deaths beyond the
// all-sober rate are charged to the drinking drivers' miles p·VMT.
func ExternalCost(theta, p, annualFatalities float64, exo Exogenous) Cost {
	kSD := (1 + theta) / 2
	kDD := theta
	w := (1-p)*(1-p) + 2*p*(1-p)*kSD + p*p*kDD
	excess := annualFatalities * (p*(1-p)*(kSD-1) + p*p*(kDD-1)) / w
	return Cost{
		AnnualFatalities: annualFatalities,
		ExcessDeaths:     excess,
		PerMile:          excess * exo.VSL / (p * exo.AnnualVMT),
	}
}

// AnnualTwoDriverFatalities is the yearly average of deaths in the sample's
// two-driver crashes.
func AnnualTwoDriverFatalities(s *sample.Sample) float64 {
	total := 0
	for _, sp := range s.Spans() {
		r := s.Rows[sp.Lo]
		if r.Drivers == 2 {
			total += r.Fatalities
		}
	}
	return float64(total) / float64(s.Window.Years())
}

// Statistic fits the model and returns [theta, lambda, cost per mile].
func Statistic(part riskmodel.Partition, opts riskmodel.Options, exo Exogenous) resample.Statistic {
	return func(s *sample.Sample) (resample.Point, error) {
		res, err := riskmodel.Fit(s, part, opts)
		if err != nil {
			return resample.Point{}, err
		}
		p := res.Proportions[len(res.Proportions)-1]
		cost := ExternalCost(res.Theta, p, AnnualTwoDriverFatalities(s), exo)
		return resample.Point{
			Values:        []float64{res.Theta, res.Lambda, cost.PerMile},
			LogLikelihood: res.LogLikelihood,
			ResidualDF:    res.ResidualDF,
		}, nil
	}
}

// Calculate estimates the cost per mile for each window, taking the
// exogenous inputs of the row whose year is the window end.
func Calculate(ctx context.Context, t *fars.Tables, exo []Exogenous, windows []sample.Window, opts trends.Options, workers int) ([]Window, error) {
	if len(exo) == 0 {
		return nil, fars.Dataf("no exogenous inputs")
	}
	return trends.RunWindows(ctx, windows, workers, func(ctx context.Context, w sample.Window) (Window, error) {
		e, err := Lookup(exo, []int{w.End})
		if err != nil {
			return Window{}, err
		}
		monitoring.Logf("estimating externality %s", w)
		s, err := sample.Select(t, w)
		if err != nil {
			return Window{}, err
		}
		c, err := resample.Run(ctx, s, opts.Imputer, opts.Imputations, opts.Bootstrap, Statistic(opts.Partition, opts.Model, e[0]))
		if err != nil {
			return Window{}, err
		}
		return Window{
			Window:      w,
			Exogenous:   e[0],
			Theta:       trends.Estimate{Value: c.Values[0], StdErr: c.StdErr[0]},
			Lambda:      trends.Estimate{Value: c.Values[1], StdErr: c.StdErr[1]},
			CostPerMile: trends.Estimate{Value: c.Values[2], StdErr: c.StdErr[2]},
		}, nil
	})
}
