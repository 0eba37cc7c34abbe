// Package trends runs the estimation pipeline for rolling year windows:
// sample selection, imputation, model fits within a crash bootstrap, and
// pooling across imputations.
package trends

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/impute"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/resample"
	"github.com/banshee-data/crashrisk/internal/riskmodel"
	"github.com/banshee-data/crashrisk/internal/sample"
)

// Estimate is a point estimate with its standard error.
type Estimate struct {
	Value  float64
	StdErr float64
}

// RiskResult is the pooled model estimate for one window.
type RiskResult struct {
	Window        sample.Window
	Theta         Estimate
	Lambda        Estimate
	Proportions   []Estimate // partition order
	Groups        []string
	LogLikelihood float64
	ResidualDF    int
	Imputations   int
	Replicates    int
}

// ProportionDrinking is the estimated share of the exposed group.
func (r RiskResult) ProportionDrinking() Estimate {
	return r.Proportions[len(r.Proportions)-1]
}

// Options configure the pipeline for every window.
type Options struct {
	Partition   riskmodel.Partition
	Model       riskmodel.Options
	Imputer     impute.Engine
	Imputations int
	Bootstrap   resample.Bootstrap
}

// FitStatistic adapts a model fit to the resampling interface. Values are
// Result.Vector().
func FitStatistic(part riskmodel.Partition, opts riskmodel.Options) resample.Statistic {
	return func(s *sample.Sample) (resample.Point, error) {
		res, err := riskmodel.Fit(s, part, opts)
		if err != nil {
			return resample.Point{}, err
		}
		return resample.Point{Values: res.Vector(), LogLikelihood: res.LogLikelihood, ResidualDF: res.ResidualDF}, nil
	}
}

// EstimateWindow selects the sample for w and estimates the model on it.
func EstimateWindow(ctx context.Context, t *fars.Tables, w sample.Window, opts Options) (RiskResult, error) {
	clock := monitoring.Clock
	start := clock.Now()
	monitoring.Logf("estimating window %s", w)
	s, err := sample.Select(t, w)
	if err != nil {
		return RiskResult{}, err
	}
	c, err := resample.Run(ctx, s, opts.Imputer, opts.Imputations, opts.Bootstrap, FitStatistic(opts.Partition, opts.Model))
	if err != nil {
		return RiskResult{}, err
	}

	res := RiskResult{
		Window:        w,
		Theta:         Estimate{c.Values[0], c.StdErr[0]},
		Lambda:        Estimate{c.Values[1], c.StdErr[1]},
		Groups:        opts.Partition.Names(),
		LogLikelihood: c.LogLikelihood,
		ResidualDF:    c.ResidualDF,
		Imputations:   c.Imputations,
		Replicates:    opts.Bootstrap.Replicates,
	}
	for i := 2; i < len(c.Values); i++ {
		res.Proportions = append(res.Proportions, Estimate{c.Values[i], c.StdErr[i]})
	}
	monitoring.Logf("window %s: theta %.2f (%.2f), lambda %.2f (%.2f) in %s",
		w, res.Theta.Value, res.Theta.StdErr, res.Lambda.Value, res.Lambda.StdErr, clock.Since(start).Round(time.Millisecond))
	return res, nil
}

// EstimateThreshold estimates theta and lambda on w and, when w drops
// drivers below a positive threshold, takes the group proportions from the
// same window with those drivers kept so prevalence is not biased down.
func EstimateThreshold(ctx context.Context, t *fars.Tables, w sample.Window, opts Options) (RiskResult, error) {
	res, err := EstimateWindow(ctx, t, w, opts)
	if err != nil || !w.DropBelowThreshold || w.Threshold == 0 {
		return res, err
	}
	kept := w
	kept.DropBelowThreshold = false
	prop, err := EstimateWindow(ctx, t, kept, opts)
	if err != nil {
		return RiskResult{}, fmt.Errorf("proportions: %w", err)
	}
	res.Proportions = prop.Proportions
	return res, nil
}

// Windows returns windows of length years ending in each of ends.
func Windows(ends []int, length int, threshold float64) []sample.Window {
	out := make([]sample.Window, len(ends))
	for i, end := range ends {
		out[i] = sample.NewWindow(end, length, threshold)
	}
	return out
}

// Summaries returns the descriptive statistics of each window.
func Summaries(t *fars.Tables, windows []sample.Window) ([]sample.Summary, error) {
	out := make([]sample.Summary, len(windows))
	for i, w := range windows {
		sum, err := sample.Summarize(t, w)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w, err)
		}
		out[i] = sum
	}
	return out, nil
}

// RunWindows calls fn for every window on at most workers goroutines and
// returns the results in window order. The first error cancels the
// remaining windows.
func RunWindows[T any](ctx context.Context, windows []sample.Window, workers int, fn func(context.Context, sample.Window) (T, error)) ([]T, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]T, len(windows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, w := range windows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, w)
			if err != nil {
				return fmt.Errorf("window %s: %w", w, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
