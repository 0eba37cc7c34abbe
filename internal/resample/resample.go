// Package resample estimates sampling uncertainty for a statistic of an
// analytic sample: a crash-cluster bootstrap within each imputed replicate,
// pooled across replicates by Rubin's rules.
package resample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/crashrisk/internal/impute"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/sample"
)

// Point is the value of a statistic on one sample.
type Point struct {
	Values        []float64
	LogLikelihood float64
	ResidualDF    int
}

// Statistic maps a completed sample to a point estimate.
type Statistic func(*sample.Sample) (Point, error)

// Estimate is a point estimate with its sampling variance.
type Estimate struct {
	Point
	Variance []float64
}

// Combined is an estimate pooled over imputations.
type Combined struct {
	Values        []float64
	StdErr        []float64
	Within        []float64
	Between       []float64
	LogLikelihood float64
	ResidualDF    int
	Imputations   int
}

// Bootstrap resamples crashes with replacement.
type Bootstrap struct {
	Replicates int
	Seed       uint64
	Workers    int // 0 means GOMAXPROCS
}

// Run evaluates stat on s and on Replicates cluster resamples of s, and
// returns the full-sample point with the variance of the resampled values.
// The result does not depend on Workers.
func (b Bootstrap) Run(ctx context.Context, s *sample.Sample, stat Statistic) (Estimate, error) {
	if b.Replicates < 2 {
		return Estimate{}, fmt.Errorf("bootstrap needs at least 2 replicates, got %d", b.Replicates)
	}
	full, err := stat(s)
	if err != nil {
		return Estimate{}, err
	}

	draws := make([][]float64, b.Replicates)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(b.Workers))
	for i := range draws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := b.replicateRand(i)
			p, err := stat(Resample(s, rng))
			if err != nil {
				return fmt.Errorf("bootstrap replicate %d: %w", i, err)
			}
			if len(p.Values) != len(full.Values) {
				return fmt.Errorf("bootstrap replicate %d: statistic returned %d values, want %d", i, len(p.Values), len(full.Values))
			}
			draws[i] = p.Values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Estimate{}, err
	}

	return Estimate{Point: full, Variance: columnVariance(draws, len(full.Values))}, nil
}

// bootstrapStream keys bootstrap draws apart from imputation draws, which
// use PCG(seed, replicate) with the same configured seed.
const bootstrapStream = 0x6a09e667f3bcc909

// replicateRand is the random stream of bootstrap replicate i.
func (b Bootstrap) replicateRand(i int) *rand.Rand {
	return rand.New(rand.NewPCG(b.Seed^bootstrapStream, uint64(i)))
}

// Resample draws len(spans) crashes of s with replacement. Repeated crashes
// become distinct clusters.
func Resample(s *sample.Sample, rng *rand.Rand) *sample.Sample {
	spans := s.Spans()
	out := &sample.Sample{
		Window:  s.Window,
		Rows:    make([]sample.Row, 0, len(s.Rows)),
		Crashes: len(spans),
	}
	for k := range spans {
		sp := spans[rng.IntN(len(spans))]
		for _, r := range s.Rows[sp.Lo:sp.Hi] {
			r.Crash = k
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Combine pools per-imputation estimates with Rubin's rules: the total
// variance is W + (1 + 1/M)B where W is the mean within-imputation variance
// and B the between-imputation variance of the points (zero when M = 1).
// The log-likelihood and residual degrees of freedom are the first
// imputation's.
func Combine(ests []Estimate) (Combined, error) {
	m := len(ests)
	if m == 0 {
		return Combined{}, errors.New("no estimates to combine")
	}
	k := len(ests[0].Values)
	points := make([][]float64, m)
	variances := make([][]float64, m)
	for j, e := range ests {
		if len(e.Values) != k || len(e.Variance) != k {
			return Combined{}, fmt.Errorf("estimate %d has %d values and %d variances, want %d", j, len(e.Values), len(e.Variance), k)
		}
		points[j] = e.Values
		variances[j] = e.Variance
	}

	c := Combined{
		Values:        columnMean(points, k),
		Within:        columnMean(variances, k),
		Between:       make([]float64, k),
		StdErr:        make([]float64, k),
		LogLikelihood: ests[0].LogLikelihood,
		ResidualDF:    ests[0].ResidualDF,
		Imputations:   m,
	}
	if m > 1 {
		c.Between = columnVariance(points, k)
	}
	for i := range c.StdErr {
		c.StdErr[i] = math.Sqrt(c.Within[i] + (1+1/float64(m))*c.Between[i])
	}
	return c, nil
}

// Run imputes m replicates of s, bootstraps stat within each, and pools the
// results.
func Run(ctx context.Context, s *sample.Sample, imp impute.Imputer, m int, boot Bootstrap, stat Statistic) (Combined, error) {
	reps, err := imp.Impute(s, m)
	if err != nil {
		return Combined{}, err
	}
	ests := make([]Estimate, len(reps))
	for j, rep := range reps {
		b := boot
		b.Seed = boot.Seed + uint64(j)*0x9e3779b97f4a7c15
		ests[j], err = b.Run(ctx, rep, stat)
		if err != nil {
			return Combined{}, fmt.Errorf("imputation %d: %w", j, err)
		}
		monitoring.Logf("%s: imputation %d/%d done (%d bootstrap replicates)", s.Window, j+1, len(reps), boot.Replicates)
	}
	return Combine(ests)
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func column(rows [][]float64, i int) []float64 {
	col := make([]float64, len(rows))
	for j, r := range rows {
		col[j] = r[i]
	}
	return col
}

func columnMean(rows [][]float64, k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = stat.Mean(column(rows, i), nil)
	}
	return out
}

func columnVariance(rows [][]float64, k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = stat.Variance(column(rows, i), nil)
	}
	return out
}
