// Package riskmodel fits the relative risk of crash involvement for
// drinking drivers together with their prevalence on the road.
//
// Two-driver crashes pair drivers with additive hazards (Levitt and Porter):
// given the prevalence odds r = p/(1-p) and relative risk theta, the number
// of drinking drivers k in {0, 1, 2} has weights {1, r(1+theta), r²theta}.
// One-driver crashes involve a drinking driver with odds r·theta^lambda, so
// lambda scales single-vehicle risk against two-vehicle risk. Prevalence
// follows a logistic regression on dummy-coded crash covariates.
package riskmodel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/sample"
)

// Covariates usable in the prevalence regression.
var Covariates = []string{"year", "state", "weekend", "hour"}

// DefaultMaxIterations bounds BFGS major iterations.
const DefaultMaxIterations = 200

// gradientThreshold is the infinity norm of the mean-likelihood gradient
// at which a fit is accepted.
const gradientThreshold = 1e-6

// Start is a starting point for the optimiser.
type Start struct {
	Theta  float64
	Lambda float64
}

// DefaultStart is the first starting point tried.
var DefaultStart = Start{Theta: 3, Lambda: 1}

// retryStarts are tried in order after DefaultStart fails to converge.
var retryStarts = []Start{
	{Theta: 1.5, Lambda: 0.5},
	{Theta: 6, Lambda: 1.5},
}

// Options control a fit.
type Options struct {
	Covariates    []string
	MaxIterations int
	Retry         bool
	Start         *Start
}

// Coefficient is one fitted regression coefficient on the log-odds scale.
type Coefficient struct {
	Name  string
	Value float64
}

// Cell is the predicted drinking share for one covariate pattern.
type Cell struct {
	Key     string
	Crashes int
	Share   float64
}

// Result is a fitted model.
type Result struct {
	Theta         float64
	Lambda        float64
	Proportions   []float64 // crash-averaged share of each group, partition order
	Groups        []string
	Cells         []Cell
	Coefficients  []Coefficient
	LogLikelihood float64
	ResidualDF    int
	Iterations    int
	Crashes       int
}

// Vector returns [theta, lambda, proportion reference, proportion exposed].
func (r *Result) Vector() []float64 {
	return append([]float64{r.Theta, r.Lambda}, r.Proportions...)
}

// Fit estimates the model on a completed sample.
func Fit(s *sample.Sample, part Partition, opts Options) (*Result, error) {
	if err := part.Validate(); err != nil {
		return nil, err
	}
	d, err := newDesign(s, part, opts.Covariates)
	if err != nil {
		return nil, err
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	starts := []Start{DefaultStart}
	if opts.Start != nil {
		starts[0] = *opts.Start
	}
	if opts.Retry {
		starts = append(starts, retryStarts...)
	}

	var lastErr error
	for _, st := range starts {
		res, err := d.minimize(st, maxIter)
		if err == nil {
			return d.result(res, part), nil
		}
		if !errors.Is(err, fars.ErrConvergence) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (d *design) minimize(st Start, maxIter int) (*optimize.Result, error) {
	if st.Theta <= 1 {
		return nil, fmt.Errorf("starting theta must exceed 1, got %g", st.Theta)
	}
	x0 := make([]float64, d.problem.dim)
	x0[paramPsi] = math.Log(st.Theta - 1)
	x0[paramLambda] = st.Lambda
	x0[paramIntercept] = d.startIntercept

	prob := optimize.Problem{
		Func: d.problem.objective,
		Grad: d.problem.gradient,
	}
	settings := &optimize.Settings{
		GradientThreshold: gradientThreshold,
		MajorIterations:   maxIter,
	}
	res, err := optimize.Minimize(prob, x0, settings, &optimize.BFGS{})
	if res == nil {
		return nil, &fars.ConvergenceError{Status: "Failure", Err: err}
	}
	if err != nil || res.Status.Early() || !finite(res.X) {
		// A line search that cannot improve at a stationary point is a
		// converged fit.
		if res.Status != optimize.IterationLimit && finite(res.X) && stationary(d.problem, res.X) {
			return res, nil
		}
		if err == nil {
			err = res.Status.Err()
		}
		return nil, &fars.ConvergenceError{Iterations: res.MajorIterations, Status: res.Status.String(), Err: err}
	}
	return res, nil
}

func stationary(p *problem, x []float64) bool {
	g := make([]float64, len(x))
	p.gradient(g, x)
	return floats.Norm(g, math.Inf(1)) < 100*gradientThreshold
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (d *design) result(res *optimize.Result, part Partition) *Result {
	x := res.X
	out := &Result{
		Theta:         theta(x),
		Lambda:        x[paramLambda],
		Groups:        part.Names(),
		LogLikelihood: d.problem.logLik(x, nil),
		ResidualDF:    len(d.problem.crashes) - d.problem.dim,
		Iterations:    res.MajorIterations,
		Crashes:       len(d.problem.crashes),
	}

	var exposed float64
	cellCount := make([]int, len(d.cells))
	for i := range d.problem.crashes {
		c := &d.problem.crashes[i]
		exposed += sigmoid(d.problem.eta(x, c))
		cellCount[c.cell]++
	}
	exposed /= float64(len(d.problem.crashes))
	out.Proportions = []float64{1 - exposed, exposed}

	for i, key := range d.cells {
		c := &d.problem.crashes[d.cellExample[i]]
		out.Cells = append(out.Cells, Cell{Key: key, Crashes: cellCount[i], Share: sigmoid(d.problem.eta(x, c))})
	}
	sort.Slice(out.Cells, func(i, j int) bool { return out.Cells[i].Key < out.Cells[j].Key })

	out.Coefficients = append(out.Coefficients, Coefficient{Name: "intercept", Value: x[paramIntercept]})
	for j, name := range d.columns {
		out.Coefficients = append(out.Coefficients, Coefficient{Name: name, Value: x[numFixed+j]})
	}
	return out
}

// design is the likelihood problem built from one sample.
type design struct {
	problem        *problem
	columns        []string // dummy column names
	cells          []string // covariate pattern keys
	cellExample    []int    // a crash index per cell
	startIntercept float64
}

func newDesign(s *sample.Sample, part Partition, covariates []string) (*design, error) {
	for _, name := range covariates {
		if !validCovariate(name) {
			return nil, fars.Dataf("unknown covariate %q", name)
		}
	}
	if s.Missing() > 0 {
		return nil, &fars.DegenerateSampleError{Reason: fmt.Sprintf("%d rows have unknown driver type", s.Missing())}
	}

	spans := s.Spans()
	crashes := make([]crash, len(spans))
	values := make([][]int, len(spans))
	var one, two, exposedRows, referenceRows int
	for i, sp := range spans {
		rows := s.Rows[sp.Lo:sp.Hi]
		c := crash{drivers: len(rows)}
		for _, r := range rows {
			if part.exposed(r.Type) {
				c.exposed++
				exposedRows++
			} else {
				referenceRows++
			}
		}
		switch c.drivers {
		case 1:
			one++
		case 2:
			two++
		default:
			return nil, &fars.DegenerateSampleError{Reason: fmt.Sprintf("crash %d/%d has %d drivers", rows[0].Year, rows[0].Case, c.drivers)}
		}
		values[i] = make([]int, len(covariates))
		for k, name := range covariates {
			values[i][k], _ = rows[0].Attribute(name)
		}
		crashes[i] = c
	}
	switch {
	case len(crashes) == 0:
		return nil, &fars.DegenerateSampleError{Reason: "sample has no crashes"}
	case exposedRows == 0:
		return nil, &fars.DegenerateSampleError{Reason: "no drivers in the exposed group"}
	case referenceRows == 0:
		return nil, &fars.DegenerateSampleError{Reason: "no drivers in the reference group"}
	case one == 0:
		return nil, &fars.DegenerateSampleError{Reason: "no one-driver crashes"}
	case two == 0:
		return nil, &fars.DegenerateSampleError{Reason: "no two-driver crashes"}
	}

	d := &design{}
	// Dummy coding: the smallest level of each covariate is the reference.
	offsets := make([]map[int]int, len(covariates))
	for k, name := range covariates {
		levels := distinct(values, k)
		offsets[k] = make(map[int]int, len(levels))
		for _, lv := range levels[1:] {
			offsets[k][lv] = len(d.columns)
			d.columns = append(d.columns, fmt.Sprintf("%s=%d", name, lv))
		}
	}

	cellIndex := make(map[string]int)
	for i := range crashes {
		var key strings.Builder
		for k, name := range covariates {
			if j, ok := offsets[k][values[i][k]]; ok {
				crashes[i].cols = append(crashes[i].cols, j)
			}
			if k > 0 {
				key.WriteByte(',')
			}
			fmt.Fprintf(&key, "%s=%d", name, values[i][k])
		}
		ci, ok := cellIndex[key.String()]
		if !ok {
			ci = len(d.cells)
			cellIndex[key.String()] = ci
			d.cells = append(d.cells, key.String())
			d.cellExample = append(d.cellExample, i)
		}
		crashes[i].cell = ci
	}

	d.problem = &problem{crashes: crashes, dim: numFixed + len(d.columns)}
	share := float64(exposedRows) / float64(exposedRows+referenceRows)
	d.startIntercept = math.Log(share / (1 - share))
	return d, nil
}

func distinct(values [][]int, k int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range values {
		if !seen[v[k]] {
			seen[v[k]] = true
			out = append(out, v[k])
		}
	}
	sort.Ints(out)
	return out
}

func validCovariate(name string) bool {
	for _, c := range Covariates {
		if c == name {
			return true
		}
	}
	return false
}
