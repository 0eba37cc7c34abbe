package externality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/impute"
	"github.com/banshee-data/crashrisk/internal/resample"
	"github.com/banshee-data/crashrisk/internal/riskmodel"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/testutil"
	"github.com/banshee-data/crashrisk/internal/trends"
)

func TestExternalCost(t *testing.T) {
	tests := []struct {
		name   string
		theta  float64
		p      float64
		excess float64
		cost   float64
	}{
		{"no excess risk", 1, 0.1, 0, 0},
		{"theta 3", 3, 0.1, 1000 * 0.11 / 1.2, 1000 * 0.11 / 1.2 * 1e7 / (0.1 * 1e12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ExternalCost(tt.theta, tt.p, 1000, Exogenous{AnnualVMT: 1e12, VSL: 1e7})
			assert.InDelta(t, tt.excess, c.ExcessDeaths, 1e-9)
			assert.InDelta(t, tt.cost, c.PerMile, 1e-12)
			assert.Equal(t, 1000.0, c.AnnualFatalities)
		})
	}

	low := ExternalCost(2, 0.1, 1000, Exogenous{AnnualVMT: 1e12, VSL: 1e7})
	high := ExternalCost(4, 0.1, 1000, Exogenous{AnnualVMT: 1e12, VSL: 1e7})
	assert.Greater(t, high.PerMile, low.PerMile)
}

func TestAnnualTwoDriverFatalities(t *testing.T) {
	s := &sample.Sample{
		Window: sample.Window{Start: 2010, End: 2011},
		Rows: []sample.Row{
			{Crash: 0, Drivers: 1, Fatalities: 5},
			{Crash: 1, Drivers: 2, Fatalities: 3},
			{Crash: 1, Drivers: 2, Fatalities: 3},
			{Crash: 2, Drivers: 2, Fatalities: 1},
			{Crash: 2, Drivers: 2, Fatalities: 1},
		},
		Crashes: 3,
	}
	assert.Equal(t, 2.0, AnnualTwoDriverFatalities(s))
}

func TestDefaultExogenousAndLookup(t *testing.T) {
	rows := DefaultExogenous()
	require.Len(t, rows, 7)
	assert.Equal(t, 1987, rows[0].Year)
	assert.Equal(t, 2017, rows[6].Year)
	assert.Equal(t, 3208500000000.0, rows[6].AnnualVMT)
	assert.Equal(t, 9600000.0, rows[6].VSL)

	got, err := Lookup(rows, []int{2017, 1992})
	require.NoError(t, err)
	assert.Equal(t, []int{2017, 1992}, []int{got[0].Year, got[1].Year})

	_, err = Lookup(rows, []int{2018})
	assert.ErrorIs(t, err, fars.ErrData)
}

func TestCalculate(t *testing.T) {
	testutil.Quiet(t)
	g := testutil.DefaultSynthetic()
	g.CrashesPerYear = 3000
	data := g.Tables()

	opts := trends.Options{
		Partition:   riskmodel.DefaultPartition(),
		Model:       riskmodel.Options{Covariates: []string{"weekend"}, Retry: true},
		Imputer:     impute.Engine{Seed: 4},
		Imputations: 2,
		Bootstrap:   resample.Bootstrap{Replicates: 2, Seed: 4},
	}
	exo := []Exogenous{{Year: 2014, AnnualVMT: 3e12, VSL: DOTValueOfStatisticalLife}}

	out, err := Calculate(context.Background(), data, exo, trends.Windows([]int{2014}, 2, 0), opts, 2)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2013, out[0].Window.Start)
	assert.Equal(t, exo[0], out[0].Exogenous)
	assert.Greater(t, out[0].Theta.Value, 1.0)
	assert.Greater(t, out[0].CostPerMile.Value, 0.0)
	assert.GreaterOrEqual(t, out[0].CostPerMile.StdErr, 0.0)

	_, err = Calculate(context.Background(), data, nil, trends.Windows([]int{2014}, 2, 0), opts, 1)
	assert.ErrorIs(t, err, fars.ErrData)

	_, err = Calculate(context.Background(), data, exo, trends.Windows([]int{1990}, 2, 0), opts, 1)
	assert.ErrorIs(t, err, fars.ErrData)
}
