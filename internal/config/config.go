// Package config loads the JSON run configuration of the estimation
// pipeline. Every field is optional; the Get* methods supply the defaults
// used for the published tables.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/impute"
	"github.com/banshee-data/crashrisk/internal/resample"
	"github.com/banshee-data/crashrisk/internal/riskmodel"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/trends"
)

// DefaultConfigPath is the checked-in configuration reproducing the
// published tables.
const DefaultConfigPath = "config/run.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// ExogenousRow is the JSON form of externality.Exogenous.
type ExogenousRow struct {
	Year      int     `json:"year"`
	AnnualVMT float64 `json:"annual_vmt"`
	VSL       float64 `json:"vsl"`
}

// RunConfig is the root run configuration.
type RunConfig struct {
	// Windows
	WindowEnds   *[]int     `json:"window_ends,omitempty"`
	WindowLength *int       `json:"window_length,omitempty"`
	Thresholds   *[]float64 `json:"thresholds,omitempty"`
	BACBoundary  *string    `json:"bac_boundary,omitempty"` // "inclusive" or "exclusive"

	// Model
	Covariates    *[]string   `json:"covariates,omitempty"`
	Groups        *[][]string `json:"groups,omitempty"`
	MaxIterations *int        `json:"max_iterations,omitempty"`
	Retry         *bool       `json:"retry,omitempty"`

	// Resampling
	Imputations         *int      `json:"imputations,omitempty"`
	BootstrapReplicates *int      `json:"bootstrap_replicates,omitempty"`
	ImputeStrata        *[]string `json:"impute_strata,omitempty"`
	Seed                *uint64   `json:"seed,omitempty"`
	Workers             *int      `json:"workers,omitempty"`

	// Externality
	Exogenous *[]ExogenousRow `json:"exogenous,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Load reads a RunConfig from a .json file of at most 1MB. Omitted fields
// keep their defaults.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a RunConfig. Unknown fields are rejected.
func Parse(data []byte) (*RunConfig, error) {
	cfg := &RunConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *RunConfig) Validate() error {
	if c.WindowLength != nil && *c.WindowLength < 1 {
		return fmt.Errorf("window_length must be at least 1, got %d", *c.WindowLength)
	}
	if c.WindowEnds != nil && len(*c.WindowEnds) == 0 {
		return fmt.Errorf("window_ends must not be empty")
	}
	if c.Thresholds != nil {
		if len(*c.Thresholds) == 0 {
			return fmt.Errorf("thresholds must not be empty")
		}
		for _, t := range *c.Thresholds {
			if t < 0 {
				return fmt.Errorf("thresholds must be non-negative, got %g", t)
			}
		}
	}
	if c.BACBoundary != nil {
		if _, err := sample.ParseBoundary(*c.BACBoundary); err != nil {
			return err
		}
	}
	if c.Covariates != nil {
		for _, name := range *c.Covariates {
			if !slices.Contains(riskmodel.Covariates, name) {
				return fmt.Errorf("unknown covariate %q (want one of %v)", name, riskmodel.Covariates)
			}
		}
	}
	if c.Groups != nil {
		if _, err := riskmodel.ParsePartition(*c.Groups); err != nil {
			return err
		}
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.Imputations != nil && *c.Imputations < 1 {
		return fmt.Errorf("imputations must be at least 1, got %d", *c.Imputations)
	}
	if c.BootstrapReplicates != nil && *c.BootstrapReplicates < 2 {
		return fmt.Errorf("bootstrap_replicates must be at least 2, got %d", *c.BootstrapReplicates)
	}
	if c.ImputeStrata != nil {
		for _, name := range *c.ImputeStrata {
			if !slices.Contains(sample.Attributes, name) {
				return fmt.Errorf("unknown impute stratum %q (want one of %v)", name, sample.Attributes)
			}
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Exogenous != nil {
		for _, e := range *c.Exogenous {
			if e.AnnualVMT <= 0 || e.VSL <= 0 {
				return fmt.Errorf("exogenous row %d: annual_vmt and vsl must be positive", e.Year)
			}
		}
	}
	return nil
}

// GetWindowEnds returns the window end years; defaults to 1987..2017 in
// steps of five.
func (c *RunConfig) GetWindowEnds() []int {
	if c.WindowEnds == nil {
		return []int{1987, 1992, 1997, 2002, 2007, 2012, 2017}
	}
	return *c.WindowEnds
}

func (c *RunConfig) GetWindowLength() int {
	if c.WindowLength == nil {
		return 5
	}
	return *c.WindowLength
}

// GetThresholds returns the BAC thresholds; defaults to any alcohol and the
// 0.08 legal limit.
func (c *RunConfig) GetThresholds() []float64 {
	if c.Thresholds == nil {
		return []float64{0, 0.08}
	}
	return *c.Thresholds
}

func (c *RunConfig) GetBACBoundary() sample.Boundary {
	if c.BACBoundary == nil {
		return sample.BoundaryInclusive
	}
	b, err := sample.ParseBoundary(*c.BACBoundary)
	if err != nil {
		return sample.BoundaryInclusive
	}
	return b
}

func (c *RunConfig) GetCovariates() []string {
	if c.Covariates == nil {
		return append([]string(nil), riskmodel.Covariates...)
	}
	return *c.Covariates
}

// GetPartition returns the driver-type grouping; defaults to sober vs
// drinking.
func (c *RunConfig) GetPartition() riskmodel.Partition {
	if c.Groups == nil {
		return riskmodel.DefaultPartition()
	}
	p, err := riskmodel.ParsePartition(*c.Groups)
	if err != nil {
		return riskmodel.DefaultPartition()
	}
	return p
}

func (c *RunConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return riskmodel.DefaultMaxIterations
	}
	return *c.MaxIterations
}

func (c *RunConfig) GetRetry() bool {
	if c.Retry == nil {
		return true
	}
	return *c.Retry
}

func (c *RunConfig) GetImputations() int {
	if c.Imputations == nil {
		return 10
	}
	return *c.Imputations
}

func (c *RunConfig) GetBootstrapReplicates() int {
	if c.BootstrapReplicates == nil {
		return 50
	}
	return *c.BootstrapReplicates
}

func (c *RunConfig) GetImputeStrata() []string {
	if c.ImputeStrata == nil {
		return append([]string(nil), impute.DefaultStrata...)
	}
	return *c.ImputeStrata
}

func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetWorkers returns the concurrency limit; 0 means GOMAXPROCS.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetExogenous returns the VMT and VSL series; defaults to
// externality.DefaultExogenous.
func (c *RunConfig) GetExogenous() []externality.Exogenous {
	if c.Exogenous == nil {
		return externality.DefaultExogenous()
	}
	out := make([]externality.Exogenous, len(*c.Exogenous))
	for i, e := range *c.Exogenous {
		out[i] = externality.Exogenous{Year: e.Year, AnnualVMT: e.AnnualVMT, VSL: e.VSL}
	}
	return out
}

// Windows returns the windows at threshold with the configured boundary.
func (c *RunConfig) Windows(threshold float64) []sample.Window {
	ws := trends.Windows(c.GetWindowEnds(), c.GetWindowLength(), threshold)
	for i := range ws {
		ws[i].Boundary = c.GetBACBoundary()
	}
	return ws
}

// ExternalityWindows returns the windows ending in each exogenous year at
// threshold.
func (c *RunConfig) ExternalityWindows(threshold float64) []sample.Window {
	var ends []int
	for _, e := range c.GetExogenous() {
		ends = append(ends, e.Year)
	}
	ws := trends.Windows(ends, c.GetWindowLength(), threshold)
	for i := range ws {
		ws[i].Boundary = c.GetBACBoundary()
	}
	return ws
}

// TrendsOptions assembles the pipeline options.
func (c *RunConfig) TrendsOptions() trends.Options {
	return trends.Options{
		Partition: c.GetPartition(),
		Model: riskmodel.Options{
			Covariates:    c.GetCovariates(),
			MaxIterations: c.GetMaxIterations(),
			Retry:         c.GetRetry(),
		},
		Imputer:     impute.Engine{Strata: c.GetImputeStrata(), Seed: c.GetSeed()},
		Imputations: c.GetImputations(),
		Bootstrap: resample.Bootstrap{
			Replicates: c.GetBootstrapReplicates(),
			Seed:       c.GetSeed(),
			Workers:    c.GetWorkers(),
		},
	}
}

// Resolved returns a copy with every field set to its effective value, for
// recording alongside results.
func (c *RunConfig) Resolved() *RunConfig {
	p := c.GetPartition()
	groups := [][]string{names(p.Reference), names(p.Exposed)}
	exo := make([]ExogenousRow, 0)
	for _, e := range c.GetExogenous() {
		exo = append(exo, ExogenousRow{Year: e.Year, AnnualVMT: e.AnnualVMT, VSL: e.VSL})
	}
	return &RunConfig{
		WindowEnds:          ptr(c.GetWindowEnds()),
		WindowLength:        ptr(c.GetWindowLength()),
		Thresholds:          ptr(c.GetThresholds()),
		BACBoundary:         ptr(c.GetBACBoundary().String()),
		Covariates:          ptr(c.GetCovariates()),
		Groups:              &groups,
		MaxIterations:       ptr(c.GetMaxIterations()),
		Retry:               ptr(c.GetRetry()),
		Imputations:         ptr(c.GetImputations()),
		BootstrapReplicates: ptr(c.GetBootstrapReplicates()),
		ImputeStrata:        ptr(c.GetImputeStrata()),
		Seed:                ptr(c.GetSeed()),
		Workers:             ptr(c.GetWorkers()),
		Exogenous:           &exo,
	}
}

func names(ds []sample.DriverType) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
