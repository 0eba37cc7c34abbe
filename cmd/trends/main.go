// Command trends estimates the relative risk and prevalence of drinking
// drivers in fatal crashes over rolling year windows and writes the four
// publication tables with trend figures.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/crashrisk/internal/config"
	"github.com/banshee-data/crashrisk/internal/db"
	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/report"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/trends"
	"github.com/banshee-data/crashrisk/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("trends: %v", err)
	}
}

type options struct {
	dataDir     string
	dbPath      string
	outDir      string
	configPath  string
	externality bool
	figures     bool
}

func parseFlags(args []string, env config.Env, out io.Writer) (options, bool, error) {
	var o options
	fl := flag.NewFlagSet("trends", flag.ContinueOnError)
	fl.SetOutput(out)
	fl.StringVar(&o.dataDir, "data", env.DataDir, "directory holding df_accident.csv, df_vehicle.csv and df_person.csv")
	fl.StringVar(&o.dbPath, "db", "", "read tables from this sqlite store (see crashdb import) and record the run there")
	fl.StringVar(&o.outDir, "out", env.OutputDir, "directory for tables and figures")
	fl.StringVar(&o.configPath, "config", env.ConfigPath, "run configuration JSON (default: built-in defaults)")
	fl.BoolVar(&o.externality, "externality", true, "estimate table 4")
	fl.BoolVar(&o.figures, "figures", true, "write PNG and HTML trend figures")
	showVersion := fl.Bool("version", false, "print version and exit")
	if err := fl.Parse(args); err != nil {
		return o, false, err
	}
	if *showVersion {
		fmt.Fprintln(out, version.String())
		return o, true, nil
	}
	return o, false, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	o, done, err := parseFlags(args, config.LoadEnv(), stdout)
	if err != nil || done {
		return err
	}

	cfg := &config.RunConfig{}
	if o.configPath != "" {
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}

	fsys := fsutil.OSFileSystem{}
	if err := fsys.MkdirAll(o.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", o.outDir, err)
	}

	var store *db.DB
	if o.dbPath != "" {
		if store, err = db.NewDB(o.dbPath); err != nil {
			return err
		}
		defer store.Close()
	}

	tables, err := loadTables(ctx, o, cfg, store)
	if err != nil {
		return err
	}

	p := &pipeline{cfg: cfg, tables: tables, opts: cfg.TrendsOptions(), fs: fsys, outDir: o.outDir, figures: o.figures}
	if err := p.table1(); err != nil {
		return err
	}
	risk, err := p.riskTables(ctx)
	if err != nil {
		return err
	}
	var ext []externality.Window
	if o.externality {
		if ext, err = p.table4(ctx); err != nil {
			return err
		}
	}

	if store != nil {
		r, err := store.CreateRun(ctx, version.String(), cfg.Resolved())
		if err != nil {
			return err
		}
		recs := db.RiskRecords(r.ID, risk)
		recs = append(recs, db.ExternalityRecords(r.ID, ext)...)
		if err := store.RecordEstimates(ctx, recs); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "run %s: %d estimates recorded in %s\n", r.ID, len(recs), o.dbPath)
	}
	fmt.Fprintf(stdout, "tables written to %s\n", o.outDir)
	return nil
}

// loadTables reads the years the configured windows span from the store
// when one is given, else from the CSV directory.
func loadTables(ctx context.Context, o options, cfg *config.RunConfig, store *db.DB) (*fars.Tables, error) {
	defer monitoring.Stage("load tables")()
	if store == nil {
		return fars.LoadDir(fsutil.OSFileSystem{}, o.dataDir)
	}
	windows := append(cfg.Windows(0), cfg.ExternalityWindows(0)...)
	start, end := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		start, end = min(start, w.Start), max(end, w.End)
	}
	return store.LoadTables(ctx, start, end)
}

type pipeline struct {
	cfg     *config.RunConfig
	tables  *fars.Tables
	opts    trends.Options
	fs      fsutil.FileSystem
	outDir  string
	figures bool
}

func (p *pipeline) path(name string) string { return filepath.Join(p.outDir, name) }

func (p *pipeline) table1() error {
	defer monitoring.Stage("table 1")()
	sums, err := trends.Summaries(p.tables, p.cfg.Windows(0))
	if err != nil {
		return err
	}
	return report.WriteCSV(p.fs, p.path("table1.csv"), report.Table1(sums))
}

// riskTables writes table 2 for the any-alcohol threshold and table 3 for
// each positive threshold, and returns every window result.
func (p *pipeline) riskTables(ctx context.Context) ([]trends.RiskResult, error) {
	var all []trends.RiskResult
	var thetas, props []report.Series
	for _, th := range p.cfg.GetThresholds() {
		name := tableName(th)
		done := monitoring.Stage(name)
		results, err := trends.RunWindows(ctx, p.cfg.Windows(th), p.cfg.GetWorkers(),
			func(ctx context.Context, w sample.Window) (trends.RiskResult, error) {
				return trends.EstimateThreshold(ctx, p.tables, w, p.opts)
			})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tbl := report.Table3(results)
		if th == 0 {
			tbl = report.Table2(results)
		}
		tbl.Name = name
		if err := report.WriteCSV(p.fs, p.path(name+".csv"), tbl); err != nil {
			return nil, err
		}
		done()

		label := thresholdLabel(th, p.cfg.GetBACBoundary())
		thetas = append(thetas, report.RiskSeries(label, results, func(r trends.RiskResult) trends.Estimate { return r.Theta }))
		props = append(props, report.RiskSeries(label, results, trends.RiskResult.ProportionDrinking))
		all = append(all, results...)
	}
	if err := p.figure("theta", "Relative crash risk of drinking drivers", "theta", thetas); err != nil {
		return nil, err
	}
	if err := p.figure("proportion", "Proportion of drinking drivers", "proportion drinking", props); err != nil {
		return nil, err
	}
	return all, nil
}

// table4 needs the any-alcohol threshold and one positive threshold; the
// first positive one is used.
func (p *pipeline) table4(ctx context.Context) ([]externality.Window, error) {
	thresholds := p.cfg.GetThresholds()
	legal := -1.0
	hasZero := false
	for _, th := range thresholds {
		if th == 0 {
			hasZero = true
		} else if legal < 0 {
			legal = th
		}
	}
	if !hasZero || legal < 0 {
		monitoring.Logf("table 4 skipped: thresholds %v lack 0 or a positive limit", thresholds)
		return nil, nil
	}

	defer monitoring.Stage("table 4")()
	exo := p.cfg.GetExogenous()
	anyAlcohol, err := externality.Calculate(ctx, p.tables, exo, p.cfg.ExternalityWindows(0), p.opts, p.cfg.GetWorkers())
	if err != nil {
		return nil, fmt.Errorf("table4: %w", err)
	}
	atLimit, err := externality.Calculate(ctx, p.tables, exo, p.cfg.ExternalityWindows(legal), p.opts, p.cfg.GetWorkers())
	if err != nil {
		return nil, fmt.Errorf("table4: %w", err)
	}
	tbl, err := report.Table4(anyAlcohol, atLimit)
	if err != nil {
		return nil, err
	}
	boundary := p.cfg.GetBACBoundary()
	tbl.Columns[1] = thresholdLabel(0, boundary)
	tbl.Columns[2] = thresholdLabel(legal, boundary)
	if err := report.WriteCSV(p.fs, p.path("table4.csv"), tbl); err != nil {
		return nil, err
	}
	series := []report.Series{
		report.CostSeries(tbl.Columns[1], anyAlcohol),
		report.CostSeries(tbl.Columns[2], atLimit),
	}
	if err := p.figure("cost", "External cost per mile driven drunk", "dollars per mile", series); err != nil {
		return nil, err
	}
	return append(anyAlcohol, atLimit...), nil
}

func (p *pipeline) figure(name, title, yLabel string, series []report.Series) error {
	if !p.figures {
		return nil
	}
	if err := report.PlotTrend(p.fs, p.path(name+".png"), title, yLabel, series); err != nil {
		return err
	}
	f, err := p.fs.Create(p.path(name + ".html"))
	if err != nil {
		return fmt.Errorf("failed to create %s.html: %w", name, err)
	}
	if err := report.ChartTrend(f, title, series); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func tableName(th float64) string {
	switch th {
	case 0:
		return "table2"
	case 0.08:
		return "table3"
	}
	return fmt.Sprintf("table3_bac%g", th)
}

// thresholdLabel names the drinking rule applied at th. Zero is always
// strict since a zero BAC is sober under either boundary.
func thresholdLabel(th float64, b sample.Boundary) string {
	if th > 0 && b == sample.BoundaryInclusive {
		return fmt.Sprintf("BAC >= %g", th)
	}
	return fmt.Sprintf("BAC > %g", th)
}
