// Package report assembles the publication tables and trend figures from
// pipeline results.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/trends"
)

// Table is a rendered table: a header row and string cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Table1 lays out summary statistics with one column per window.
func Table1(sums []sample.Summary) Table {
	t := Table{Name: "table1", Columns: []string{"statistic"}}
	if len(sums) == 0 {
		return t
	}
	for _, s := range sums {
		t.Columns = append(t.Columns, fmt.Sprintf("%d-%d", s.Start, s.End))
	}
	for i, label := range sums[0].Labels() {
		row := []string{label}
		for _, s := range sums {
			row = append(row, round(s.Values()[i], 4))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Table2 reports theta, lambda and the proportion drinking at BAC > 0.
func Table2(results []trends.RiskResult) Table {
	return riskTable("table2", results)
}

// Table3 reports the same at the legal limit. Proportions come from the
// sample that keeps drivers below the limit (trends.EstimateThreshold).
func Table3(results []trends.RiskResult) Table {
	return riskTable("table3", results)
}

// riskTable writes two rows per window: estimates labelled with the start
// year, standard errors in parentheses labelled with the end year.
func riskTable(name string, results []trends.RiskResult) Table {
	t := Table{Name: name, Columns: []string{"year range", "theta", "lambda", "proportion drinking"}}
	for _, r := range results {
		p := r.ProportionDrinking()
		t.Rows = append(t.Rows,
			[]string{strconv.Itoa(r.Window.Start), round(r.Theta.Value, 2), round(r.Lambda.Value, 2), round(p.Value, 6)},
			[]string{strconv.Itoa(r.Window.End), paren(round(r.Theta.StdErr, 2)), paren(round(r.Lambda.StdErr, 2)), paren(fixed(p.StdErr, 5))},
		)
	}
	return t
}

// Table4 reports the external cost per mile at both thresholds. The two
// slices must cover the same windows.
func Table4(anyAlcohol, legalLimit []externality.Window) (Table, error) {
	t := Table{Name: "table4", Columns: []string{"year range", "BAC > 0", "BAC > 0.08"}}
	if len(anyAlcohol) != len(legalLimit) {
		return t, fmt.Errorf("externality results cover %d and %d windows", len(anyAlcohol), len(legalLimit))
	}
	for i, a := range anyAlcohol {
		l := legalLimit[i]
		if a.Window.Start != l.Window.Start || a.Window.End != l.Window.End {
			return t, fmt.Errorf("window %d differs between thresholds: %d-%d vs %d-%d", i, a.Window.Start, a.Window.End, l.Window.Start, l.Window.End)
		}
		t.Rows = append(t.Rows,
			[]string{fmt.Sprintf("%d-%d", a.Window.Start, a.Window.End), round(a.CostPerMile.Value, 4), round(l.CostPerMile.Value, 4)},
			[]string{"", paren(round(a.CostPerMile.StdErr, 4)), paren(round(l.CostPerMile.StdErr, 4))},
		)
	}
	return t, nil
}

// WriteCSV writes the header and rows of t to path.
func WriteCSV(fs fsutil.FileSystem, path string, t Table) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// round formats x rounded to d decimals without trailing zeros.
func round(x float64, d int) string {
	scale := math.Pow(10, float64(d))
	return strconv.FormatFloat(math.Round(x*scale)/scale, 'f', -1, 64)
}

// fixed formats x with exactly d decimals.
func fixed(x float64, d int) string {
	return strconv.FormatFloat(x, 'f', d, 64)
}

func paren(s string) string { return "(" + s + ")" }
