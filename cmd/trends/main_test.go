package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crashrisk/internal/config"
	"github.com/banshee-data/crashrisk/internal/db"
	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/testutil"
)

const smallRun = `{
	"window_ends": [2014],
	"window_length": 2,
	"covariates": ["weekend"],
	"imputations": 1,
	"bootstrap_replicates": 2,
	"workers": 2,
	"exogenous": [{"year": 2014, "annual_vmt": 3.0e12, "vsl": 9600000}]
}`

func setup(t *testing.T) (dataDir, configPath string, tables *fars.Tables) {
	t.Helper()
	testutil.Quiet(t)
	dir := t.TempDir()

	g := testutil.DefaultSynthetic()
	g.CrashesPerYear = 3000
	tables = g.Tables()
	dataDir = filepath.Join(dir, "data")
	require.NoError(t, fars.WriteDir(fsutil.OSFileSystem{}, dataDir, tables))

	configPath = filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(configPath, []byte(smallRun), 0644))
	return dataDir, configPath, tables
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunFromCSV(t *testing.T) {
	dataDir, configPath, _ := setup(t)
	out := filepath.Join(t.TempDir(), "out")

	var stdout bytes.Buffer
	err := run(context.Background(), []string{"-data", dataDir, "-config", configPath, "-out", out}, &stdout)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "tables written to "+out)

	for _, name := range []string{"table1.csv", "table2.csv", "table3.csv", "table4.csv",
		"theta.png", "theta.html", "proportion.png", "proportion.html", "cost.png", "cost.html"} {
		assert.FileExists(t, filepath.Join(out, name))
	}

	t1 := readCSV(t, filepath.Join(out, "table1.csv"))
	assert.Equal(t, []string{"statistic", "2013-2014"}, t1[0])
	assert.Equal(t, []string{"Window start year", "2013"}, t1[1])

	t2 := readCSV(t, filepath.Join(out, "table2.csv"))
	require.Len(t, t2, 3)
	assert.Equal(t, []string{"year range", "theta", "lambda", "proportion drinking"}, t2[0])
	assert.Equal(t, "2013", t2[1][0])
	assert.Equal(t, "2014", t2[2][0])

	t4 := readCSV(t, filepath.Join(out, "table4.csv"))
	require.Len(t, t4, 3)
	assert.Equal(t, []string{"year range", "BAC > 0", "BAC >= 0.08"}, t4[0])
	assert.Equal(t, "2013-2014", t4[1][0])
}

func TestRunWithStore(t *testing.T) {
	_, configPath, tables := setup(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crashrisk.db")

	store, err := db.NewDB(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.ImportTables(context.Background(), tables))
	require.NoError(t, store.Close())

	var stdout bytes.Buffer
	args := []string{"-db", dbPath, "-config", configPath, "-out", filepath.Join(dir, "out"), "-figures=false", "-externality=false"}
	require.NoError(t, run(context.Background(), args, &stdout))
	assert.Contains(t, stdout.String(), "estimates recorded")
	assert.NoFileExists(t, filepath.Join(dir, "out", "theta.png"))
	assert.NoFileExists(t, filepath.Join(dir, "out", "table4.csv"))

	store, err = db.NewDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	recs, err := store.RunEstimates(context.Background(), runs[0].ID)
	require.NoError(t, err)
	// theta, lambda and two proportions at each of two thresholds
	assert.Len(t, recs, 8)
}

func TestRunErrors(t *testing.T) {
	testutil.Quiet(t)
	dir := t.TempDir()
	var stdout bytes.Buffer

	err := run(context.Background(), []string{"-data", filepath.Join(dir, "missing"), "-out", filepath.Join(dir, "out")}, &stdout)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"imputations": 0}`), 0644))
	err = run(context.Background(), []string{"-config", bad, "-out", filepath.Join(dir, "out")}, &stdout)
	assert.ErrorContains(t, err, "imputations")

	assert.Error(t, run(context.Background(), []string{"-no-such-flag"}, &stdout))
}

func TestParseFlags(t *testing.T) {
	env := config.Env{DataDir: "d", DBPath: "x.db", OutputDir: "o", ConfigPath: "c.json"}
	var out bytes.Buffer

	o, done, err := parseFlags(nil, env, &out)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, options{dataDir: "d", outDir: "o", configPath: "c.json", externality: true, figures: true}, o)

	_, done, err = parseFlags([]string{"-version"}, env, &out)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, out.String(), "dev")
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "table2", tableName(0))
	assert.Equal(t, "table3", tableName(0.08))
	assert.Equal(t, "table3_bac0.05", tableName(0.05))
}

func TestThresholdLabel(t *testing.T) {
	tests := []struct {
		th       float64
		boundary sample.Boundary
		want     string
	}{
		{0, sample.BoundaryInclusive, "BAC > 0"},
		{0, sample.BoundaryExclusive, "BAC > 0"},
		{0.08, sample.BoundaryInclusive, "BAC >= 0.08"},
		{0.08, sample.BoundaryExclusive, "BAC > 0.08"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.boundary.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, thresholdLabel(tt.th, tt.boundary))
		})
	}
}
