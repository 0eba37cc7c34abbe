package db

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/sample"
	"github.com/banshee-data/crashrisk/internal/testutil"
	"github.com/banshee-data/crashrisk/internal/timeutil"
	"github.com/banshee-data/crashrisk/internal/trends"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	testutil.Quiet(t)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func fixture() *fars.Tables {
	return &fars.Tables{
		Crashes: []fars.Crash{
			{Year: 2010, Case: 1, State: 6, Hour: 22, DayOfWeek: 7},
			{Year: 2010, Case: 2, State: 6, Hour: fars.UnknownHour, DayOfWeek: 3},
			{Year: 2011, Case: 1, State: 36, Hour: 2, DayOfWeek: 1},
		},
		Vehicles: []fars.Vehicle{
			{Year: 2010, Case: 1, VehicleNo: 1, DriverPresent: true, BAC: 0.12, BACKnown: true},
			{Year: 2010, Case: 1, VehicleNo: 2, DriverPresent: true},
			{Year: 2010, Case: 2, VehicleNo: 1, DriverPresent: true, HitAndRun: true, BAC: 0, BACKnown: true},
			{Year: 2011, Case: 1, VehicleNo: 1, DriverPresent: false},
		},
		Persons: []fars.Person{
			{Year: 2010, Case: 1, VehicleNo: 1, PersonNo: 1, PersonType: fars.PersonDriver, InjurySeverity: fars.InjuryFatal, Age: 34},
			{Year: 2011, Case: 1, VehicleNo: 0, PersonNo: 1, PersonType: 5, InjurySeverity: fars.InjuryFatal, Age: 70},
		},
	}
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout, foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	testutil.Quiet(t)
	db, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()
	migrations := MigrationsFS()

	latest, err := LatestMigrationVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	v, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)
	assert.Error(t, db.CheckMigrations(migrations))

	require.NoError(t, db.MigrateUp(migrations))
	require.NoError(t, db.MigrateUp(migrations), "up is idempotent")
	assert.NoError(t, db.CheckMigrations(migrations))

	require.NoError(t, db.MigrateDown(migrations))
	v, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	var runsTable int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'`).Scan(&runsTable))
	assert.Equal(t, 0, runsTable)

	require.NoError(t, db.MigrateTo(migrations, 2))
	require.NoError(t, db.MigrateForce(migrations, 2))
	assert.NoError(t, db.CheckMigrations(migrations))

	assert.Error(t, db.MigrateUp(nil))
}

func TestImportLoadTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	in := fixture()
	require.NoError(t, db.ImportTables(ctx, in))
	require.NoError(t, db.ImportTables(ctx, in), "reimport replaces")

	got, err := db.LoadTables(ctx, 2010, 2011)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}

	only, err := db.LoadTables(ctx, 2011, 2011)
	require.NoError(t, err)
	assert.Len(t, only.Crashes, 1)
	assert.Len(t, only.Vehicles, 1)
	assert.Len(t, only.Persons, 1)

	_, err = db.LoadTables(ctx, 1990, 1995)
	assert.ErrorIs(t, err, fars.ErrData)

	years, err := db.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2010, 2011}, years)

	bad := fixture()
	bad.Vehicles = append(bad.Vehicles, fars.Vehicle{Year: 2012, Case: 9, VehicleNo: 1})
	assert.ErrorIs(t, db.ImportTables(ctx, bad), fars.ErrData)
}

func TestImportSynthetic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	g := testutil.DefaultSynthetic()
	g.CrashesPerYear = 200
	in := g.Tables()
	require.NoError(t, db.ImportTables(ctx, in))

	got, err := db.LoadTables(ctx, g.StartYear, g.StartYear+g.Years-1)
	require.NoError(t, err)
	assert.Len(t, got.Crashes, len(in.Crashes))
	assert.Len(t, got.Vehicles, len(in.Vehicles))
	assert.Len(t, got.Persons, len(in.Persons))
	assert.NoError(t, got.Validate())
}

func TestRunsAndEstimates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run, err := db.CreateRun(ctx, "v1.2.3", map[string]int{"imputations": 10})
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.JSONEq(t, `{"imputations":10}`, string(run.Config))

	w := sample.Window{Start: 1983, End: 1987, Threshold: 0.08, DropBelowThreshold: true}
	risk := []trends.RiskResult{{
		Window:      w,
		Theta:       trends.Estimate{Value: 7.5, StdErr: 0.9},
		Lambda:      trends.Estimate{Value: 1.2, StdErr: 0.1},
		Proportions: []trends.Estimate{{Value: 0.9, StdErr: 0.01}, {Value: 0.1, StdErr: 0.01}},
		Groups:      []string{"sober", "drinking"},
	}}
	ext := []externality.Window{{Window: w, CostPerMile: trends.Estimate{Value: 0.3, StdErr: 0.05}}}

	recs := append(RiskRecords(run.ID, risk), ExternalityRecords(run.ID, ext)...)
	require.Len(t, recs, 7)
	require.NoError(t, db.RecordEstimates(ctx, recs))

	got, err := db.RunEstimates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Equal(t, EstimateRecord{
		RunID: run.ID, Kind: "externality", Start: 1983, End: 1987, Threshold: 0.08,
		Parameter: "cost_per_mile", Value: 0.3, StdErr: 0.05,
	}, got[0])
	assert.Equal(t, "proportion_drinking", got[4].Parameter)
	assert.Equal(t, 0.1, got[4].Value)

	runs, err := db.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "v1.2.3", runs[0].Version)

	orphan := []EstimateRecord{{RunID: "missing", Kind: "risk", Parameter: "theta"}}
	assert.Error(t, db.RecordEstimates(ctx, orphan), "foreign key on run_id")
}

func TestGetDatabaseStats(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.ImportTables(context.Background(), fixture()))

	stats, err := db.GetDatabaseStats()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalSizeMB, 0.0)

	counts := map[string]int64{}
	for _, tbl := range stats.Tables {
		counts[tbl.Name] = tbl.Rows
	}
	assert.Equal(t, int64(3), counts["crashes"])
	assert.Equal(t, int64(4), counts["vehicles"])
	assert.Equal(t, int64(2), counts["persons"])
	assert.Contains(t, counts, "schema_migrations")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/db-stats", "/debug/backup", "/debug/runs", "/debug/tailsql/"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			// Debug access may be refused for non-local callers; the route
			// must still exist.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestRunMigrate(t *testing.T) {
	testutil.Quiet(t)
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Dirty: false")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"version"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
}

func TestHandleRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	stamp := time.Date(2018, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(timeutil.NewMockClock(stamp))

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		db.handleRuns(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := get("/debug/runs")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	run, err := db.CreateRun(ctx, "v1", map[string]int{"seed": 1})
	require.NoError(t, err)
	assert.Equal(t, stamp, run.CreatedAt)
	require.NoError(t, db.RecordEstimates(ctx, []EstimateRecord{
		{RunID: run.ID, Kind: "risk", Start: 2013, End: 2017, Parameter: "theta", Value: 3.1, StdErr: 0.4},
	}))

	w = get("/debug/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.True(t, stamp.Equal(runs[0].CreatedAt))

	w = get("/debug/runs?id=" + run.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var recs []EstimateRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "theta", recs[0].Parameter)
	assert.Equal(t, 2017, recs[0].End)

	assert.Equal(t, http.StatusNotFound, get("/debug/runs?id=nope").Code)

	post := httptest.NewRecorder()
	db.handleRuns(post, httptest.NewRequest(http.MethodPost, "/debug/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}
