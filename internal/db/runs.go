package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/crashrisk/internal/externality"
	"github.com/banshee-data/crashrisk/internal/trends"
)

// Run is one invocation of the estimation pipeline.
type Run struct {
	ID        string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Version   string          `json:"version"`
	Config    json.RawMessage `json:"config"`
}

// EstimateRecord is one estimated parameter for one window.
type EstimateRecord struct {
	RunID     string  `json:"run_id"`
	Kind      string  `json:"kind"` // "risk" or "externality"
	Start     int     `json:"start_year"`
	End       int     `json:"end_year"`
	Threshold float64 `json:"threshold"`
	Parameter string  `json:"parameter"` // e.g. "theta", "lambda", "proportion_drinking", "cost_per_mile"
	Value     float64 `json:"value"`
	StdErr    float64 `json:"std_err"`
}

// CreateRun records a new run and returns it with a fresh ID.
func (db *DB) CreateRun(ctx context.Context, version string, config any) (*Run, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run config: %w", err)
	}
	r := &Run{
		ID:        uuid.NewString(),
		CreatedAt: db.clock.Now().UTC().Truncate(time.Second),
		Version:   version,
		Config:    cfg,
	}
	_, err = db.ExecContext(ctx, `INSERT INTO runs (run_id, created_at, version, config_json) VALUES (?, ?, ?, ?)`,
		r.ID, r.CreatedAt.Unix(), r.Version, string(r.Config))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return r, nil
}

// Runs lists recorded runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, created_at, version, config_json FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var created int64
		var cfg string
		if err := rows.Scan(&r.ID, &created, &r.Version, &cfg); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		r.Config = json.RawMessage(cfg)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordEstimates stores estimates in one transaction.
func (db *DB) RecordEstimates(ctx context.Context, recs []EstimateRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO estimates
		(run_id, kind, start_year, end_year, threshold, parameter, value, std_err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range recs {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Kind, e.Start, e.End, e.Threshold, e.Parameter, e.Value, e.StdErr); err != nil {
			return fmt.Errorf("estimate %s %s %d-%d: %w", e.Kind, e.Parameter, e.Start, e.End, err)
		}
	}
	return tx.Commit()
}

// RunEstimates returns the estimates of one run ordered by kind, threshold,
// window and parameter.
func (db *DB) RunEstimates(ctx context.Context, runID string) ([]EstimateRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT run_id, kind, start_year, end_year, threshold, parameter, value, std_err
		FROM estimates WHERE run_id = ?
		ORDER BY kind, threshold, start_year, end_year, parameter`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EstimateRecord
	for rows.Next() {
		var e EstimateRecord
		if err := rows.Scan(&e.RunID, &e.Kind, &e.Start, &e.End, &e.Threshold, &e.Parameter, &e.Value, &e.StdErr); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RiskRecords flattens relative-risk results into estimate rows.
func RiskRecords(runID string, results []trends.RiskResult) []EstimateRecord {
	var out []EstimateRecord
	for _, r := range results {
		rec := func(param string, e trends.Estimate) EstimateRecord {
			return EstimateRecord{
				RunID: runID, Kind: "risk",
				Start: r.Window.Start, End: r.Window.End, Threshold: r.Window.Threshold,
				Parameter: param, Value: e.Value, StdErr: e.StdErr,
			}
		}
		out = append(out, rec("theta", r.Theta), rec("lambda", r.Lambda))
		for i, g := range r.Groups {
			out = append(out, rec("proportion_"+g, r.Proportions[i]))
		}
	}
	return out
}

// ExternalityRecords flattens externality results into estimate rows.
func ExternalityRecords(runID string, windows []externality.Window) []EstimateRecord {
	var out []EstimateRecord
	for _, w := range windows {
		for _, p := range []struct {
			name string
			e    trends.Estimate
		}{{"theta", w.Theta}, {"lambda", w.Lambda}, {"cost_per_mile", w.CostPerMile}} {
			out = append(out, EstimateRecord{
				RunID: runID, Kind: "externality",
				Start: w.Window.Start, End: w.Window.End, Threshold: w.Window.Threshold,
				Parameter: p.name, Value: p.e.Value, StdErr: p.e.StdErr,
			})
		}
	}
	return out
}
