package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/monitoring"
)

// ImportTables writes t in one transaction, replacing any records with the
// same keys.
func (db *DB) ImportTables(ctx context.Context, t *fars.Tables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	crashStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO crashes (year, st_case, state, hour, day_week) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer crashStmt.Close()
	for _, c := range t.Crashes {
		if _, err := crashStmt.ExecContext(ctx, c.Year, c.Case, c.State, c.Hour, c.DayOfWeek); err != nil {
			return fmt.Errorf("crash %d/%d: %w", c.Year, c.Case, err)
		}
	}

	vehStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO vehicles (year, st_case, veh_no, dr_pres, hit_run, bac) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer vehStmt.Close()
	for _, v := range t.Vehicles {
		bac := sql.NullFloat64{Float64: v.BAC, Valid: v.BACKnown}
		if _, err := vehStmt.ExecContext(ctx, v.Year, v.Case, v.VehicleNo, v.DriverPresent, v.HitAndRun, bac); err != nil {
			return fmt.Errorf("vehicle %d/%d/%d: %w", v.Year, v.Case, v.VehicleNo, err)
		}
	}

	perStmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO persons (year, st_case, veh_no, per_no, per_typ, inj_sev, age) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer perStmt.Close()
	for _, p := range t.Persons {
		if _, err := perStmt.ExecContext(ctx, p.Year, p.Case, p.VehicleNo, p.PersonNo, p.PersonType, p.InjurySeverity, p.Age); err != nil {
			return fmt.Errorf("person %d/%d/%d/%d: %w", p.Year, p.Case, p.VehicleNo, p.PersonNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	monitoring.Logf("imported %d crashes, %d vehicles, %d persons", len(t.Crashes), len(t.Vehicles), len(t.Persons))
	return nil
}

// LoadTables reads the records of crashes in years start..end inclusive,
// ordered by key.
func (db *DB) LoadTables(ctx context.Context, start, end int) (*fars.Tables, error) {
	t := &fars.Tables{}

	rows, err := db.QueryContext(ctx, `SELECT year, st_case, state, hour, day_week FROM crashes WHERE year BETWEEN ? AND ? ORDER BY year, st_case`, start, end)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c fars.Crash
		if err := rows.Scan(&c.Year, &c.Case, &c.State, &c.Hour, &c.DayOfWeek); err != nil {
			rows.Close()
			return nil, err
		}
		t.Crashes = append(t.Crashes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT year, st_case, veh_no, dr_pres, hit_run, bac FROM vehicles WHERE year BETWEEN ? AND ? ORDER BY year, st_case, veh_no`, start, end)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var v fars.Vehicle
		var bac sql.NullFloat64
		if err := rows.Scan(&v.Year, &v.Case, &v.VehicleNo, &v.DriverPresent, &v.HitAndRun, &bac); err != nil {
			rows.Close()
			return nil, err
		}
		v.BAC, v.BACKnown = bac.Float64, bac.Valid
		t.Vehicles = append(t.Vehicles, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT year, st_case, veh_no, per_no, per_typ, inj_sev, age FROM persons WHERE year BETWEEN ? AND ? ORDER BY year, st_case, veh_no, per_no`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p fars.Person
		if err := rows.Scan(&p.Year, &p.Case, &p.VehicleNo, &p.PersonNo, &p.PersonType, &p.InjurySeverity, &p.Age); err != nil {
			return nil, err
		}
		t.Persons = append(t.Persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(t.Crashes) == 0 {
		return nil, fars.Dataf("no crashes stored for %d-%d", start, end)
	}
	return t, nil
}

// Years returns the distinct crash years stored.
func (db *DB) Years(ctx context.Context) ([]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT year FROM crashes ORDER BY year`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}
