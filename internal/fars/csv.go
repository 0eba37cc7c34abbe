package fars

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/units"
)

// Default file names inside a data directory, matching the extracted
// FARS tables.
const (
	AccidentFile = "df_accident.csv"
	VehicleFile  = "df_vehicle.csv"
	PersonFile   = "df_person.csv"
)

var (
	accidentColumns = []string{"year", "st_case", "state", "hour", "day_week"}
	vehicleColumns  = []string{"year", "st_case", "veh_no", "dr_pres", "hit_run", "alc_res"}
	personColumns   = []string{"year", "st_case", "veh_no", "per_no", "per_typ", "inj_sev", "age"}
)

// LoadDir reads the three tables from dir using the default file names.
func LoadDir(fsys fsutil.FileSystem, dir string) (*Tables, error) {
	return Load(fsys,
		filepath.Join(dir, AccidentFile),
		filepath.Join(dir, VehicleFile),
		filepath.Join(dir, PersonFile),
	)
}

// Load reads the accident, vehicle, and person CSV files and validates the
// resulting tables.
func Load(fsys fsutil.FileSystem, accidentPath, vehiclePath, personPath string) (*Tables, error) {
	t := &Tables{}

	err := readTable(fsys, accidentPath, accidentColumns, func(r record) error {
		c := Crash{}
		var err error
		if c.Year, err = r.intField("year"); err != nil {
			return err
		}
		if c.Case, err = r.intField("st_case"); err != nil {
			return err
		}
		if c.State, err = r.intField("state"); err != nil {
			return err
		}
		if c.Hour, err = r.intField("hour"); err != nil {
			return err
		}
		if c.DayOfWeek, err = r.intField("day_week"); err != nil {
			return err
		}
		t.Crashes = append(t.Crashes, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(fsys, vehiclePath, vehicleColumns, func(r record) error {
		v := Vehicle{}
		var err error
		if v.Year, err = r.intField("year"); err != nil {
			return err
		}
		if v.Case, err = r.intField("st_case"); err != nil {
			return err
		}
		if v.VehicleNo, err = r.intField("veh_no"); err != nil {
			return err
		}
		drPres, err := r.intField("dr_pres")
		if err != nil {
			return err
		}
		hitRun, err := r.intField("hit_run")
		if err != nil {
			return err
		}
		alcRes, ok, err := r.optionalIntField("alc_res")
		if err != nil {
			return err
		}
		v.DriverPresent = drPres == 1
		v.HitAndRun = hitRun != 0
		if ok {
			v.BAC, v.BACKnown = units.BACFromCode(v.Year, alcRes)
		}
		t.Vehicles = append(t.Vehicles, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(fsys, personPath, personColumns, func(r record) error {
		p := Person{}
		var err error
		if p.Year, err = r.intField("year"); err != nil {
			return err
		}
		if p.Case, err = r.intField("st_case"); err != nil {
			return err
		}
		if p.VehicleNo, err = r.intField("veh_no"); err != nil {
			return err
		}
		if p.PersonNo, err = r.intField("per_no"); err != nil {
			return err
		}
		if p.PersonType, err = r.intField("per_typ"); err != nil {
			return err
		}
		if p.InjurySeverity, err = r.intField("inj_sev"); err != nil {
			return err
		}
		if p.Age, err = r.intField("age"); err != nil {
			return err
		}
		t.Persons = append(t.Persons, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// record is one CSV row addressed by column name.
type record struct {
	path    string
	line    int
	columns map[string]int
	fields  []string
}

func (r record) intField(name string) (int, error) {
	raw := strings.TrimSpace(r.fields[r.columns[name]])
	// pandas writes integer columns holding NaN as floats
	raw = strings.TrimSuffix(raw, ".0")
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: invalid %s %q: %w", r.path, r.line, name, raw, err)
	}
	return v, nil
}

// optionalIntField is intField for columns where pandas writes a missing
// value as an empty cell or "nan". ok is false for those.
func (r record) optionalIntField(name string) (v int, ok bool, err error) {
	raw := strings.TrimSpace(r.fields[r.columns[name]])
	if raw == "" || strings.EqualFold(raw, "nan") {
		return 0, false, nil
	}
	v, err = r.intField(name)
	return v, err == nil, err
}

func readTable(fsys fsutil.FileSystem, path string, required []string, fn func(record) error) error {
	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rdr := csv.NewReader(f)
	rdr.ReuseRecord = true
	header, err := rdr.Read()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return Dataf("%s: missing required column %q", path, name)
		}
	}

	line := 1
	for {
		fields, err := rdr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("failed to read %s line %d: %w", path, line, err)
		}
		if err := fn(record{path: path, line: line, columns: columns, fields: fields}); err != nil {
			return err
		}
	}
}

// WriteDir writes the tables to dir using the default file names, in the
// same layout LoadDir reads.
func WriteDir(fsys fsutil.FileSystem, dir string, t *Tables) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	rows := make([][]string, 0, len(t.Crashes))
	for _, c := range t.Crashes {
		rows = append(rows, itoa(c.Year, c.Case, c.State, c.Hour, c.DayOfWeek))
	}
	if err := writeTable(fsys, filepath.Join(dir, AccidentFile), accidentColumns, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, v := range t.Vehicles {
		rows = append(rows, itoa(v.Year, v.Case, v.VehicleNo, boolCode(v.DriverPresent), boolCode(v.HitAndRun),
			units.CodeFromBAC(v.Year, v.BAC, v.BACKnown)))
	}
	if err := writeTable(fsys, filepath.Join(dir, VehicleFile), vehicleColumns, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, p := range t.Persons {
		rows = append(rows, itoa(p.Year, p.Case, p.VehicleNo, p.PersonNo, p.PersonType, p.InjurySeverity, p.Age))
	}
	return writeTable(fsys, filepath.Join(dir, PersonFile), personColumns, rows)
}

func writeTable(fsys fsutil.FileSystem, path string, header []string, rows [][]string) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func itoa(vs ...int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func boolCode(b bool) int {
	if b {
		return 1
	}
	return 0
}
