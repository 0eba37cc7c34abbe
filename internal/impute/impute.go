// Package impute completes the driver types of rows with unknown BAC.
//
// Missing rows are filled stratum by stratum from the known rows sharing
// their attributes. With more than one replicate each stratum's drinking
// share is drawn from its Beta posterior, so replicates differ in the way
// FARS multiple imputation intends; a single replicate is a best guess.
package impute

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/sample"
)

// DefaultStrata are the attributes missing rows are matched on.
var DefaultStrata = []string{"drivers", "weekend", "hour"}

// Engine fills unknown driver types. The zero value uses DefaultStrata and
// seed 0.
type Engine struct {
	Strata []string
	Seed   uint64
}

// Imputer produces completed replicates of a sample.
type Imputer interface {
	Impute(s *sample.Sample, m int) ([]*sample.Sample, error)
}

type counts struct {
	drinking, sober int
}

func (c counts) known() int { return c.drinking + c.sober }

// stratum is the cell a group of missing rows is imputed from.
type stratum struct {
	counts
	rows []int
}

// Impute returns exactly m completed copies of s. Rows with known BAC are
// copied unchanged.
func (e Engine) Impute(s *sample.Sample, m int) ([]*sample.Sample, error) {
	if m < 1 {
		return nil, fmt.Errorf("imputation replicates must be at least 1, got %d", m)
	}
	strata, err := e.strata(s)
	if err != nil {
		return nil, err
	}

	out := make([]*sample.Sample, m)
	for j := range out {
		c := s.Clone()
		rng := rand.New(rand.NewPCG(e.Seed, uint64(j)))
		for _, st := range strata {
			q := st.share(m, rng)
			coin := distuv.Bernoulli{P: q, Src: rng}
			for _, i := range st.rows {
				if m == 1 {
					c.Rows[i].Type = bestGuess(q)
				} else if coin.Rand() == 1 {
					c.Rows[i].Type = sample.Drinking
				} else {
					c.Rows[i].Type = sample.Sober
				}
			}
		}
		out[j] = c
	}
	if len(strata) > 0 {
		monitoring.Logf("imputed %d rows in %d strata for %s (%d replicates)", s.Missing(), len(strata), s.Window, m)
	}
	return out, nil
}

// share is the drinking probability used for one replicate.
func (st *stratum) share(m int, rng *rand.Rand) float64 {
	if m == 1 {
		return float64(st.drinking) / float64(st.known())
	}
	b := distuv.Beta{Alpha: float64(st.drinking + 1), Beta: float64(st.sober + 1), Src: rng}
	return b.Rand()
}

func bestGuess(q float64) sample.DriverType {
	if q > 0.5 {
		return sample.Drinking
	}
	return sample.Sober
}

// strata groups the missing rows of s by the most specific attribute
// prefix that has known rows, in order of first appearance.
func (e Engine) strata(s *sample.Sample) ([]*stratum, error) {
	attrs := e.Strata
	if attrs == nil {
		attrs = DefaultStrata
	}
	for _, a := range attrs {
		if !validAttribute(a) {
			return nil, fars.Dataf("unknown stratum attribute %q", a)
		}
	}
	if s.Missing() == 0 {
		return nil, nil
	}

	// keys[i][l] is row i's key using the first l attributes.
	keys := make([][]string, len(s.Rows))
	tallies := make([]map[string]counts, len(attrs)+1)
	for l := range tallies {
		tallies[l] = make(map[string]counts)
	}
	for i, r := range s.Rows {
		keys[i] = prefixKeys(r, attrs)
		if r.Type == sample.Unknown {
			continue
		}
		for l, k := range keys[i] {
			c := tallies[l][k]
			if r.Type == sample.Drinking {
				c.drinking++
			} else {
				c.sober++
			}
			tallies[l][k] = c
		}
	}
	if tallies[0][""].known() == 0 {
		return nil, fars.Dataf("no rows with known BAC in %s", s.Window)
	}

	var order []*stratum
	byKey := make(map[string]*stratum)
	for i, r := range s.Rows {
		if r.Type != sample.Unknown {
			continue
		}
		l := len(attrs)
		for tallies[l][keys[i][l]].known() == 0 {
			l--
		}
		id := strconv.Itoa(l) + "|" + keys[i][l]
		st, ok := byKey[id]
		if !ok {
			st = &stratum{counts: tallies[l][keys[i][l]]}
			byKey[id] = st
			order = append(order, st)
		}
		st.rows = append(st.rows, i)
	}
	return order, nil
}

func prefixKeys(r sample.Row, attrs []string) []string {
	keys := make([]string, len(attrs)+1)
	var b strings.Builder
	for l, a := range attrs {
		v, _ := r.Attribute(a)
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(',')
		keys[l+1] = b.String()
	}
	return keys
}

func validAttribute(name string) bool {
	for _, a := range sample.Attributes {
		if a == name {
			return true
		}
	}
	return false
}
