package riskmodel

import (
	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/sample"
)

// Partition splits driver types into the reference (sober) group and the
// exposed (drinking) group whose relative risk is theta.
type Partition struct {
	Reference []sample.DriverType
	Exposed   []sample.DriverType
}

// DefaultPartition is [[sober], [drinking]].
func DefaultPartition() Partition {
	return Partition{
		Reference: []sample.DriverType{sample.Sober},
		Exposed:   []sample.DriverType{sample.Drinking},
	}
}

// ParsePartition builds a Partition from group names such as
// [["sober"], ["drinking"]]. The first group is the reference.
func ParsePartition(groups [][]string) (Partition, error) {
	if len(groups) != 2 {
		return Partition{}, fars.Dataf("driver types must be split into exactly two groups, got %d", len(groups))
	}
	var p Partition
	for i, g := range groups {
		for _, name := range g {
			d, err := sample.ParseDriverType(name)
			if err != nil {
				return Partition{}, err
			}
			if i == 0 {
				p.Reference = append(p.Reference, d)
			} else {
				p.Exposed = append(p.Exposed, d)
			}
		}
	}
	return p, p.Validate()
}

// Validate checks that every known driver type is in exactly one group.
func (p Partition) Validate() error {
	if len(p.Reference) == 0 || len(p.Exposed) == 0 {
		return fars.Dataf("both driver-type groups must be non-empty")
	}
	seen := map[sample.DriverType]int{}
	for _, d := range append(append([]sample.DriverType(nil), p.Reference...), p.Exposed...) {
		if d == sample.Unknown {
			return fars.Dataf("unknown is not a driver-type group member")
		}
		seen[d]++
	}
	for _, d := range []sample.DriverType{sample.Sober, sample.Drinking} {
		if seen[d] != 1 {
			return fars.Dataf("driver type %s must appear in exactly one group", d)
		}
	}
	return nil
}

// Names returns the group labels in partition order.
func (p Partition) Names() []string {
	return []string{groupName(p.Reference), groupName(p.Exposed)}
}

func (p Partition) exposed(d sample.DriverType) bool {
	for _, e := range p.Exposed {
		if e == d {
			return true
		}
	}
	return false
}

func groupName(ds []sample.DriverType) string {
	name := ""
	for i, d := range ds {
		if i > 0 {
			name += "+"
		}
		name += d.String()
	}
	return name
}
