package transform

import (
	"go.ngs.io/terraclimate-extract/internal/domain"
)

// DerivedIndex is a quantity computed from other columns of the same row.
type DerivedIndex struct {
	Name    string
	Inputs  []string
	Compute func(in []float64) (float64, bool)
}

// DerivedIndices lists the derived columns in output order.
var DerivedIndices = []DerivedIndex{
	{
		Name:   "aridity_index",
		Inputs: []string{"pet", "ppt"},
		Compute: func(in []float64) (float64, bool) {
			if in[1] == 0 {
				return 0, false
			}
			return in[0] / in[1], true
		},
	},
	{
		Name:    "water_balance",
		Inputs:  []string{"ppt", "aet"},
		Compute: func(in []float64) (float64, bool) { return in[0] - in[1], true },
	},
	{
		Name:    "temperature_range",
		Inputs:  []string{"tmax", "tmin"},
		Compute: func(in []float64) (float64, bool) { return in[0] - in[1], true },
	},
	{
		Name:    "moisture_availability",
		Inputs:  []string{"soil", "def"},
		Compute: func(in []float64) (float64, bool) { return in[0] - in[1], true },
	},
}

// AddDerived returns a copy of a monthly table with a column for every
// derived index whose inputs are all columns of t. A derived value is
// missing unless every input of that row is present.
func AddDerived(t *Table) *Table {
	type plan struct {
		index  DerivedIndex
		inputs []int
	}
	var plans []plan
	for _, d := range DerivedIndices {
		p := plan{index: d}
		for _, in := range d.Inputs {
			i := t.ColumnIndex(in)
			if i < 0 {
				p.inputs = nil
				break
			}
			p.inputs = append(p.inputs, i)
		}
		if len(p.inputs) == len(d.Inputs) {
			plans = append(plans, p)
		}
	}

	out := &Table{Mode: t.Mode, Columns: append([]string(nil), t.Columns...)}
	for _, p := range plans {
		out.Columns = append(out.Columns, p.index.Name)
	}
	out.Rows = make([]Row, len(t.Rows))

	args := make([]float64, 0, 2)
	for r, row := range t.Rows {
		values := make([]domain.Value, len(out.Columns))
		copy(values, row.Values)
		for j, p := range plans {
			args = args[:0]
			for _, i := range p.inputs {
				v, ok := row.Values[i].Float()
				if !ok {
					break
				}
				args = append(args, v)
			}
			if len(args) != len(p.inputs) {
				continue
			}
			if v, ok := p.index.Compute(args); ok {
				values[len(t.Columns)+j] = domain.Some(v)
			}
		}
		out.Rows[r] = Row{Key: row.Key, Values: values}
	}
	return out
}
