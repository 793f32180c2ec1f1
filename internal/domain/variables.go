package domain

import "fmt"

// Variable describes a TerraClimate variable.
type Variable struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Units       string  `json:"units"`
	Min         float64 `json:"min"` // Lower plausible physical bound.
	Max         float64 `json:"max"` // Upper plausible physical bound.
}

// InRange reports whether v lies within the plausible bounds.
func (v Variable) InRange(x float64) bool {
	return x >= v.Min && x <= v.Max
}

// Variables lists the supported TerraClimate variables in canonical order.
// Bounds are rough global extremes used for range sanity checks.
var Variables = []Variable{
	{Name: "aet", Description: "Actual evapotranspiration", Units: "mm/month", Min: 0, Max: 500},
	{Name: "def", Description: "Climatic water deficit", Units: "mm/month", Min: 0, Max: 500},
	{Name: "pet", Description: "Reference evapotranspiration", Units: "mm/month", Min: 0, Max: 500},
	{Name: "ppt", Description: "Precipitation accumulation", Units: "mm/month", Min: 0, Max: 2000},
	{Name: "q", Description: "Runoff", Units: "mm/month", Min: 0, Max: 1000},
	{Name: "soil", Description: "Soil moisture at end of month", Units: "mm", Min: 0, Max: 1000},
	{Name: "srad", Description: "Downward surface shortwave radiation", Units: "W/m2", Min: 0, Max: 500},
	{Name: "swe", Description: "Snow water equivalent at end of month", Units: "mm", Min: 0, Max: 10000},
	{Name: "tmax", Description: "Maximum temperature", Units: "degC", Min: -50, Max: 60},
	{Name: "tmin", Description: "Minimum temperature", Units: "degC", Min: -80, Max: 50},
	{Name: "vap", Description: "Vapor pressure", Units: "kPa", Min: 0, Max: 100},
	{Name: "ws", Description: "Wind speed", Units: "m/s", Min: 0, Max: 50},
	{Name: "vpd", Description: "Vapor pressure deficit", Units: "kPa", Min: 0, Max: 10},
	{Name: "PDSI", Description: "Palmer Drought Severity Index", Units: "unitless", Min: -10, Max: 10},
}

var variablesByName = func() map[string]Variable {
	m := make(map[string]Variable, len(Variables))
	for _, v := range Variables {
		m[v.Name] = v
	}
	return m
}()

// LookupVariable returns the catalog entry for name.
func LookupVariable(name string) (Variable, bool) {
	v, ok := variablesByName[name]
	return v, ok
}

// VariableNames returns all catalog names in canonical order.
func VariableNames() []string {
	names := make([]string, len(Variables))
	for i, v := range Variables {
		names[i] = v.Name
	}
	return names
}

// CanonicalVariables validates names against the catalog and returns them
// de-duplicated in canonical order.
func CanonicalVariables(names []string) ([]string, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := variablesByName[n]; !ok {
			return nil, NewError(KindConfiguration, fmt.Sprintf("unknown variable: %s", n), nil)
		}
		want[n] = true
	}
	out := make([]string, 0, len(want))
	for _, v := range Variables {
		if want[v.Name] {
			out = append(out, v.Name)
		}
	}
	return out, nil
}
