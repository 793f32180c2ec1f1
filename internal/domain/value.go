package domain

import (
	"encoding/json"
	"math"
)

// Value is a climate measurement that may be missing.
// The zero value is missing.
type Value struct {
	v     float64
	valid bool
}

// Missing is the missing value.
var Missing = Value{}

// Some returns a present value. NaN and infinities are treated as missing.
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	return Value{v: v, valid: true}
}

// IsMissing reports whether the value is absent.
func (x Value) IsMissing() bool {
	return !x.valid
}

// Float returns the underlying number and whether it is present.
func (x Value) Float() (float64, bool) {
	return x.v, x.valid
}

// MarshalJSON encodes missing values as null.
func (x Value) MarshalJSON() ([]byte, error) {
	if !x.valid {
		return []byte("null"), nil
	}
	return json.Marshal(x.v)
}

// UnmarshalJSON decodes null as missing.
func (x *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*x = Missing
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*x = Some(f)
	return nil
}
