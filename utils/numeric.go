package utils

import (
	"fmt"
	"math"
)

// Round rounds v to precision decimal places, halves away from zero.
func Round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

// ToFloat64 converts the numeric values found in feature properties.
// Properties decoded from JSON carry float64, locally built ones carry
// int.
func ToFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value '%v' is not numeric", v)
	}
}
