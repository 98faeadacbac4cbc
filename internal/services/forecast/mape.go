package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MAPE returns the mean absolute percentage error as a fraction, over the rows whose
// actual value is positive. It is 0 when no actual is positive.
func MAPE(actual, predicted []float64) float64 {
	errs := make([]float64, 0, len(actual))
	for i, a := range actual {
		if a > 0 {
			errs = append(errs, math.Abs(a-predicted[i])/a)
		}
	}
	if len(errs) == 0 {
		return 0
	}
	return stat.Mean(errs, nil)
}

// clampNonNegative zeroes negative predictions in place.
func clampNonNegative(v []float64) {
	for i := range v {
		if v[i] < 0 {
			v[i] = 0
		}
	}
}
