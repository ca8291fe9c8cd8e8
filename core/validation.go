package core

import (
	"fmt"
	"math"
)

// ValidateVector checks a vector for basic correctness: non-empty and free
// of NaN/Inf values.
func ValidateVector(v []float32) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}

	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) {
			return fmt.Errorf("vector contains NaN at position %d", i)
		}
		if math.IsInf(f, 0) {
			return fmt.Errorf("vector contains Inf at position %d", i)
		}
	}

	return nil
}

// ValidateVectorDimension checks that a vector matches the expected
// dimension.
func ValidateVectorDimension(v []float32, dimension int) error {
	if len(v) != dimension {
		return NewDimensionError(dimension, len(v))
	}
	return nil
}

// ValidateUnitNorm checks the stored-vector invariant: unit norm within
// tolerance.
func ValidateUnitNorm(v []float32, tolerance float64) error {
	if err := ValidateVector(v); err != nil {
		return err
	}
	if !IsUnitNorm(v, tolerance) {
		return fmt.Errorf("vector norm %f is not unit within tolerance %g", Norm(v), tolerance)
	}
	return nil
}
