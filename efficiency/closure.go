package efficiency

import (
	"fmt"
	"math"
)

// closure computes the growth-rate ratio m1 at one point for the abscissa
// pair (ri, rj)
type closure func(l, g0, eps, rho, ri, rj float64) float64

func closureFor(model GrowthModel) (closure, error) {
	switch model {
	case BulkDiffusion, Monosurface:
		return sizeDependentRatio, nil
	case Constant, Kinetic:
		return sizeIndependentRatio, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownGrowthModel, model)
	}
}

// sizeDependentRatio is l*g0 / (dmax*rho*(ri+rj)^2*eps), dmax taking rj on ties
func sizeDependentRatio(l, g0, eps, rho, ri, rj float64) float64 {
	if !(rho > 0 && eps > 0) {
		return 0
	}
	dmax := rj
	if ri > rj {
		dmax = ri
	}
	s := ri + rj
	return clampRatio(l * g0 / (dmax * rho * s * s * eps))
}

// sizeIndependentRatio is l*g0 / (rho*(ri+rj)^2*eps)
func sizeIndependentRatio(l, g0, eps, rho, ri, rj float64) float64 {
	if !(rho > 0 && eps > 0) {
		return 0
	}
	s := ri + rj
	return clampRatio(l * g0 / (rho * s * s * eps))
}

// clampRatio maps negative and NaN ratios to zero. +Inf is kept and
// saturates in FromRatio.
func clampRatio(m1 float64) float64 {
	if !(m1 > 0) {
		return 0
	}
	return m1
}

// MaxEfficiency is the largest float64 below one. Ratios whose efficiency
// rounds to one, +Inf included, saturate here.
var MaxEfficiency = math.Nextafter(1, 0)

// Ratio returns the clamped growth-rate ratio m1 for one point. An
// unsupported model yields zero.
func Ratio(model GrowthModel, l, g0, eps, rho, ri, rj float64) float64 {
	fn, err := closureFor(model)
	if err != nil {
		return 0
	}
	return fn(l, g0, eps, rho, ri, rj)
}

// FromRatio maps m1 in [0, inf] onto an efficiency in [0, 1). The mapping
// is non-decreasing in m1; negative and NaN ratios give zero.
func FromRatio(m1 float64) float64 {
	if !(m1 > 0) {
		return 0
	}
	e := m1 / (1 + m1)
	if !(e < 1) {
		return MaxEfficiency
	}
	return e
}

// Efficiency returns the aggregation efficiency for one point
func Efficiency(model GrowthModel, l, g0, eps, rho, ri, rj float64) float64 {
	return FromRatio(Ratio(model, l, g0, eps, rho, ri, rj))
}
