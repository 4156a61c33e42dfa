package efficiency

import (
	"fmt"

	"github.com/notargets/PBEKernel/field"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Result holds nEnv² efficiency fields, pair (i, j) at ResultIndex(i, j, NEnv)
type Result struct {
	NEnv      int
	NumPoints int
	Values    []field.Field
}

// NewResult allocates zeroed output fields
func NewResult(nEnv, numPoints int) *Result {
	r := &Result{
		NEnv:      nEnv,
		NumPoints: numPoints,
		Values:    make([]field.Field, nEnv*nEnv),
	}
	for idx := range r.Values {
		r.Values[idx] = make(field.Field, numPoints)
	}
	return r
}

// At returns the efficiency field of pair (i, j)
func (r *Result) At(i, j int) field.Field {
	if i < 0 || i >= r.NEnv || j < 0 || j >= r.NEnv {
		panic(fmt.Sprintf("pair (%d, %d) out of range for nEnv=%d", i, j, r.NEnv))
	}
	return r.Values[ResultIndex(i, j, r.NEnv)]
}

// Matrix returns the nEnv×nEnv efficiency matrix at one point
func (r *Result) Matrix(point int) *mat.Dense {
	if point < 0 || point >= r.NumPoints {
		panic(fmt.Sprintf("point %d out of range [0, %d)", point, r.NumPoints))
	}
	data := make([]float64, r.NEnv*r.NEnv)
	for idx, f := range r.Values {
		data[idx] = f[point]
	}
	return mat.NewDense(r.NEnv, r.NEnv, data)
}

// Range returns the smallest and largest efficiency over all pairs and points
func (r *Result) Range() (lo, hi float64) {
	if r.NumPoints == 0 || len(r.Values) == 0 {
		return 0, 0
	}
	lo, hi = r.Values[0][0], r.Values[0][0]
	for _, f := range r.Values {
		lo = min(lo, floats.Min(f))
		hi = max(hi, floats.Max(f))
	}
	return lo, hi
}

// EqualApprox reports whether r and other agree within tol everywhere
func (r *Result) EqualApprox(other *Result, tol float64) bool {
	if r.NEnv != other.NEnv || r.NumPoints != other.NumPoints {
		return false
	}
	for idx := range r.Values {
		if !floats.EqualApprox(r.Values[idx], other.Values[idx], tol) {
			return false
		}
	}
	return true
}
