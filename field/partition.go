package field

import (
	"fmt"
)

// SplitK divides n points into parts partitions whose sizes differ by at most one
func SplitK(n, parts int) []int {
	if parts < 1 {
		parts = 1
	}
	if parts > n && n > 0 {
		parts = n
	}
	k := make([]int, parts)
	base, extra := n/parts, n%parts
	for i := range k {
		k[i] = base
		if i < extra {
			k[i]++
		}
	}
	return k
}

// Partition splits f into consecutive slices of K[i]*stride values. The
// slices alias f, so writes through them land in f.
func Partition(f []float64, K []int, stride int) ([][]float64, error) {
	total := 0
	for _, k := range K {
		total += k
	}
	if total*stride != len(f) {
		return nil, fmt.Errorf("%w: %d values do not cover %d points with stride %d",
			ErrShapeMismatch, len(f), total, stride)
	}
	parts := make([][]float64, len(K))
	start := 0
	for i, k := range K {
		end := start + k*stride
		parts[i] = f[start:end:end]
		start = end
	}
	return parts, nil
}

// Interleave packs fields point-major: out[p*len(fields)+i] = fields[i][p]
func Interleave(fields []Field) ([]float64, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	n := len(fields[0])
	for i, f := range fields {
		if len(f) != n {
			return nil, fmt.Errorf("%w: field %d has %d values, expected %d",
				ErrShapeMismatch, i, len(f), n)
		}
	}
	stride := len(fields)
	out := make([]float64, n*stride)
	for i, f := range fields {
		for p, v := range f {
			out[p*stride+i] = v
		}
	}
	return out, nil
}
