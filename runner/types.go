package runner

import (
	"sort"

	"github.com/notargets/PBEKernel/runner/builder"
)

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt builder.DataType) int64 {
	switch dt {
	case builder.Float32, builder.INT32:
		return 4
	default:
		return 8
	}
}

// GetScalarTypeName returns the C type name for scalar parameters
func GetScalarTypeName(dt builder.DataType) string {
	switch dt {
	case builder.Float32:
		return "float"
	case builder.INT32:
		return "int"
	case builder.INT64:
		return "long"
	default:
		return "double"
	}
}

// SortStrings is a simple wrapper around sort.Strings
func SortStrings(strings []string) {
	sort.Strings(strings)
}
