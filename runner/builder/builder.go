package builder

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case INT32:
		return "int32"
	case INT64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// AlignmentType specifies memory alignment requirements
type AlignmentType int

const (
	NoAlignment    AlignmentType = 1
	CacheLineAlign AlignmentType = 64
	WarpAlign      AlignmentType = 128
	PageAlign      AlignmentType = 4096
)

// ArraySpec defines user requirements for array allocation
type ArraySpec struct {
	Name      string
	Size      int64 // bytes
	Alignment AlignmentType
	DataType  DataType
	IsOutput  bool
}

// Builder manages code generation for partition-parallel Kernels.
// A partition holds K[part] points; every array carries a fixed number of
// values per point.
type Builder struct {
	// Partition configuration
	NumPartitions int
	K             []int
	KpartMax      int // Maximum K value across all partitions

	// Type configuration
	FloatType DataType
	IntType   DataType

	// Integer constants emitted as #define into every kernel
	Constants map[string]int

	// Array tracking for macro generation
	AllocatedArrays []string

	// Generated code
	KernelPreamble string
}

// Config holds configuration for creating a Builder
type Config struct {
	K         []int
	FloatType DataType
	IntType   DataType
	Constants map[string]int
}

// NewBuilder creates a new Builder instance
func NewBuilder(cfg Config) *Builder {
	if len(cfg.K) == 0 {
		panic("K array cannot be empty")
	}
	kpartMax := 0
	for i, k := range cfg.K {
		if k < 0 {
			panic(fmt.Sprintf("K[%d] is negative: %d", i, k))
		}
		if k > kpartMax {
			kpartMax = k
		}
	}
	floatType := cfg.FloatType
	if floatType == 0 {
		floatType = Float64
	}
	intType := cfg.IntType
	if intType == 0 {
		intType = INT64
	}
	kb := &Builder{
		NumPartitions:   len(cfg.K),
		K:               make([]int, len(cfg.K)),
		KpartMax:        kpartMax,
		FloatType:       floatType,
		IntType:         intType,
		Constants:       make(map[string]int),
		AllocatedArrays: []string{},
	}
	copy(kb.K, cfg.K)
	for name, v := range cfg.Constants {
		kb.Constants[name] = v
	}
	return kb
}

func (kb *Builder) GetAllocatedArrays() []string {
	return kb.AllocatedArrays
}

// GetTotalElements returns sum of all K values
func (kb *Builder) GetTotalElements() int {
	total := 0
	for _, k := range kb.K {
		total += k
	}
	return total
}

// CalculateAlignedOffsetsAndSize computes partition offsets with alignment.
// Offsets are returned in units of values, so ptr + offset addresses the
// start of a partition.
func (kb *Builder) CalculateAlignedOffsetsAndSize(spec ArraySpec) (
	[]int64, int64) {
	offsets := make([]int64, kb.NumPartitions+1)
	totalElements := kb.GetTotalElements()
	if totalElements == 0 {
		return offsets, 0
	}
	bytesPerElement := spec.Size / int64(totalElements)

	var valueSize int64
	switch spec.DataType {
	case Float32, INT32:
		valueSize = 4
	default:
		valueSize = 8
	}

	valuesPerElement := bytesPerElement / valueSize

	alignment := int64(spec.Alignment)
	if alignment == 0 {
		alignment = int64(NoAlignment)
	}
	currentByteOffset := int64(0)

	for i := 0; i < kb.NumPartitions; i++ {
		if currentByteOffset%alignment != 0 {
			currentByteOffset = ((currentByteOffset + alignment - 1) / alignment) * alignment
		}
		offsets[i] = currentByteOffset / valueSize

		partitionValues := int64(kb.K[i]) * valuesPerElement
		currentByteOffset += partitionValues * valueSize
	}

	// Final offset for bounds checking
	if currentByteOffset%alignment != 0 {
		currentByteOffset = ((currentByteOffset + alignment - 1) / alignment) * alignment
	}
	offsets[kb.NumPartitions] = currentByteOffset / valueSize

	return offsets, offsets[kb.NumPartitions] * valueSize
}

// GeneratePreamble generates the kernel preamble with types, constants and
// partition access macros
func (kb *Builder) GeneratePreamble() string {
	var sb strings.Builder

	sb.WriteString(kb.generateTypeDefinitions())
	sb.WriteString(kb.generateConstants())
	sb.WriteString(kb.generatePartitionMacros())

	kb.KernelPreamble = sb.String()
	return kb.KernelPreamble
}

// generateTypeDefinitions creates type definitions based on precision settings
func (kb *Builder) generateTypeDefinitions() string {
	var sb strings.Builder

	floatTypeStr := "double"
	floatSuffix := ""
	belowOne := strconv.FormatFloat(math.Nextafter(1, 0), 'g', 17, 64)
	if kb.FloatType == Float32 {
		floatTypeStr = "float"
		floatSuffix = "f"
		belowOne = strconv.FormatFloat(float64(math.Nextafter32(1, 0)), 'g', 9, 32)
	}

	intTypeStr := "long"
	if kb.IntType == INT32 {
		intTypeStr = "int"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", floatTypeStr))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", intTypeStr))
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString(fmt.Sprintf("#define REAL_ONE 1.0%s\n", floatSuffix))
	// largest real_t below one
	sb.WriteString(fmt.Sprintf("#define REAL_BELOW_ONE %s%s\n", belowOne, floatSuffix))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("#define NPART %d\n", kb.NumPartitions))
	sb.WriteString(fmt.Sprintf("#define KpartMax %d\n", kb.KpartMax))
	sb.WriteString("\n")

	return sb.String()
}

// generateConstants emits user constants in name order so the preamble is
// stable between builds
func (kb *Builder) generateConstants() string {
	if len(kb.Constants) == 0 {
		return ""
	}
	names := make([]string, 0, len(kb.Constants))
	for name := range kb.Constants {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("#define %s %d\n", name, kb.Constants[name]))
	}
	sb.WriteString("\n")
	return sb.String()
}

// generatePartitionMacros creates macros for partition data access
func (kb *Builder) generatePartitionMacros() string {
	var sb strings.Builder

	sb.WriteString("// Partition access macros\n")

	for _, arrayName := range kb.AllocatedArrays {
		sb.WriteString(fmt.Sprintf("#define %s_PART(part) (%s_global + %s_offsets[part])\n",
			arrayName, arrayName, arrayName))
	}

	if len(kb.AllocatedArrays) > 0 {
		sb.WriteString("\n")
	}

	return sb.String()
}

// GetIntSize returns the size of the integer type in bytes
func (kb *Builder) GetIntSize() int {
	if kb.IntType == INT32 {
		return 4
	}
	return 8
}
