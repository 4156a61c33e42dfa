package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/PBEKernel/runner/builder"
	"github.com/notargets/gocca"
	"github.com/sirupsen/logrus"
)

// ArrayMetadata stores information about allocated arrays
type ArrayMetadata struct {
	spec     builder.ArraySpec
	dataType builder.DataType
	isOutput bool
}

// Runner orchestrates kernel compilation and execution over partitioned
// device arrays
type Runner struct {
	*builder.Builder
	IsPartitioned bool
	IsAllocated   bool
	Device        *gocca.OCCADevice
	Kernels       map[string]*gocca.OCCAKernel
	PooledMemory  map[string]*gocca.OCCAMemory
	Bindings      map[string]*DeviceBinding
	KernelConfigs map[string]*KernelConfig
	Log           logrus.FieldLogger
	arrayMetadata map[string]ArrayMetadata
	hostOffsets   map[string][]int64
}

const (
	// MaxInner bounds KpartMax on host backends (2^20)
	MaxInner = 1 << 20
	// MaxInnerGPU is the thread block limit on GPU backends
	MaxInnerGPU = 1024
)

// InnerLimit returns the largest KpartMax a backend mode can run
func InnerLimit(mode string) int {
	switch mode {
	case "CUDA", "HIP", "OpenCL":
		return MaxInnerGPU
	default:
		return MaxInner
	}
}

// NewRunner creates a new Runner instance
func NewRunner(device *gocca.OCCADevice, Config builder.Config) (kr *Runner) {
	if device == nil {
		panic("device cannot be nil")
	}
	bld := builder.NewBuilder(Config)

	if limit := InnerLimit(device.Mode()); bld.KpartMax > limit {
		panic(fmt.Sprintf("KpartMax exceeds the %s @inner limit (%d), usually caused by unbalanced workloads.\n"+
			"Found KpartMax=%d. Please balance K values or increase partition count.\n"+
			"Current K values: %v", device.Mode(), limit, bld.KpartMax, bld.K))
	}

	kr = &Runner{
		Builder:       bld,
		IsPartitioned: len(Config.K) > 1,
		Device:        device,
		Kernels:       make(map[string]*gocca.OCCAKernel),
		PooledMemory:  make(map[string]*gocca.OCCAMemory),
		Bindings:      make(map[string]*DeviceBinding),
		KernelConfigs: make(map[string]*KernelConfig),
		Log:           logrus.StandardLogger(),
		arrayMetadata: make(map[string]ArrayMetadata),
		hostOffsets:   make(map[string][]int64),
	}

	kr.PooledMemory["K"] = kr.mallocInts(bld.K)
	return
}

// mallocInts allocates an int_t array on the device holding vals
func (kr *Runner) mallocInts(vals []int) *gocca.OCCAMemory {
	if kr.GetIntSize() == 4 {
		v32 := make([]int32, len(vals))
		for i, v := range vals {
			v32[i] = int32(v)
		}
		return kr.Device.Malloc(int64(len(v32)*4), unsafe.Pointer(&v32[0]), nil)
	}
	v64 := make([]int64, len(vals))
	for i, v := range vals {
		v64[i] = int64(v)
	}
	return kr.Device.Malloc(int64(len(v64)*8), unsafe.Pointer(&v64[0]), nil)
}

// BuildKernel compiles and registers a kernel with the program
func (kr *Runner) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	kr.GeneratePreamble()

	fullSource := kr.KernelPreamble + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error

	if kr.Device.Mode() == "OpenMP" {
		// OpenMP builds do not get -O3 by default
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", kernelName)
	}

	kr.Kernels[kernelName] = kernel
	kr.Log.WithFields(logrus.Fields{
		"kernel": kernelName,
		"mode":   kr.Device.Mode(),
	}).Debug("kernel built")
	return kernel, nil
}

// Free releases all resources
func (kr *Runner) Free() {
	for _, kernel := range kr.Kernels {
		kernel.Free()
	}
	for _, mem := range kr.PooledMemory {
		mem.Free()
	}
	kr.Kernels = make(map[string]*gocca.OCCAKernel)
	kr.PooledMemory = make(map[string]*gocca.OCCAMemory)
}

// GetMemory returns the device memory for a named array
func (kr *Runner) GetMemory(arrayName string) *gocca.OCCAMemory {
	if mem, exists := kr.PooledMemory[arrayName+"_global"]; exists {
		return mem
	}
	return nil
}

// GetOffsets returns the offset memory for a named array
func (kr *Runner) GetOffsets(arrayName string) *gocca.OCCAMemory {
	if mem, exists := kr.PooledMemory[arrayName+"_offsets"]; exists {
		return mem
	}
	return nil
}

// GetAllocatedArrays returns a sorted list of allocated array names
func (kr *Runner) GetAllocatedArrays() []string {
	arrays := make([]string, 0, len(kr.arrayMetadata))
	for name := range kr.arrayMetadata {
		arrays = append(arrays, name)
	}
	SortStrings(arrays)
	return arrays
}

// GetArrayType returns the data type of an allocated array
func (kr *Runner) GetArrayType(name string) (builder.DataType, error) {
	metadata, exists := kr.arrayMetadata[name]
	if !exists {
		return 0, fmt.Errorf("array %s not found", name)
	}
	return metadata.dataType, nil
}

// GetArrayLogicalSize returns the number of values in an array, excluding
// alignment padding
func (kr *Runner) GetArrayLogicalSize(name string) (int, error) {
	metadata, exists := kr.arrayMetadata[name]
	if !exists {
		return 0, fmt.Errorf("array %s not found", name)
	}
	return int(metadata.spec.Size / SizeOfType(metadata.dataType)), nil
}

// allocateSingleArray allocates global memory and the offset table for spec
func (kr *Runner) allocateSingleArray(spec builder.ArraySpec) error {
	offsets, totalSize := kr.CalculateAlignedOffsetsAndSize(spec)
	if totalSize == 0 {
		return fmt.Errorf("array %s has zero size", spec.Name)
	}

	kr.PooledMemory[spec.Name+"_global"] = kr.Device.Malloc(totalSize, nil, nil)

	offsetInts := make([]int, len(offsets))
	for i, v := range offsets {
		offsetInts[i] = int(v)
	}
	kr.PooledMemory[spec.Name+"_offsets"] = kr.mallocInts(offsetInts)

	kr.hostOffsets[spec.Name] = make([]int64, len(offsets))
	copy(kr.hostOffsets[spec.Name], offsets)

	if err := kr.validateOffsets(spec.Name, "after allocation"); err != nil {
		return fmt.Errorf("offset corruption detected immediately after allocation: %w", err)
	}

	kr.AllocatedArrays = append(kr.AllocatedArrays, spec.Name)
	kr.arrayMetadata[spec.Name] = ArrayMetadata{
		spec:     spec,
		dataType: spec.DataType,
		isOutput: spec.IsOutput,
	}

	return nil
}

// validateOffsets compares the device offset table for name with the host copy
func (kr *Runner) validateOffsets(name string, context string) error {
	expectedOffsets, exists := kr.hostOffsets[name]
	if !exists {
		return fmt.Errorf("no host offsets found for %s", name)
	}

	offsetsMem := kr.PooledMemory[name+"_offsets"]
	if offsetsMem == nil {
		return fmt.Errorf("no device offsets found for %s", name)
	}

	actualOffsets := make([]int64, len(expectedOffsets))
	if kr.GetIntSize() == 4 {
		offsets32 := make([]int32, len(expectedOffsets))
		offsetsMem.CopyTo(unsafe.Pointer(&offsets32[0]), int64(len(offsets32)*4))
		for i, v := range offsets32 {
			actualOffsets[i] = int64(v)
		}
	} else {
		offsetsMem.CopyTo(unsafe.Pointer(&actualOffsets[0]), int64(len(actualOffsets)*8))
	}

	for i := range expectedOffsets {
		if expectedOffsets[i] != actualOffsets[i] {
			kr.Log.WithFields(logrus.Fields{
				"array":    name,
				"context":  context,
				"expected": expectedOffsets,
				"actual":   actualOffsets,
			}).Error("offset corruption detected")
			return fmt.Errorf("offset[%d] corrupted: expected %d, got %d",
				i, expectedOffsets[i], actualOffsets[i])
		}
	}

	return nil
}
