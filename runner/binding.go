package runner

import (
	"fmt"

	"github.com/notargets/PBEKernel/runner/builder"
)

// ActionFlags represents the memory operations to perform for a parameter
type ActionFlags int

const (
	// CopyTo copies host to device before kernel execution
	CopyTo ActionFlags = 1 << iota
	// CopyBack copies device to host after kernel execution
	CopyBack

	NoAction ActionFlags = 0
	Copy                 = CopyTo | CopyBack
)

// DeviceBinding represents a host↔device data binding
type DeviceBinding struct {
	Name string

	// HostBinding is []T, [][]T or a scalar
	HostBinding interface{}

	HostType   builder.DataType // Element type in host data
	DeviceType builder.DataType // Element type on device

	Size        int64 // Total number of values
	ElementSize int   // Size of each value in bytes on device

	IsPartitioned bool
	IsScalar      bool
	IsTemp        bool

	PartitionCount int
	PartitionSizes []int

	Alignment builder.AlignmentType
	IsOutput  bool

	ParamSpec *builder.ParamSpec
}

// ParameterUsage represents how a binding is used in a specific kernel or copy operation
type ParameterUsage struct {
	Binding *DeviceBinding
	Actions ActionFlags
}

// HasAction checks if a specific action is set
func (pu *ParameterUsage) HasAction(action ActionFlags) bool {
	return pu.Actions&action != 0
}

// DefineBindings establishes host↔device data relationships. Bindings are
// defined once, before AllocateDevice.
func (kr *Runner) DefineBindings(params ...*builder.ParamBuilder) error {
	if kr.IsAllocated {
		return fmt.Errorf("bindings cannot be defined after AllocateDevice has been called")
	}

	for i, p := range params {
		spec := p.Spec
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		if _, exists := kr.Bindings[spec.Name]; exists {
			return fmt.Errorf("binding %s already defined", spec.Name)
		}

		binding, err := kr.createBindingFromParam(&spec)
		if err != nil {
			return fmt.Errorf("failed to create binding for %s: %w", spec.Name, err)
		}
		kr.Bindings[spec.Name] = binding
	}

	return nil
}

// createBindingFromParam converts a ParamSpec into a DeviceBinding
func (kr *Runner) createBindingFromParam(spec *builder.ParamSpec) (*DeviceBinding, error) {
	binding := &DeviceBinding{
		Name:        spec.Name,
		HostBinding: spec.HostBinding,
		ParamSpec:   spec,
		Alignment:   spec.Alignment,
		IsOutput:    !spec.IsConst(),
		HostType:    spec.DataType,
		DeviceType:  kr.deviceTypeFor(spec.GetEffectiveType()),
		Size:        spec.Size,
	}

	switch spec.Direction {
	case builder.DirectionScalar:
		binding.IsScalar = true
		binding.Size = 1
		binding.ElementSize = int(SizeOfType(binding.DeviceType))
		return binding, nil

	case builder.DirectionTemp:
		binding.IsTemp = true
		binding.ElementSize = int(SizeOfType(binding.DeviceType))
		return binding, kr.checkPointMultiple(binding)
	}

	binding.ElementSize = int(SizeOfType(binding.DeviceType))
	binding.IsPartitioned = spec.IsPartitioned
	binding.PartitionCount = spec.PartitionCount

	if binding.IsPartitioned {
		if binding.PartitionCount != kr.NumPartitions {
			return nil, fmt.Errorf("partition count mismatch for %s: expected %d, got %d",
				spec.Name, kr.NumPartitions, binding.PartitionCount)
		}
		sizes, err := partitionSizes(spec.HostBinding)
		if err != nil {
			return nil, err
		}
		binding.PartitionSizes = sizes
	} else if kr.IsPartitioned {
		return nil, fmt.Errorf("non-partitioned array %s provided to partitioned kernel", spec.Name)
	}

	if err := kr.checkPointMultiple(binding); err != nil {
		return nil, err
	}

	// Every partition must hold the same number of values per point
	if binding.IsPartitioned {
		vpp := int(binding.Size) / kr.GetTotalElements()
		for i, n := range binding.PartitionSizes {
			if n != kr.K[i]*vpp {
				return nil, fmt.Errorf("partition %d of %s has %d values, expected %d",
					i, spec.Name, n, kr.K[i]*vpp)
			}
		}
	}

	return binding, nil
}

// deviceTypeFor places floating point data in the runner's real_t precision
func (kr *Runner) deviceTypeFor(dt builder.DataType) builder.DataType {
	if dt == builder.Float32 || dt == builder.Float64 {
		return kr.FloatType
	}
	return dt
}

func (kr *Runner) checkPointMultiple(binding *DeviceBinding) error {
	total := int64(kr.GetTotalElements())
	if total == 0 {
		return fmt.Errorf("runner has no points")
	}
	if binding.Size%total != 0 {
		return fmt.Errorf("array %s has %d values, not a multiple of %d points",
			binding.Name, binding.Size, total)
	}
	return nil
}

func partitionSizes(hostData interface{}) ([]int, error) {
	switch data := hostData.(type) {
	case [][]float64:
		sizes := make([]int, len(data))
		for i, p := range data {
			sizes[i] = len(p)
		}
		return sizes, nil
	case [][]float32:
		sizes := make([]int, len(data))
		for i, p := range data {
			sizes[i] = len(p)
		}
		return sizes, nil
	default:
		return nil, fmt.Errorf("unsupported partitioned type: %T", hostData)
	}
}

// GetBinding returns the binding for name, nil if undefined
func (kr *Runner) GetBinding(name string) *DeviceBinding {
	return kr.Bindings[name]
}

// AllocateDevice allocates device memory for every non-scalar binding
func (kr *Runner) AllocateDevice() error {
	if kr.IsAllocated {
		return fmt.Errorf("device already allocated")
	}

	names := make([]string, 0, len(kr.Bindings))
	for name, b := range kr.Bindings {
		if !b.IsScalar {
			names = append(names, name)
		}
	}
	SortStrings(names)

	for _, name := range names {
		b := kr.Bindings[name]
		spec := builder.ArraySpec{
			Name:      b.Name,
			Size:      b.Size * int64(b.ElementSize),
			Alignment: b.Alignment,
			DataType:  b.DeviceType,
			IsOutput:  b.IsOutput,
		}
		if err := kr.allocateSingleArray(spec); err != nil {
			return fmt.Errorf("failed to allocate %s: %w", name, err)
		}
	}

	kr.IsAllocated = true
	return nil
}
