package runner

import (
	"fmt"
	"strings"

	"github.com/notargets/PBEKernel/runner/builder"
)

// KernelArgument represents a single kernel argument with metadata
type KernelArgument struct {
	Name        string
	Type        string // "int_t*", "real_t*", scalar type
	MemoryKey   string // Key in PooledMemory map
	IsConst     bool
	Category    string // "system", "array_data", "array_offset", "scalar"
	UserArgName string // For user arrays, the base name (e.g., "U" for "U_global")
}

// GetKernelArgumentsForConfig returns kernel arguments based on configuration.
// Order is K, then arrays in configuration order (data pointer followed by
// offsets), then scalars.
func (kr *Runner) GetKernelArgumentsForConfig(config *KernelConfig) []KernelArgument {
	var args []KernelArgument

	args = append(args, KernelArgument{
		Name:      "K",
		Type:      "int_t*",
		MemoryKey: "K",
		IsConst:   true,
		Category:  "system",
	})

	for _, usage := range config.Parameters {
		binding := usage.Binding
		if binding.IsScalar {
			continue
		}

		args = append(args, KernelArgument{
			Name:        binding.Name + "_global",
			Type:        pointerTypeName(binding.DeviceType),
			MemoryKey:   binding.Name + "_global",
			IsConst:     !binding.IsOutput,
			Category:    "array_data",
			UserArgName: binding.Name,
		})

		args = append(args, KernelArgument{
			Name:        binding.Name + "_offsets",
			Type:        "int_t*",
			MemoryKey:   binding.Name + "_offsets",
			IsConst:     true,
			Category:    "array_offset",
			UserArgName: binding.Name,
		})
	}

	for _, usage := range config.Parameters {
		if usage.Binding.IsScalar {
			args = append(args, KernelArgument{
				Name:     usage.Binding.Name,
				Type:     scalarTypeName(usage.Binding.DeviceType),
				IsConst:  true,
				Category: "scalar",
			})
		}
	}

	return args
}

func pointerTypeName(dt builder.DataType) string {
	switch dt {
	case builder.INT32, builder.INT64:
		return "int_t*"
	default:
		return "real_t*"
	}
}

func scalarTypeName(dt builder.DataType) string {
	switch dt {
	case builder.Float32, builder.Float64:
		return "real_t"
	default:
		return GetScalarTypeName(dt)
	}
}

// GetSignature generates the kernel parameter list for a configuration
func (kc *KernelConfig) GetSignature(kr *Runner) (string, error) {
	if kr == nil {
		return "", fmt.Errorf("nil runner")
	}
	args := kr.GetKernelArgumentsForConfig(kc)
	params := make([]string, 0, len(args))

	for _, karg := range args {
		constStr := ""
		if karg.IsConst {
			constStr = "const "
		}
		params = append(params, fmt.Sprintf("%s%s %s", constStr, karg.Type, karg.Name))
	}

	return strings.Join(params, ",\n\t"), nil
}
