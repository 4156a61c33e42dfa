package runner

import (
	"fmt"

	"github.com/notargets/PBEKernel/runner/builder"
	"github.com/sirupsen/logrus"
)

// ExecuteKernel executes a kernel using its configuration
func (kr *Runner) ExecuteKernel(name string, scalarValues ...interface{}) error {
	config, exists := kr.KernelConfigs[name]
	if !exists {
		return fmt.Errorf("kernel %s not configured - use ConfigureKernel first", name)
	}

	kernel, exists := kr.Kernels[name]
	if !exists {
		return fmt.Errorf("kernel %s not compiled - use BuildKernel first", name)
	}

	kr.checkOffsets("before kernel " + name)

	// Pre-kernel memory operations (CopyTo only)
	preCopyParams := make([]ParameterUsage, 0)
	for _, param := range config.Parameters {
		if param.HasAction(CopyTo) {
			preCopyParams = append(preCopyParams, ParameterUsage{
				Binding: param.Binding,
				Actions: CopyTo,
			})
		}
	}
	if err := kr.executeCopyActions(preCopyParams); err != nil {
		return fmt.Errorf("pre-kernel copy failed: %w", err)
	}

	args, err := kr.buildKernelArgumentsFromConfig(config, scalarValues)
	if err != nil {
		return fmt.Errorf("failed to build arguments: %w", err)
	}

	if err := kernel.RunWithArgs(args...); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}

	kr.Device.Finish()

	kr.checkOffsets("after kernel " + name)

	// Post-kernel memory operations (CopyBack only)
	postCopyParams := make([]ParameterUsage, 0)
	for _, param := range config.Parameters {
		if param.HasAction(CopyBack) {
			postCopyParams = append(postCopyParams, ParameterUsage{
				Binding: param.Binding,
				Actions: CopyBack,
			})
		}
	}
	if err := kr.executeCopyActions(postCopyParams); err != nil {
		return fmt.Errorf("post-kernel copy failed: %w", err)
	}

	return nil
}

// checkOffsets logs any offset table that no longer matches its host copy
func (kr *Runner) checkOffsets(context string) {
	for _, arrayName := range kr.GetAllocatedArrays() {
		if err := kr.validateOffsets(arrayName, context); err != nil {
			kr.Log.WithFields(logrus.Fields{
				"array":   arrayName,
				"context": context,
			}).WithError(err).Warn("offset validation failed")
		}
	}
}

// buildKernelArgumentsFromConfig builds kernel arguments using KernelConfig.
// Scalars use their bound value; unbound scalars consume scalarValues in
// configuration order.
func (kr *Runner) buildKernelArgumentsFromConfig(config *KernelConfig, scalarValues []interface{}) ([]interface{}, error) {
	kernelArgs := kr.GetKernelArgumentsForConfig(config)
	args := make([]interface{}, 0, len(kernelArgs))
	scalarIdx := 0

	for _, karg := range kernelArgs {
		switch karg.Category {
		case "system", "array_data", "array_offset":
			mem, exists := kr.PooledMemory[karg.MemoryKey]
			if !exists {
				return nil, fmt.Errorf("memory for %s not found", karg.MemoryKey)
			}
			args = append(args, mem)

		case "scalar":
			binding := kr.GetBinding(karg.Name)
			value := binding.HostBinding
			if value == nil {
				if scalarIdx >= len(scalarValues) {
					return nil, fmt.Errorf("scalar %s not provided", karg.Name)
				}
				value = scalarValues[scalarIdx]
				scalarIdx++
			}
			converted, err := kr.convertScalar(value, binding.DeviceType)
			if err != nil {
				return nil, fmt.Errorf("scalar %s: %w", karg.Name, err)
			}
			args = append(args, converted)
		}
	}

	return args, nil
}

// convertScalar casts a host scalar to the type declared in the kernel signature
func (kr *Runner) convertScalar(value interface{}, dt builder.DataType) (interface{}, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return nil, fmt.Errorf("unsupported scalar type %T", value)
	}

	switch dt {
	case builder.Float32:
		return float32(f), nil
	case builder.Float64:
		return f, nil
	case builder.INT32:
		return int32(f), nil
	case builder.INT64:
		return int64(f), nil
	default:
		return nil, fmt.Errorf("unsupported scalar device type %v", dt)
	}
}

// GetKernelSignatureForConfig generates kernel signature for a named kernel configuration
func (kr *Runner) GetKernelSignatureForConfig(kernelName string) (string, error) {
	config, exists := kr.KernelConfigs[kernelName]
	if !exists {
		return "", fmt.Errorf("kernel %s not configured", kernelName)
	}

	return config.GetSignature(kr)
}
