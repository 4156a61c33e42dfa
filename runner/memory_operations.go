package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/PBEKernel/runner/builder"
	"github.com/notargets/gocca"
)

// executeCopyActions is the copy engine used by all copy operations
func (kr *Runner) executeCopyActions(actions []ParameterUsage) error {
	for _, param := range actions {
		if param.Actions == NoAction {
			continue
		}

		if param.HasAction(CopyTo) {
			if err := kr.copyToDeviceFromBinding(param.Binding); err != nil {
				return fmt.Errorf("failed to copy %s to device: %w", param.Binding.Name, err)
			}
		}

		if param.HasAction(CopyBack) {
			if err := kr.copyFromDeviceFromBinding(param.Binding); err != nil {
				return fmt.Errorf("failed to copy %s from device: %w", param.Binding.Name, err)
			}
		}
	}
	return nil
}

// CopyToDevice copies a single parameter from host to device
func (kr *Runner) CopyToDevice(name string) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("binding %s not found", name)
	}

	return kr.executeCopyActions([]ParameterUsage{
		{Binding: binding, Actions: CopyTo},
	})
}

// CopyFromDevice copies a single parameter from device to host
func (kr *Runner) CopyFromDevice(name string) error {
	binding := kr.GetBinding(name)
	if binding == nil {
		return fmt.Errorf("binding %s not found", name)
	}

	return kr.executeCopyActions([]ParameterUsage{
		{Binding: binding, Actions: CopyBack},
	})
}

// copyToDeviceFromBinding performs host→device copy, one partition at a time
func (kr *Runner) copyToDeviceFromBinding(binding *DeviceBinding) error {
	if binding.HostBinding == nil || binding.IsScalar {
		return nil
	}

	mem := kr.GetMemory(binding.Name)
	if mem == nil {
		return fmt.Errorf("no device memory allocated for %s", binding.Name)
	}
	offsets, exists := kr.hostOffsets[binding.Name]
	if !exists {
		return fmt.Errorf("no offsets for %s", binding.Name)
	}

	parts, err := hostPartitions(binding.HostBinding)
	if err != nil {
		return err
	}
	valueSize := SizeOfType(binding.DeviceType)
	for i, part := range parts {
		if i >= kr.NumPartitions {
			break
		}
		if err := copyPartitionToDevice(part, mem, offsets[i]*valueSize, binding.DeviceType); err != nil {
			return fmt.Errorf("partition %d: %w", i, err)
		}
	}
	return nil
}

// copyFromDeviceFromBinding performs device→host copy, one partition at a time
func (kr *Runner) copyFromDeviceFromBinding(binding *DeviceBinding) error {
	if binding.HostBinding == nil || binding.IsScalar {
		return nil
	}

	mem := kr.GetMemory(binding.Name)
	if mem == nil {
		return fmt.Errorf("no device memory allocated for %s", binding.Name)
	}
	offsets, exists := kr.hostOffsets[binding.Name]
	if !exists {
		return fmt.Errorf("no offsets for %s", binding.Name)
	}

	parts, err := hostPartitions(binding.HostBinding)
	if err != nil {
		return err
	}
	valueSize := SizeOfType(binding.DeviceType)
	for i, part := range parts {
		if i >= kr.NumPartitions {
			break
		}
		if err := copyPartitionFromDevice(mem, offsets[i]*valueSize, part, binding.DeviceType); err != nil {
			return fmt.Errorf("partition %d: %w", i, err)
		}
	}
	return nil
}

// hostPartitions views flat host data as a single partition
func hostPartitions(hostData interface{}) ([]interface{}, error) {
	switch data := hostData.(type) {
	case []float64, []float32, []int32, []int64:
		return []interface{}{data}, nil
	case [][]float64:
		parts := make([]interface{}, len(data))
		for i := range data {
			parts[i] = data[i]
		}
		return parts, nil
	case [][]float32:
		parts := make([]interface{}, len(data))
		for i := range data {
			parts[i] = data[i]
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported host type: %T", hostData)
	}
}

// copyPartitionToDevice writes one host slice at offsetBytes, converting
// floating point precision when the device type differs
func copyPartitionToDevice(hostData interface{}, mem *gocca.OCCAMemory,
	offsetBytes int64, deviceType builder.DataType) error {

	switch data := hostData.(type) {
	case []float64:
		if len(data) == 0 {
			return nil
		}
		if deviceType == builder.Float32 {
			converted := make([]float32, len(data))
			for i, v := range data {
				converted[i] = float32(v)
			}
			mem.CopyFromWithOffset(unsafe.Pointer(&converted[0]), int64(len(converted)*4), offsetBytes)
			return nil
		}
		mem.CopyFromWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*8), offsetBytes)
	case []float32:
		if len(data) == 0 {
			return nil
		}
		if deviceType == builder.Float64 {
			converted := make([]float64, len(data))
			for i, v := range data {
				converted[i] = float64(v)
			}
			mem.CopyFromWithOffset(unsafe.Pointer(&converted[0]), int64(len(converted)*8), offsetBytes)
			return nil
		}
		mem.CopyFromWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*4), offsetBytes)
	case []int32:
		if len(data) == 0 {
			return nil
		}
		if deviceType != builder.INT32 {
			return fmt.Errorf("unsupported conversion from int32 to %v", deviceType)
		}
		mem.CopyFromWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*4), offsetBytes)
	case []int64:
		if len(data) == 0 {
			return nil
		}
		if deviceType != builder.INT64 {
			return fmt.Errorf("unsupported conversion from int64 to %v", deviceType)
		}
		mem.CopyFromWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*8), offsetBytes)
	default:
		return fmt.Errorf("unsupported host type: %T", hostData)
	}
	return nil
}

// copyPartitionFromDevice reads one partition at offsetBytes into a host slice
func copyPartitionFromDevice(mem *gocca.OCCAMemory, offsetBytes int64,
	hostData interface{}, deviceType builder.DataType) error {

	switch data := hostData.(type) {
	case []float64:
		if len(data) == 0 {
			return nil
		}
		if deviceType == builder.Float32 {
			deviceData := make([]float32, len(data))
			mem.CopyToWithOffset(unsafe.Pointer(&deviceData[0]), int64(len(deviceData)*4), offsetBytes)
			for i, v := range deviceData {
				data[i] = float64(v)
			}
			return nil
		}
		mem.CopyToWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*8), offsetBytes)
	case []float32:
		if len(data) == 0 {
			return nil
		}
		if deviceType == builder.Float64 {
			deviceData := make([]float64, len(data))
			mem.CopyToWithOffset(unsafe.Pointer(&deviceData[0]), int64(len(deviceData)*8), offsetBytes)
			for i, v := range deviceData {
				data[i] = float32(v)
			}
			return nil
		}
		mem.CopyToWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*4), offsetBytes)
	case []int32:
		if len(data) == 0 {
			return nil
		}
		if deviceType != builder.INT32 {
			return fmt.Errorf("unsupported conversion from device %v to int32", deviceType)
		}
		mem.CopyToWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*4), offsetBytes)
	case []int64:
		if len(data) == 0 {
			return nil
		}
		if deviceType != builder.INT64 {
			return fmt.Errorf("unsupported conversion from device %v to int64", deviceType)
		}
		mem.CopyToWithOffset(unsafe.Pointer(&data[0]), int64(len(data)*8), offsetBytes)
	default:
		return fmt.Errorf("unsupported host type: %T", hostData)
	}
	return nil
}
