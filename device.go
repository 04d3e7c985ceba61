package sngan_go

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// DeviceKind Kind of accelerator device
type DeviceKind uint16

const (
	DeviceCPU = DeviceKind(iota)
	DeviceGPU
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return fmt.Sprintf("device_kind_%d", k)
	}
}

// Device Identifier of single device, e.g. /gpu:1
type Device struct {
	Kind  DeviceKind
	Index int
}

func (d Device) String() string {
	return fmt.Sprintf("/%s:%d", d.Kind, d.Index)
}

// ParseDevice Parses strings like "/gpu:0", "cpu:1" or "gpu" (index 0)
func ParseDevice(s string) (Device, error) {
	str := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
	parts := strings.SplitN(str, ":", 2)
	device := Device{}
	switch parts[0] {
	case "cpu":
		device.Kind = DeviceCPU
	case "gpu":
		device.Kind = DeviceGPU
	default:
		return Device{}, configErrorf("unknown device kind in '%s'", s)
	}
	if len(parts) == 2 {
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return Device{}, configErrorf("bad device index in '%s': %v", s, err)
		}
		if idx < 0 {
			return Device{}, configErrorf("negative device index in '%s'", s)
		}
		device.Index = idx
	}
	return device, nil
}

// ParseDevices Parses comma-separated list of devices
func ParseDevices(s string) ([]Device, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	devices := make([]Device, 0, len(fields))
	for i, f := range fields {
		d, err := ParseDevice(f)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't parse device #%d", i)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Placement Explicit placement of single replica: compute runs on Compute, variables are stored on Storage.
type Placement struct {
	Compute Device
	Storage Device
}

func (p Placement) String() string {
	return fmt.Sprintf("compute=%s storage=%s", p.Compute, p.Storage)
}

// towerPlacements Replica i computes on devices[i] while every replica keeps weights on devices[0]
func towerPlacements(devices []Device) []Placement {
	placements := make([]Placement, len(devices))
	for i := range devices {
		placements[i] = Placement{Compute: devices[i], Storage: devices[0]}
	}
	return placements
}

// DiscoverDevices Returns n CPU devices. Fails when machine has less logical cores than requested.
func DiscoverDevices(n int) ([]Device, error) {
	if n <= 0 {
		return nil, configErrorf("number of devices must be positive, but got %d", n)
	}
	cores := cpuid.CPU.LogicalCores
	if cores > 0 && n > cores {
		return nil, configErrorf("requested %d devices, but only %d logical cores are available", n, cores)
	}
	devices := make([]Device, n)
	for i := range devices {
		devices[i] = Device{Kind: DeviceCPU, Index: i}
	}
	return devices, nil
}

// HostDescription Short description of host CPU, used in training logs
func HostDescription() string {
	features := []string{}
	if cpuid.CPU.Supports(cpuid.AVX2) {
		features = append(features, "avx2")
	}
	if cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ) {
		features = append(features, "avx512")
	}
	if cpuid.CPU.Supports(cpuid.ASIMD) {
		features = append(features, "asimd")
	}
	return fmt.Sprintf("%s (%d physical / %d logical cores, features: [%s])", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, strings.Join(features, " "))
}
