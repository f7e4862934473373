// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package qemu

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// Resource defaults and limits.
const (
	DefaultCPUs     uint64 = 2
	DefaultMemoryMB uint64 = 4096

	MinMemoryMB uint64 = 128
	MaxMemoryMB uint64 = 1024 * 1024
	MinCPUs     uint64 = 1
	MaxCPUs     uint64 = 256
)

// Resources are the guest CPU and memory resources.
type Resources struct {
	CPUs     uint64
	MemoryMB uint64
}

// instanceTypes are the named shorthands for fixed resource pairs.
var instanceTypes = map[string]Resources{
	"u1.nano":     {CPUs: 1, MemoryMB: 512},
	"u1.micro":    {CPUs: 1, MemoryMB: 1024},
	"u1.small":    {CPUs: 1, MemoryMB: 2048},
	"u1.medium":   {CPUs: 1, MemoryMB: 4096},
	"u1.2xmedium": {CPUs: 2, MemoryMB: 4096},
	"u1.large":    {CPUs: 2, MemoryMB: 8192},
	"u1.xlarge":   {CPUs: 4, MemoryMB: 16384},
	"u1.2xlarge":  {CPUs: 8, MemoryMB: 32768},
	"u1.4xlarge":  {CPUs: 16, MemoryMB: 65536},
	"u1.8xlarge":  {CPUs: 32, MemoryMB: 131072},
}

// InstanceTypes returns the sorted names of all known instance types.
func InstanceTypes() []string {
	names := make([]string, 0, len(instanceTypes))
	for name := range instanceTypes {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// ParseMemory parses a memory size string into megabytes.
//
// A bare integer is interpreted as megabytes. Unit suffixes like "M", "G",
// "Gi" or "GiB" are binary units.
func ParseMemory(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	if mb, err := strconv.ParseUint(s, 10, 64); err == nil {
		return mb, nil
	}

	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, &ArgumentError{fmt.Sprintf("invalid memory size %q", s)}
	}

	if bytes < 0 {
		return 0, &ArgumentError{fmt.Sprintf("negative memory size %q", s)}
	}

	return uint64(bytes) / units.MiB, nil
}

// ResolveResources computes the guest resources.
//
// The instance type, if given, replaces the defaults. Explicit CPU and memory
// values take precedence over both.
func ResolveResources(instanceType string, cpus uint64, memory string) (Resources, error) {
	res := Resources{
		CPUs:     DefaultCPUs,
		MemoryMB: DefaultMemoryMB,
	}

	if instanceType != "" {
		typed, exists := instanceTypes[instanceType]
		if !exists {
			return Resources{}, &ArgumentError{
				fmt.Sprintf("unknown instance type %q, known: %s",
					instanceType, strings.Join(InstanceTypes(), ", ")),
			}
		}

		res = typed
	}

	if cpus != 0 {
		res.CPUs = cpus
	}

	if memory != "" {
		mb, err := ParseMemory(memory)
		if err != nil {
			return Resources{}, err
		}

		res.MemoryMB = mb
	}

	return res, res.Validate()
}

// Validate checks the resources are in the supported range.
func (r Resources) Validate() error {
	if r.MemoryMB < MinMemoryMB || r.MemoryMB > MaxMemoryMB {
		return &ArgumentError{fmt.Sprintf(
			"memory %d MB out of range [%d, %d]", r.MemoryMB, MinMemoryMB, MaxMemoryMB,
		)}
	}

	if r.CPUs < MinCPUs || r.CPUs > MaxCPUs {
		return &ArgumentError{fmt.Sprintf(
			"cpus %d out of range [%d, %d]", r.CPUs, MinCPUs, MaxCPUs,
		)}
	}

	return nil
}
