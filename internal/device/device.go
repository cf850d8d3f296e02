// Package device defines the narrow accelerator query contract used by the
// sampler, together with the amdgpu (sysfs) and NVML backends.
package device

import (
	"errors"
	"fmt"
)

// Backend names accepted by Resolve.
const (
	BackendAuto   = "auto"
	BackendAMDGPU = "amdgpu"
	BackendNVML   = "nvml"
)

// ErrClosed is returned when a handle is used or closed after Close.
var ErrClosed = errors.New("device handle closed")

// Usage is one instantaneous reading from a device.
type Usage struct {
	ComputeUtilPct float64
	MemUtilPct     float64
	MemUsedBytes   uint64
	MemTotalBytes  uint64
}

// Handle is an initialised monitoring context for a single device.
type Handle interface {
	Query() (Usage, error)
	Close() error
}

// Opener acquires a Handle.
type Opener interface {
	Open() (Handle, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Handle, error)

// Open calls f.
func (f OpenerFunc) Open() (Handle, error) {
	return f()
}

// Info identifies the device chosen for a run.
type Info struct {
	Backend string `json:"backend"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
}

// InitError reports that a monitoring handle could not be acquired.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("init device: %v", e.Err)
	}
	return fmt.Sprintf("%s: init device: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// QueryError reports a failed sample. It is transient: callers skip the
// sample and keep going.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query device: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
