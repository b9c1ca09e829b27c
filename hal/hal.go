// Package hal is the boundary to the vendor camera hardware module.
//
// A Module enumerates cameras and opens HardwareDevices by id string. The
// device delivers preview frames from a thread it owns through the preview
// callback; nothing in this package schedules work on its own.
package hal

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ModuleID is the id the camera module is registered under
const ModuleID = "camera"

var (
	ErrModuleNotFound = errors.New("hal: module not found")
	ErrInvalidCamera  = errors.New("hal: invalid camera index")
)

// Facing is the direction a camera points to
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

// String returns a human-readable string representation of the facing
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// APIVersion packs a major/minor module API version the way the HAL
// headers do.
type APIVersion uint16

// MakeAPIVersion builds a version from its parts
func MakeAPIVersion(major, minor uint8) APIVersion {
	return APIVersion(uint16(major)<<8 | uint16(minor))
}

var (
	ModuleAPIVersion1_0 = MakeAPIVersion(1, 0)
	ModuleAPIVersion2_0 = MakeAPIVersion(2, 0)
)

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d", v>>8, v&0xff)
}

// CameraInfo describes one camera
type CameraInfo struct {
	Facing Facing
	// Orientation of the sensor in degrees (0, 90, 180, 270)
	Orientation int
}

// PreviewFrame is one captured preview image. Release must be called once
// the memory is no longer needed.
type PreviewFrame struct {
	Data      []byte
	Timestamp time.Duration
	Release   func()
}

// PreviewCallback receives frames on the HAL thread
type PreviewCallback func(PreviewFrame)

// Module is the camera hardware module
type Module interface {
	APIVersion() APIVersion
	NumberOfCameras() int
	CameraInfo(index int) (CameraInfo, error)
	Open(id string) (HardwareDevice, error)
}

// HardwareDevice is one opened camera
type HardwareDevice interface {
	SetPreviewCallback(cb PreviewCallback)
	// SetParameters applies a flattened CameraParameters string
	SetParameters(flat string) error
	GetParameters() string
	StartPreview() error
	StopPreview()
	SendCommand(cmd, arg1, arg2 int32) error
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Module{}
)

// Register makes a module available to GetModule. Registering nil removes
// the entry.
func Register(id string, m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if m == nil {
		delete(registry, id)
		return
	}
	registry[id] = m
}

// GetModule returns the module registered under id
func GetModule(id string) (Module, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return m, nil
}
