// Package device drives one opened camera through its lifecycle:
// open, init, start, stop, deinit, close.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/moralrecordings/gst-droid/hal"
)

var (
	ErrDeviceNotOpen  = errors.New("device: not open")
	ErrDeviceOpen     = errors.New("device: already open")
	ErrNotInitialized = errors.New("device: not initialized")
	ErrStillStreaming = errors.New("device: preview still running")
	ErrNilModule      = errors.New("device: nil hardware module")
	ErrNoPreviewSize  = errors.New("device: no preview size")
)

// Device is the camera device handle. Methods are safe for concurrent use.
type Device struct {
	module hal.Module
	log    zerolog.Logger
	pool   *Pool

	mu          sync.Mutex
	hw          hal.HardwareDevice
	id          string
	params      *hal.CameraParameters
	initialized bool
	started     bool
}

// New creates a closed device bound to module
func New(module hal.Module, log zerolog.Logger) *Device {
	return &Device{
		module: module,
		log:    log,
		pool:   newPool(log),
	}
}

// Pool returns the buffer pool preview frames are delivered through
func (d *Device) Pool() *Pool {
	return d.pool
}

// ID returns the hardware id of the opened camera, or "" when closed
func (d *Device) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Open opens camera id and reads its parameters
func (d *Device) Open(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.module == nil {
		return ErrNilModule
	}
	if d.hw != nil {
		return fmt.Errorf("%w: %s", ErrDeviceOpen, d.id)
	}

	hw, err := d.module.Open(id)
	if err != nil {
		return fmt.Errorf("device: open camera %s: %w", id, err)
	}

	d.hw = hw
	d.id = id
	d.params = hal.Unflatten(hw.GetParameters())
	d.log.Info().Str("camera", id).Msg("camera opened")
	return nil
}

// Init hooks the preview callback up to the pool
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hw == nil {
		return ErrDeviceNotOpen
	}
	d.hw.SetPreviewCallback(d.pool.handleFrame)
	d.initialized = true
	return nil
}

// Start pushes the parameters to the camera and starts the preview
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hw == nil {
		return ErrDeviceNotOpen
	}
	if !d.initialized {
		return ErrNotInitialized
	}
	if d.started {
		return nil
	}

	if err := d.hw.SetParameters(d.params.Flatten()); err != nil {
		return fmt.Errorf("device: set parameters: %w", err)
	}

	rate, _ := d.params.Int(hal.KeyPreviewFrameRate)
	d.pool.reset(rate)

	if err := d.hw.StartPreview(); err != nil {
		return fmt.Errorf("device: start preview: %w", err)
	}
	d.started = true
	d.log.Info().Str("camera", d.id).Int("fps", rate).Msg("preview started")
	return nil
}

// Stop stops the preview. Stopping a stopped device is a no-op.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hw == nil || !d.started {
		return
	}
	d.hw.StopPreview()
	d.started = false
	d.log.Info().Str("camera", d.id).Msg("preview stopped")
}

// Deinit detaches the preview callback. The preview must be stopped.
func (d *Device) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrStillStreaming
	}
	if d.hw != nil {
		d.hw.SetPreviewCallback(nil)
	}
	d.initialized = false
	return nil
}

// Close releases the opened camera
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	if d.hw == nil {
		return nil
	}
	if d.started {
		d.hw.StopPreview()
		d.started = false
	}

	err := d.hw.Close()
	d.log.Info().Str("camera", d.id).Msg("camera closed")
	d.hw = nil
	d.id = ""
	d.params = nil
	d.initialized = false
	if err != nil {
		return fmt.Errorf("device: close: %w", err)
	}
	return nil
}

// Destroy closes the camera if needed and unbinds the pool
func (d *Device) Destroy() {
	d.mu.Lock()
	if err := d.closeLocked(); err != nil {
		d.log.Warn().Err(err).Msg("close on destroy failed")
	}
	d.mu.Unlock()

	d.pool.SetTarget(nil)
}

// SendCommand forwards a vendor command to the camera
func (d *Device) SendCommand(cmd, arg1, arg2 int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hw == nil {
		return ErrDeviceNotOpen
	}
	d.log.Debug().Int32("cmd", cmd).Int32("arg1", arg1).Int32("arg2", arg2).Msg("send command")
	if err := d.hw.SendCommand(cmd, arg1, arg2); err != nil {
		return fmt.Errorf("device: command %d: %w", cmd, err)
	}
	return nil
}

// Params returns the parameter store of the opened camera, or nil
func (d *Device) Params() *hal.CameraParameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// SetParameter changes one parameter in the store. The camera sees it on
// the next CommitParameters or Start.
func (d *Device) SetParameter(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.params == nil {
		return ErrDeviceNotOpen
	}
	d.params.Set(key, value)
	return nil
}

// CommitParameters pushes the parameter store to the camera
func (d *Device) CommitParameters() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hw == nil {
		return ErrDeviceNotOpen
	}
	if err := d.hw.SetParameters(d.params.Flatten()); err != nil {
		return fmt.Errorf("device: set parameters: %w", err)
	}
	return nil
}
