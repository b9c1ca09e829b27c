// Package simhal is an in-process camera hardware module. Each opened
// device runs its own preview goroutine that produces frames at the
// configured preview-frame-rate, the way a vendor HAL thread would.
package simhal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moralrecordings/gst-droid/hal"
)

// DefaultParameters is what a freshly opened simulated camera reports
const DefaultParameters = "preview-size=320x240;" +
	"preview-size-values=320x240,640x480,1280x720;" +
	"preview-format=yuv420p;preview-format-values=yuv420p,yuv420sp;" +
	"preview-frame-rate=30;preview-frame-rate-values=15,30;" +
	"picture-size=1280x720;picture-format=jpeg"

var (
	ErrAlreadyOpen = errors.New("simhal: camera already open")
	ErrClosed      = errors.New("simhal: device closed")
	ErrInjected    = errors.New("simhal: injected failure")
)

// Camera describes one simulated sensor
type Camera struct {
	Info hal.CameraInfo
	// Parameters overrides DefaultParameters when not empty
	Parameters string
}

// Command is a recorded SendCommand call
type Command struct {
	Cmd, Arg1, Arg2 int32
}

// Module implements hal.Module
type Module struct {
	mu       sync.Mutex
	version  hal.APIVersion
	cameras  []Camera
	count    int
	opened   map[string]*Device
	failOpen bool
	failStrt bool

	framesOut atomic.Int64
}

// New creates a module exposing cameras in index order
func New(cameras ...Camera) *Module {
	return &Module{
		version: hal.ModuleAPIVersion1_0,
		cameras: cameras,
		count:   len(cameras),
		opened:  make(map[string]*Device),
	}
}

// SetAPIVersion changes the reported module API version
func (m *Module) SetAPIVersion(v hal.APIVersion) {
	m.mu.Lock()
	m.version = v
	m.mu.Unlock()
}

// SetNumberOfCameras overrides the reported camera count independently of
// the configured cameras.
func (m *Module) SetNumberOfCameras(n int) {
	m.mu.Lock()
	m.count = n
	m.mu.Unlock()
}

// FailOpen makes subsequent Open calls fail
func (m *Module) FailOpen(fail bool) {
	m.mu.Lock()
	m.failOpen = fail
	m.mu.Unlock()
}

// FailStartPreview makes StartPreview on devices opened afterwards fail
func (m *Module) FailStartPreview(fail bool) {
	m.mu.Lock()
	m.failStrt = fail
	m.mu.Unlock()
}

// OutstandingFrames returns how many delivered frames were not released yet
func (m *Module) OutstandingFrames() int64 {
	return m.framesOut.Load()
}

// Device returns the opened device for id, or nil
func (m *Module) Device(id string) *Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened[id]
}

func (m *Module) APIVersion() hal.APIVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *Module) NumberOfCameras() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Module) CameraInfo(index int) (hal.CameraInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.cameras) {
		return hal.CameraInfo{}, fmt.Errorf("%w: %d", hal.ErrInvalidCamera, index)
	}
	return m.cameras[index].Info, nil
}

func (m *Module) Open(id string) (hal.HardwareDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failOpen {
		return nil, ErrInjected
	}
	index, err := strconv.Atoi(id)
	if err != nil || index < 0 || index >= len(m.cameras) {
		return nil, fmt.Errorf("%w: %q", hal.ErrInvalidCamera, id)
	}
	if _, busy := m.opened[id]; busy {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}

	flat := m.cameras[index].Parameters
	if flat == "" {
		flat = DefaultParameters
	}
	d := &Device{
		module:    m,
		id:        id,
		params:    hal.Unflatten(flat),
		failStart: m.failStrt,
	}
	m.opened[id] = d
	return d, nil
}

func (m *Module) release(id string) {
	m.mu.Lock()
	delete(m.opened, id)
	m.mu.Unlock()
}

// Device implements hal.HardwareDevice
type Device struct {
	module    *Module
	id        string
	failStart bool

	mu       sync.Mutex
	params   *hal.CameraParameters
	cb       hal.PreviewCallback
	commands []Command
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *Device) SetPreviewCallback(cb hal.PreviewCallback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *Device) SetParameters(flat string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.params = hal.Unflatten(flat)
	return nil
}

func (d *Device) GetParameters() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params.Flatten()
}

func (d *Device) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.failStart {
		return ErrInjected
	}
	if d.cancel != nil {
		return nil
	}

	fps, ok := d.params.Int(hal.KeyPreviewFrameRate)
	if !ok || fps <= 0 {
		fps = 30
	}
	size, err := hal.ParseSize(firstOr(d.params, hal.KeyPreviewSize, "320x240"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.previewLoop(ctx, time.Second/time.Duration(fps), size.Width*size.Height*3/2)
	return nil
}

func (d *Device) StopPreview() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		d.wg.Wait()
	}
}

func (d *Device) SendCommand(cmd, arg1, arg2 int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.commands = append(d.commands, Command{Cmd: cmd, Arg1: arg1, Arg2: arg2})
	return nil
}

func (d *Device) Close() error {
	d.StopPreview()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.module.release(d.id)
	return nil
}

// Commands returns the commands received so far
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

// Parameter returns the current value of key as the HAL sees it
func (d *Device) Parameter(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, _ := d.params.Get(key)
	return v
}

func (d *Device) previewLoop(ctx context.Context, interval time.Duration, frameSize int) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	var seq byte

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.mu.Lock()
			cb := d.cb
			d.mu.Unlock()
			if cb == nil {
				continue
			}

			data := make([]byte, frameSize)
			if frameSize > 0 {
				data[0] = seq
			}
			seq++

			d.module.framesOut.Add(1)
			var once sync.Once
			cb(hal.PreviewFrame{
				Data:      data,
				Timestamp: now.Sub(start),
				Release: func() {
					once.Do(func() { d.module.framesOut.Add(-1) })
				},
			})
		}
	}
}

func firstOr(p *hal.CameraParameters, key, def string) string {
	if v, ok := p.Get(key); ok && v != "" {
		return v
	}
	return def
}
