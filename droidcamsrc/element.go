package droidcamsrc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/internal/device"
	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/internal/pad"
	"github.com/moralrecordings/gst-droid/internal/quirks"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// Property names
const (
	PropCameraDevice    = "camera-device"
	PropMode            = "mode"
	PropReadyForCapture = "ready-for-capture"
)

// Element metadata
const (
	LongName    = "Camera source"
	Klass       = "Source/Video/Device"
	Description = "Android HAL camera source"
)

// MaxCameras is the number of cameras the element can address
const MaxCameras = 2

// Pad template caps
var (
	ViewfinderTemplate = pipeline.MustParseCaps(
		"video/x-raw(memory:DroidSurface), format={ENCODED, YV12}; video/x-raw")
	ImageTemplate = pipeline.MustParseCaps("image/jpeg")
	VideoTemplate = pipeline.NewAnyCaps()
)

// Element is the behaviour the pipeline host drives
type Element interface {
	GetProperty(name string) (any, error)
	SetProperty(name string, value any) error
	ChangeState(transition StateChange) StateChangeReturn
	Finalize()
}

var _ Element = (*CamSrc)(nil)

// ModuleLoader returns the camera hardware module
type ModuleLoader func() (hal.Module, error)

// Option configures a CamSrc
type Option func(*CamSrc)

// WithName sets the element name used in logs, stream ids and metrics
func WithName(name string) Option {
	return func(s *CamSrc) { s.name = name }
}

// WithModule uses m as the hardware module instead of the registry
func WithModule(m hal.Module) Option {
	return func(s *CamSrc) {
		s.loader = func() (hal.Module, error) { return m, nil }
	}
}

// WithModuleLoader overrides how the hardware module is acquired
func WithModuleLoader(fn ModuleLoader) Option {
	return func(s *CamSrc) { s.loader = fn }
}

// WithRegisterer exports the element metrics to reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *CamSrc) { s.reg = reg }
}

// WithQuirks uses an already loaded quirks table
func WithQuirks(t *quirks.Table) Option {
	return func(s *CamSrc) { s.quirks = t }
}

type cameraInfo struct {
	num         int
	direction   hal.Facing
	orientation int // quarter turns
}

// CamSrc is the camera source element
type CamSrc struct {
	name    string
	cfg     Config
	log     zerolog.Logger
	loader  ModuleLoader
	reg     prometheus.Registerer
	bus     msgbus.Bus
	quirks  *quirks.Table
	metrics *metrics

	vfsrc  *pad.Port
	imgsrc *pad.Port
	vidsrc *pad.Port
	pads   map[string]*pad.Port

	// camera the viewfinder negotiates against, read by the pad task
	vfDev atomic.Pointer[device.Device]

	// stateMu serialises state changes and guards everything below it up
	// to propMu
	stateMu   sync.Mutex
	state     State
	lastErr   error
	hw        hal.Module
	dev       *device.Device
	info      [MaxCameras]cameraInfo
	finalized bool

	propMu       sync.RWMutex
	cameraDevice CameraDevice
	mode         Mode

	// captureMu guards ready-for-capture
	captureMu       sync.Mutex
	readyForCapture bool
}

// New creates an element in the NULL state. cfg is validated (and
// defaulted) first.
func New(cfg Config, log zerolog.Logger, opts ...Option) (*CamSrc, error) {
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("droidcamsrc: invalid configuration: %w", err)
	}
	cameraDevice, _ := ParseCameraDevice(cfg.CameraDevice)
	mode, _ := ParseMode(cfg.Mode)

	s := &CamSrc{
		name:            "droidcamsrc0",
		cfg:             cfg,
		loader:          func() (hal.Module, error) { return hal.GetModule(hal.ModuleID) },
		bus:             msgbus.New(),
		state:           StateNull,
		cameraDevice:    cameraDevice,
		mode:            mode,
		readyForCapture: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.With().Str("element", s.name).Logger()

	if s.quirks == nil {
		table, err := quirks.Load(cfg.QuirksFile, s.log)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to load quirks file")
		}
		s.quirks = table
	}

	s.metrics = newMetrics(s.reg, s.name, s.poolDropped)
	s.metrics.setReady(true)

	s.vfsrc = s.newPad(pad.Viewfinder, ViewfinderTemplate)
	s.vfsrc.SetNegotiate(s.negotiateViewfinder)
	s.imgsrc = s.newPad(pad.Image, ImageTemplate)
	s.vidsrc = s.newPad(pad.Video, VideoTemplate)
	s.pads = map[string]*pad.Port{
		s.vfsrc.Name():  s.vfsrc,
		s.imgsrc.Name(): s.imgsrc,
		s.vidsrc.Name(): s.vidsrc,
	}

	return s, nil
}

func (s *CamSrc) newPad(kind pad.Kind, template pipeline.Caps) *pad.Port {
	return pad.New(pad.Options{
		Kind:                kind,
		Element:             s.name,
		Template:            template,
		MaxDeliveryFailures: s.cfg.maxDeliveryFailures(),
		Bus:                 s.bus,
		Metrics:             s.metrics.forPad(kind.Name()),
		Logger:              s.log,
	})
}

// Name returns the element name
func (s *CamSrc) Name() string { return s.name }

// Config returns the validated configuration
func (s *CamSrc) Config() Config { return s.cfg }

// Bus returns the bus the element posts messages on
func (s *CamSrc) Bus() msgbus.Bus { return s.bus }

// Quirks returns the quirks table
func (s *CamSrc) Quirks() *quirks.Table { return s.quirks }

// Pad returns the source pad called name (vfsrc, imgsrc, vidsrc)
func (s *CamSrc) Pad(name string) (*pad.Port, error) {
	p, ok := s.pads[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPad, name)
	}
	return p, nil
}

// Link connects a source pad to its downstream peer
func (s *CamSrc) Link(name string, peer pipeline.Peer) error {
	p, err := s.Pad(name)
	if err != nil {
		return err
	}
	p.SetPeer(peer)
	s.log.Debug().Str("pad", name).Msg("pad linked")
	return nil
}

// Stats returns a snapshot per pad
func (s *CamSrc) Stats() map[string]pad.Stats {
	out := make(map[string]pad.Stats, len(s.pads))
	for name, p := range s.pads {
		out[name] = p.Stats()
	}
	return out
}

// State returns the current state
func (s *CamSrc) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// CameraOrientation returns the sensor orientation of the selected camera
// in quarter turns, or false before the hardware is acquired.
func (s *CamSrc) CameraOrientation() (int, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.hw == nil {
		return 0, false
	}
	info, ok := s.cameraFor(s.CameraDevice())
	if !ok {
		return 0, false
	}
	return info.orientation, true
}

// CameraDevice returns the camera-device property
func (s *CamSrc) CameraDevice() CameraDevice {
	s.propMu.RLock()
	defer s.propMu.RUnlock()
	return s.cameraDevice
}

// Mode returns the mode property
func (s *CamSrc) Mode() Mode {
	s.propMu.RLock()
	defer s.propMu.RUnlock()
	return s.mode
}

// ReadyForCapture returns the ready-for-capture property
func (s *CamSrc) ReadyForCapture() bool {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	return s.readyForCapture
}

// GetProperty returns a property by name
func (s *CamSrc) GetProperty(name string) (any, error) {
	switch name {
	case PropCameraDevice:
		return s.CameraDevice(), nil
	case PropMode:
		return s.Mode(), nil
	case PropReadyForCapture:
		return s.ReadyForCapture(), nil
	default:
		s.log.Warn().Str("property", name).Msg("invalid property")
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
}

// SetProperty sets a property by name. camera-device and mode accept
// their typed value or its string form.
func (s *CamSrc) SetProperty(name string, value any) error {
	switch name {
	case PropCameraDevice:
		d, err := toCameraDevice(value)
		if err != nil {
			return err
		}
		s.propMu.Lock()
		s.cameraDevice = d
		s.propMu.Unlock()
		s.log.Debug().Stringer("camera_device", d).Msg("camera device set")
		return nil

	case PropMode:
		m, err := toMode(value)
		if err != nil {
			return err
		}
		s.propMu.Lock()
		s.mode = m
		s.propMu.Unlock()
		s.log.Debug().Stringer("mode", m).Msg("mode set")
		return nil

	case PropReadyForCapture:
		return fmt.Errorf("%w: %s", ErrReadOnlyProperty, name)

	default:
		s.log.Warn().Str("property", name).Msg("invalid property")
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
}

func toCameraDevice(v any) (CameraDevice, error) {
	switch x := v.(type) {
	case CameraDevice:
		if x != CameraDevicePrimary && x != CameraDeviceSecondary {
			return 0, fmt.Errorf("%w: camera-device %d", ErrInvalidPropertyValue, int(x))
		}
		return x, nil
	case string:
		return ParseCameraDevice(x)
	default:
		return 0, fmt.Errorf("%w: camera-device of type %T", ErrInvalidPropertyValue, v)
	}
}

func toMode(v any) (Mode, error) {
	switch x := v.(type) {
	case Mode:
		if x != ModeImage && x != ModeVideo {
			return 0, fmt.Errorf("%w: mode %d", ErrInvalidPropertyValue, int(x))
		}
		return x, nil
	case string:
		return ParseMode(x)
	default:
		return 0, fmt.Errorf("%w: mode of type %T", ErrInvalidPropertyValue, v)
	}
}

// setReadyForCaptureLocked flips the flag and notifies listeners. Caller holds
// captureMu.
func (s *CamSrc) setReadyForCaptureLocked(ready bool) {
	s.readyForCapture = ready
	s.metrics.setReady(ready)
	s.bus.Post(msgbus.Message{
		Type:     msgbus.TypePropertyNotify,
		Source:   s.name,
		Property: PropReadyForCapture,
		Value:    ready,
	})
}

// ApplyQuirk enables or disables a quirk on the opened camera
func (s *CamSrc) ApplyQuirk(id string, enable bool) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.dev == nil || s.dev.Params() == nil {
		return fmt.Errorf("droidcamsrc: apply quirk %s: %w", id, device.ErrDeviceNotOpen)
	}
	info, ok := s.cameraFor(s.CameraDevice())
	if !ok {
		return fmt.Errorf("droidcamsrc: apply quirk %s: %w", id, ErrCameraNotFound)
	}

	if err := s.quirks.Apply(s.dev, int(info.direction), id, enable); err != nil {
		return fmt.Errorf("droidcamsrc: apply quirk %s: %w", id, err)
	}
	return s.dev.CommitParameters()
}

// Finalize brings the element back to NULL and tears down the pads. The
// element cannot be used afterwards.
func (s *CamSrc) Finalize() {
	if s.State() != StateNull {
		if _, err := s.SetState(context.Background(), StateNull); err != nil {
			s.log.Warn().Err(err).Msg("failed to reach NULL on finalize")
		}
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true

	s.log.Debug().Msg("finalize")
	for _, p := range []*pad.Port{s.vfsrc, s.imgsrc, s.vidsrc} {
		p.Destroy()
	}
	s.metrics.unregister()
	s.bus.Close()
}

func (s *CamSrc) poolDropped() float64 {
	s.stateMu.Lock()
	dev := s.dev
	s.stateMu.Unlock()
	if dev == nil {
		return 0
	}
	return float64(dev.Pool().Stats().Dropped)
}
