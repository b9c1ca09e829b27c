package droidcamsrc

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/internal/device"
	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/internal/pad"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// ChangeState performs one adjacent transition
func (s *CamSrc) ChangeState(transition StateChange) StateChangeReturn {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.finalized {
		s.lastErr = ErrFinalized
		return StateChangeFailure
	}
	ret, err := s.changeStateLocked(transition)
	s.lastErr = err
	return ret
}

// LastError returns the cause of the last failed transition, if any
func (s *CamSrc) LastError() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastErr
}

// SetState walks the element one transition at a time until it reaches
// target. It stops at the first failure and returns its cause.
func (s *CamSrc) SetState(ctx context.Context, target State) (StateChangeReturn, error) {
	if target < StateNull || target > StatePlaying {
		return StateChangeFailure, fmt.Errorf("%w: target %s", ErrInvalidTransition, target)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.finalized {
		return StateChangeFailure, ErrFinalized
	}

	ret := StateChangeSuccess
	for s.state != target {
		if err := ctx.Err(); err != nil {
			return StateChangeFailure, err
		}
		r, err := s.changeStateLocked(nextTransition(s.state, target))
		s.lastErr = err
		if err != nil {
			return r, err
		}
		ret = r
	}
	return ret, nil
}

// changeStateLocked runs the hardware steps that precede the base handler,
// the base handler and the steps that follow it. Caller holds stateMu.
func (s *CamSrc) changeStateLocked(t StateChange) (StateChangeReturn, error) {
	if !t.Valid() || t.From != s.state {
		err := fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, t, s.state)
		s.log.Error().Err(err).Msg("rejecting state change")
		return StateChangeFailure, err
	}

	log := s.log.With().Stringer("transition", t).Logger()
	log.Debug().Msg("changing state")

	if err := s.beforeBase(t); err != nil {
		log.Error().Err(err).Msg("state change failed")
		s.metrics.transitions.WithLabelValues(t.String(), StateChangeFailure.String()).Inc()
		return StateChangeFailure, err
	}

	if err := s.baseChangeState(t); err != nil {
		log.Error().Err(err).Msg("base state change failed")
		if t == ReadyToPaused {
			s.closeCamera()
		}
		s.metrics.transitions.WithLabelValues(t.String(), StateChangeFailure.String()).Inc()
		return StateChangeFailure, err
	}

	s.afterBase(t)

	ret := StateChangeSuccess
	if t == ReadyToPaused || t == PlayingToPaused {
		ret = StateChangeNoPreroll
	}

	old := s.state
	s.state = t.To
	s.metrics.transitions.WithLabelValues(t.String(), ret.String()).Inc()
	s.bus.Post(msgbus.Message{
		Type:     msgbus.TypeStateChanged,
		Source:   s.name,
		OldState: old.String(),
		NewState: t.To.String(),
	})
	log.Info().Stringer("result", ret).Msg("state changed")
	return ret, nil
}

func (s *CamSrc) beforeBase(t StateChange) error {
	switch t {
	case NullToReady:
		if err := s.acquireHardware(); err != nil {
			return err
		}
		s.dev = device.New(s.hw, s.log.With().Str("component", "device").Logger())

	case ReadyToPaused:
		return s.openCamera()

	case PausedToPlaying:
		err := s.dev.Start()

		s.captureMu.Lock()
		s.setReadyForCaptureLocked(true)
		s.captureMu.Unlock()

		if err != nil {
			return fmt.Errorf("droidcamsrc: start camera: %w", err)
		}
	}
	return nil
}

func (s *CamSrc) afterBase(t StateChange) {
	switch t {
	case PlayingToPaused:
		s.dev.Stop()

	case PausedToReady:
		s.closeCamera()

	case ReadyToNull:
		s.dev.Destroy()
		s.dev = nil
		s.hw = nil
	}
}

func (s *CamSrc) closeCamera() {
	s.vfDev.Store(nil)
	if err := s.dev.Deinit(); err != nil {
		s.log.Warn().Err(err).Msg("failed to deinit camera")
	}
	if err := s.dev.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close camera")
	}
}

// baseChangeState activates the pads on the way up to PAUSED and
// deactivates them on the way back down to READY
func (s *CamSrc) baseChangeState(t StateChange) error {
	switch t {
	case ReadyToPaused:
		return s.activatePads(true)
	case PausedToReady:
		return s.activatePads(false)
	}
	return nil
}

func (s *CamSrc) activatePads(active bool) error {
	var g errgroup.Group
	for _, p := range []*pad.Port{s.vfsrc, s.imgsrc, s.vidsrc} {
		p := p
		g.Go(func() error {
			return s.ActivateMode(p.Name(), pipeline.PadModePush, active)
		})
	}
	if err := g.Wait(); err != nil {
		if active {
			// leave no task running behind a failed transition
			_ = s.activatePads(false)
		}
		return err
	}
	return nil
}

// acquireHardware loads the module and fills the camera table. s.hw is set
// only on success.
func (s *CamSrc) acquireHardware() error {
	hw, err := s.loader()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoHardware, err)
	}
	if hw == nil {
		return ErrNoHardware
	}

	if v := hw.APIVersion(); v > hal.ModuleAPIVersion1_0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedAPI, v)
	}

	n := hw.NumberOfCameras()
	switch {
	case n <= 0:
		return fmt.Errorf("%w: module reports %d cameras", ErrNoHardware, n)
	case n > MaxCameras:
		return fmt.Errorf("%w: %d", ErrTooManyCameras, n)
	}
	s.log.Info().Int("cameras", n).Stringer("api_version", hw.APIVersion()).Msg("camera module loaded")

	var info [MaxCameras]cameraInfo
	for i := range info {
		info[i].num = -1
	}
	for i := 0; i < n; i++ {
		ci, err := hw.CameraInfo(i)
		if err != nil {
			return fmt.Errorf("droidcamsrc: camera info %d: %w", i, err)
		}

		slot := 0
		if ci.Facing == hal.FacingFront {
			slot = 1
		}
		info[slot] = cameraInfo{
			num:         i,
			direction:   ci.Facing,
			orientation: ci.Orientation / 90,
		}
		s.log.Debug().Int("num", i).Stringer("facing", ci.Facing).Int("orientation", ci.Orientation).Msg("camera")
	}

	if info[0].num == -1 {
		s.log.Warn().Msg("cannot find back camera")
	}
	if info[1].num == -1 {
		s.log.Warn().Msg("cannot find front camera")
	}

	s.info = info
	s.hw = hw
	return nil
}

// cameraFor maps the logical selector to the camera table entry
func (s *CamSrc) cameraFor(d CameraDevice) (cameraInfo, bool) {
	direction := hal.FacingBack
	if d == CameraDeviceSecondary {
		direction = hal.FacingFront
	}
	for _, info := range s.info {
		if info.num != -1 && info.direction == direction {
			return info, true
		}
	}
	return cameraInfo{}, false
}

// findCameraDevice returns the hardware id for the camera-device property
func (s *CamSrc) findCameraDevice() (string, error) {
	d := s.CameraDevice()
	info, ok := s.cameraFor(d)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrCameraNotFound, d)
	}
	return strconv.Itoa(info.num), nil
}

func (s *CamSrc) openCamera() error {
	id, err := s.findCameraDevice()
	if err != nil {
		return err
	}

	if err := s.dev.Open(id); err != nil {
		return fmt.Errorf("droidcamsrc: open camera: %w", err)
	}
	if err := s.dev.Init(); err != nil {
		if cerr := s.dev.Close(); cerr != nil {
			s.log.Warn().Err(cerr).Msg("failed to close camera")
		}
		return fmt.Errorf("droidcamsrc: init camera: %w", err)
	}

	s.dev.Pool().SetTarget(s.vfsrc)
	s.vfDev.Store(s.dev)
	s.log.Info().Str("camera", id).Stringer("camera_device", s.CameraDevice()).Msg("camera selected")
	return nil
}
