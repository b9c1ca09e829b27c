package droidcamsrc

import (
	"fmt"
	"time"

	"github.com/moralrecordings/gst-droid/internal/device"
	"github.com/moralrecordings/gst-droid/internal/pad"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// ActivateMode starts or stops the task of a pad. Only push mode is
// supported.
func (s *CamSrc) ActivateMode(name string, mode pipeline.PadMode, active bool) error {
	p, err := s.Pad(name)
	if err != nil {
		return err
	}
	if mode != pipeline.PadModePush {
		s.log.Error().Str("pad", name).Stringer("mode", mode).Msg("can activate pads in push mode only")
		return fmt.Errorf("%w: %s in %s mode", ErrNotPushMode, name, mode)
	}
	return p.Activate(active)
}

// SendEvent hands an upstream event to a pad and reports whether it was
// handled
func (s *CamSrc) SendEvent(name string, ev *pipeline.Event) bool {
	p, err := s.Pad(name)
	if err != nil {
		s.log.Warn().Err(err).Msg("event on unknown pad")
		return false
	}

	s.log.Debug().Str("pad", name).Stringer("event", ev.Type).Msg("pad event")
	switch ev.Type {
	case pipeline.EventReconfigure:
		p.MarkReconfigure()
		return true
	case pipeline.EventCaps,
		pipeline.EventLatency,
		pipeline.EventFlushStart,
		pipeline.EventFlushStop:
		return true
	default:
		return false
	}
}

// Query answers q on a pad and reports whether it was answered
func (s *CamSrc) Query(name string, q *pipeline.Query) bool {
	p, err := s.Pad(name)
	if err != nil {
		s.log.Warn().Err(err).Msg("query on unknown pad")
		return false
	}

	s.log.Debug().Str("pad", name).Stringer("query", q.Type).Msg("pad query")
	switch q.Type {
	case pipeline.QueryAcceptCaps:
		caps, ok := p.Caps()
		q.AcceptResult = ok && caps.Equal(q.Caps)
		return true

	case pipeline.QueryScheduling:
		q.AddSchedulingMode(pipeline.PadModePush)
		return true

	case pipeline.QueryFormats:
		q.SetFormats(pipeline.FormatTime)
		return true

	case pipeline.QueryLatency:
		interval := s.frameInterval(p)
		q.SetLatency(true, interval, interval*time.Duration(s.cfg.LatencyFrames))
		return true

	case pipeline.QueryCaps:
		caps, ok := p.Caps()
		if !ok {
			return false
		}
		q.Result = caps
		return true

	default:
		return false
	}
}

// frameInterval is the configured default unless the pad carries fixed
// caps with a usable framerate
func (s *CamSrc) frameInterval(p *pad.Port) time.Duration {
	caps, ok := p.Caps()
	if !ok || !caps.IsFixed() || caps.Size() == 0 {
		return s.cfg.frameInterval()
	}
	num, den, ok := caps.Structure(0).Fraction("framerate")
	if !ok || num <= 0 || den <= 0 {
		return s.cfg.frameInterval()
	}
	return time.Duration(den) * time.Second / time.Duration(num)
}

// negotiateViewfinder picks the first format both the camera and the peer
// support and configures the camera for it
func (s *CamSrc) negotiateViewfinder(p *pad.Port) bool {
	dev := s.vfDev.Load()
	if dev == nil {
		s.log.Error().Msg("no camera bound to viewfinder")
		return false
	}

	ours := device.ViewfinderCaps(dev.Params())
	if ours.IsEmpty() {
		s.log.Error().Msg("camera offers no viewfinder caps")
		return false
	}

	// an unlinked pad accepts anything; linking renegotiates
	peerCaps := ours
	if peer := p.Peer(); peer != nil {
		peerCaps = peer.QueryCaps(ours)
	} else {
		s.log.Debug().Str("pad", p.Name()).Msg("no peer, negotiating against own caps")
	}
	common := peerCaps.Intersect(ours)
	if common.IsEmpty() {
		s.log.Error().Str("ours", ours.String()).Str("peer", peerCaps.String()).Msg("no common caps with peer")
		return false
	}

	caps := common.Fixate()
	if err := device.ApplyCaps(dev.Params(), caps); err != nil {
		s.log.Error().Err(err).Str("caps", caps.String()).Msg("failed to apply caps")
		return false
	}
	if err := dev.CommitParameters(); err != nil {
		s.log.Error().Err(err).Msg("failed to configure camera")
		return false
	}

	p.SetCaps(caps)
	s.log.Info().Str("pad", p.Name()).Str("caps", caps.String()).Msg("negotiated")
	return true
}
