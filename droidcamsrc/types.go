package droidcamsrc

import (
	"fmt"
	"strings"
)

// CameraDevice selects a camera by role rather than hardware index
type CameraDevice int

const (
	CameraDevicePrimary CameraDevice = iota
	CameraDeviceSecondary
)

func (d CameraDevice) String() string {
	switch d {
	case CameraDevicePrimary:
		return "primary"
	case CameraDeviceSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("camera-device(%d)", int(d))
	}
}

// ParseCameraDevice accepts "primary" or "secondary"
func ParseCameraDevice(s string) (CameraDevice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary":
		return CameraDevicePrimary, nil
	case "secondary":
		return CameraDeviceSecondary, nil
	default:
		return 0, fmt.Errorf("%w: camera-device %q", ErrInvalidPropertyValue, s)
	}
}

// Mode is the capture mode
type Mode int

const (
	ModeImage Mode = iota + 1
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModeImage:
		return "image"
	case ModeVideo:
		return "video"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "image" or "video"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return ModeImage, nil
	case "video":
		return ModeVideo, nil
	default:
		return 0, fmt.Errorf("%w: mode %q", ErrInvalidPropertyValue, s)
	}
}

// State of the element
type State int

const (
	StateNull State = iota + 1
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState accepts the state names in any case
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NULL":
		return StateNull, nil
	case "READY":
		return StateReady, nil
	case "PAUSED":
		return StatePaused, nil
	case "PLAYING":
		return StatePlaying, nil
	default:
		return 0, fmt.Errorf("droidcamsrc: unknown state %q", s)
	}
}

// StateChange is a transition between two adjacent states
type StateChange struct {
	From State
	To   State
}

var (
	NullToReady     = StateChange{StateNull, StateReady}
	ReadyToPaused   = StateChange{StateReady, StatePaused}
	PausedToPlaying = StateChange{StatePaused, StatePlaying}
	PlayingToPaused = StateChange{StatePlaying, StatePaused}
	PausedToReady   = StateChange{StatePaused, StateReady}
	ReadyToNull     = StateChange{StateReady, StateNull}
)

func (t StateChange) String() string {
	return t.From.String() + "->" + t.To.String()
}

// Valid reports whether the transition moves exactly one step
func (t StateChange) Valid() bool {
	if t.From < StateNull || t.From > StatePlaying || t.To < StateNull || t.To > StatePlaying {
		return false
	}
	d := int(t.To) - int(t.From)
	return d == 1 || d == -1
}

// nextTransition returns the step from cur towards target
func nextTransition(cur, target State) StateChange {
	if target > cur {
		return StateChange{cur, cur + 1}
	}
	return StateChange{cur, cur - 1}
}

// StateChangeReturn is the outcome of a transition
type StateChangeReturn int

const (
	StateChangeFailure StateChangeReturn = iota
	StateChangeSuccess
	StateChangeAsync
	StateChangeNoPreroll
)

func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeFailure:
		return "failure"
	case StateChangeSuccess:
		return "success"
	case StateChangeAsync:
		return "async"
	case StateChangeNoPreroll:
		return "no-preroll"
	default:
		return fmt.Sprintf("state-change-return(%d)", int(r))
	}
}
