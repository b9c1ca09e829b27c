package droidcamsrc

import "errors"

var (
	ErrNoHardware           = errors.New("droidcamsrc: no camera hardware found")
	ErrUnsupportedAPI       = errors.New("droidcamsrc: unsupported camera API version")
	ErrTooManyCameras       = errors.New("droidcamsrc: too many cameras")
	ErrCameraNotFound       = errors.New("droidcamsrc: camera not found")
	ErrNotPushMode          = errors.New("droidcamsrc: can activate pads in push mode only")
	ErrInvalidTransition    = errors.New("droidcamsrc: invalid state transition")
	ErrUnknownPad           = errors.New("droidcamsrc: unknown pad")
	ErrUnknownProperty      = errors.New("droidcamsrc: unknown property")
	ErrReadOnlyProperty     = errors.New("droidcamsrc: property is read-only")
	ErrInvalidPropertyValue = errors.New("droidcamsrc: invalid property value")
	ErrFinalized            = errors.New("droidcamsrc: element finalized")
)
