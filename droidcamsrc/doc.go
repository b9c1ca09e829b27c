// Package droidcamsrc is a live camera source element for Android HAL
// cameras.
//
// The element exposes three source pads: vfsrc (viewfinder), imgsrc
// (still images) and vidsrc (video). Each pad owns a queue and a task
// that pushes captured buffers downstream. Preview frames delivered by
// the HAL thread are wrapped into buffers by the device pool and queued
// on vfsrc.
//
// The element moves through NULL, READY, PAUSED and PLAYING:
//
//	NULL -> READY      load the hardware module and read the camera table
//	READY -> PAUSED    open and initialise the selected camera, activate pads
//	PAUSED -> PLAYING  start the preview
//
// Downward transitions undo these steps in reverse. Entering PAUSED
// reports StateChangeNoPreroll as the element is a live source.
//
// Errors raised by a pad task (failed negotiation, repeated delivery
// failures) are posted on the element bus and halt only that pad.
package droidcamsrc
