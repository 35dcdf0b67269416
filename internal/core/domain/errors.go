package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("flyover session not found")
	ErrSessionClosed      = errors.New("flyover session closed")
	ErrInvalidTransition  = errors.New("invalid playback transition")
	ErrInvalidSpeed       = errors.New("speed must be 1, 1.5 or 2")
	ErrNoStops            = errors.New("no stops to play")
	ErrNoSurface          = errors.New("no camera surface attached")
	ErrPanoramaLocked     = errors.New("panorama can only be toggled while paused")
	ErrInvalidCoordinates = errors.New("invalid coordinates provided")
)
