package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyTracking = errors.New("tracking already active")
	ErrNotTracking     = errors.New("tracking not active")
	ErrInvalidFix      = errors.New("invalid location fix")
)

type LocationErrorCode int

const (
	PermissionDenied    LocationErrorCode = 1
	PositionUnavailable LocationErrorCode = 2
	Timeout             LocationErrorCode = 3
)

func (c LocationErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case PositionUnavailable:
		return "position unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// LocationError is reported by a Source when a fix cannot be produced.
// It never stops tracking on its own.
type LocationError struct {
	Code    LocationErrorCode
	Message string
}

func (e *LocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("location error: %s", e.Code)
	}
	return fmt.Sprintf("location error: %s: %s", e.Code, e.Message)
}
