package location

import (
	"context"
	"errors"

	"nuha.dev/runtracker/internal/geo"
)

type Permission int

const (
	PermissionDenied Permission = iota
	PermissionGranted
)

func (p Permission) String() string {
	if p == PermissionGranted {
		return "granted"
	}
	return "denied"
}

func ParsePermission(s string) Permission {
	if s == "granted" {
		return PermissionGranted
	}
	return PermissionDenied
}

var (
	ErrUnavailable = errors.New("location source unavailable")
	ErrInterrupted = errors.New("location source interrupted")
)

// Handler receives fixes and interruptions from a Source. Both callbacks
// are fire-and-forget and must not block for long.
type Handler struct {
	OnFix       func(p geo.Point)
	OnInterrupt func(err error)
}

type Source interface {
	RequestPermission(ctx context.Context) (Permission, error)
	// Subscribe registers h until the returned func is called.
	Subscribe(h Handler) (unsubscribe func())
}

// Locator is implemented by sources able to report the latest fix on demand.
type Locator interface {
	CurrentFix(ctx context.Context) (geo.Point, error)
}
