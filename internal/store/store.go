package store

import (
	"context"
	"errors"
	"time"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/tracker"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrDuplicate = errors.New("run already stored")
)

type RunSummary struct {
	Id        string        `json:"id"`
	SessionId string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at"`
	Stats     tracker.Stats `json:"stats"`
	Points    int           `json:"points"`
}

type RunRecord struct {
	RunSummary
	Route geo.Route `json:"route"`
}

// RunStore archives finished sessions.
type RunStore interface {
	Put(ctx context.Context, s tracker.Session) (id string, err error)
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns at most limit runs, newest first.
	List(ctx context.Context, limit int) ([]RunSummary, error)
	// Delete removes one run and its route.
	Delete(ctx context.Context, id string) error
	// Clear removes every run and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}

func Summarize(id string, s tracker.Session) RunSummary {
	return RunSummary{
		Id:        id,
		SessionId: s.ID,
		StartedAt: s.StartedAt,
		StoppedAt: s.StoppedAt,
		Stats:     s.Stats,
		Points:    len(s.Route),
	}
}
