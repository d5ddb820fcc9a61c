package logstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/tracker"
)

// LogStore keeps finished runs in memory, newest first, and logs each one.
type LogStore struct {
	mu     sync.Mutex
	runs   []store.RunRecord
	logger zerolog.Logger
}

func NewStore() *LogStore {
	return &LogStore{logger: log.With().Str("module", "logstore").Logger()}
}

func (l *LogStore) Put(ctx context.Context, s tracker.Session) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.runs {
		if r.SessionId == s.ID {
			return "", store.ErrDuplicate
		}
	}
	rec := store.RunRecord{RunSummary: store.Summarize(s.ID, s), Route: s.Route.Clone()}
	l.runs = append([]store.RunRecord{rec}, l.runs...)
	l.logger.Info().
		Str("id", rec.Id).
		Time("started_at", rec.StartedAt).
		Time("stopped_at", rec.StoppedAt).
		Float64("distance_km", rec.Stats.DistanceKm).
		Int("duration_sec", rec.Stats.DurationSec).
		Float64("pace_min_per_km", rec.Stats.PaceMinPerKm).
		Float64("calories", rec.Stats.CaloriesEstimate).
		Int("points", rec.Points).
		Msg("run archived")
	return rec.Id, nil
}

func (l *LogStore) Get(ctx context.Context, id string) (*store.RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.runs {
		if r.Id == id {
			rec := r
			rec.Route = r.Route.Clone()
			return &rec, nil
		}
	}
	return nil, store.ErrNotFound
}

func (l *LogStore) List(ctx context.Context, limit int) ([]store.RunSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.runs) {
		limit = len(l.runs)
	}
	res := make([]store.RunSummary, limit)
	for i := 0; i < limit; i++ {
		res[i] = l.runs[i].RunSummary
	}
	return res, nil
}

func (l *LogStore) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.runs {
		if r.Id == id {
			l.runs = append(l.runs[:i:i], l.runs[i+1:]...)
			l.logger.Info().Str("id", id).Msg("run deleted")
			return nil
		}
	}
	return store.ErrNotFound
}

func (l *LogStore) Clear(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.runs)
	l.runs = nil
	l.logger.Info().Int("count", n).Msg("history cleared")
	return n, nil
}
