package logstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/store"
	"nuha.dev/runtracker/internal/tracker"
)

func session(id string, start time.Time) tracker.Session {
	return tracker.Session{
		ID:        id,
		State:     tracker.Stopped,
		Route:     geo.Route{geo.NewPoint(1, 1, start), geo.NewPoint(1.01, 1, start.Add(time.Minute))},
		Stats:     tracker.Stats{DistanceKm: 1.1, DurationSec: 60, PaceMinPerKm: 0.9, CaloriesEstimate: 7},
		StartedAt: start,
		StoppedAt: start.Add(time.Minute),
	}
}

func TestPutGetList(t *testing.T) {
	ctx := context.Background()
	l := NewStore()
	t0 := time.Date(2021, 7, 1, 6, 0, 0, 0, time.UTC)

	id1, err := l.Put(ctx, session("a", t0))
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := l.Put(ctx, session("b", t0.Add(time.Hour)))

	runs, _ := l.List(ctx, 10)
	if len(runs) != 2 || runs[0].Id != id2 || runs[1].Id != id1 {
		t.Fatalf("list = %+v", runs)
	}
	if runs, _ := l.List(ctx, 1); len(runs) != 1 {
		t.Fatalf("limited list = %d", len(runs))
	}

	rec, err := l.Get(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Points != 2 || len(rec.Route) != 2 || rec.Stats.DurationSec != 60 {
		t.Fatalf("record = %+v", rec)
	}
	rec.Route[0].Latitude = 9
	again, _ := l.Get(ctx, id1)
	if again.Route[0].Latitude != 1 {
		t.Fatal("stored route was mutated through Get")
	}
}

func TestDuplicateAndMissing(t *testing.T) {
	ctx := context.Background()
	l := NewStore()
	s := session("a", time.Now())
	l.Put(ctx, s)
	if _, err := l.Put(ctx, s); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v", err)
	}
	if _, err := l.Get(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	l := NewStore()
	t0 := time.Date(2021, 7, 1, 6, 0, 0, 0, time.UTC)
	id1, _ := l.Put(ctx, session("a", t0))
	id2, _ := l.Put(ctx, session("b", t0.Add(time.Hour)))
	id3, _ := l.Put(ctx, session("c", t0.Add(2*time.Hour)))

	if err := l.Delete(ctx, id2); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(ctx, id2); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	runs, _ := l.List(ctx, 0)
	if len(runs) != 2 || runs[0].Id != id3 || runs[1].Id != id1 {
		t.Fatalf("list after delete = %+v", runs)
	}

	n, err := l.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("clear = %d, %v", n, err)
	}
	if runs, _ := l.List(ctx, 0); len(runs) != 0 {
		t.Fatalf("list after clear = %+v", runs)
	}
	if _, err := l.Get(ctx, id1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after clear err = %v", err)
	}
	if _, err := l.Put(ctx, session("a", t0)); err != nil {
		t.Fatalf("put after clear err = %v", err)
	}
}
