package tracker

import (
	"time"

	"nuha.dev/runtracker/internal/geo"
)

type State int

const (
	Idle State = iota
	Tracking
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CaloriesPerMinute is the fixed burn rate of the calorie estimate.
const CaloriesPerMinute = 7.0

type Stats struct {
	DistanceKm       float64 `json:"distance_km"`
	DurationSec      int     `json:"duration_sec"`
	PaceMinPerKm     float64 `json:"pace_min_per_km"`
	CaloriesEstimate float64 `json:"calories_estimate"`
}

// Pace returns minutes per kilometer, or 0 while either input is zero.
func Pace(durationSec int, distanceKm float64) float64 {
	if durationSec <= 0 || distanceKm <= 0 {
		return 0
	}
	return (float64(durationSec) / 60) / distanceKm
}

func Calories(durationSec int) float64 {
	if durationSec <= 0 {
		return 0
	}
	return (float64(durationSec) / 60) * CaloriesPerMinute
}

func newStats(distanceKm float64, durationSec int) Stats {
	return Stats{
		DistanceKm:       distanceKm,
		DurationSec:      durationSec,
		PaceMinPerKm:     Pace(durationSec, distanceKm),
		CaloriesEstimate: Calories(durationSec),
	}
}

type Session struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Route     geo.Route `json:"route"`
	Stats     Stats     `json:"stats"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

func (s Session) clone() Session {
	s.Route = s.Route.Clone()
	return s
}

// StatsUpdate is emitted on TopicStats after every fix and tick.
type StatsUpdate struct {
	SessionID string    `json:"session_id"`
	Stats     Stats     `json:"stats"`
	Points    int       `json:"points"`
	Time      time.Time `json:"time"`
}

// Interruption is emitted on TopicSourceInterrupted. The session keeps
// running on its last known distance.
type Interruption struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Time      time.Time `json:"time"`
}
