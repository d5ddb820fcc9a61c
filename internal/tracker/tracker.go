// Package tracker owns the lifecycle of a run: it turns a stream of
// location fixes and a periodic tick into running stats and a route.
//
// Every session has a single goroutine applying fixes and ticks in the
// order they were received. The location subscription, the ticker and the
// exported OnFix/OnTick methods are producers for that goroutine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/location"
	"nuha.dev/runtracker/internal/util"
)

const (
	TopicStarted           string = "run.started"
	TopicStats             string = "run.stats"
	TopicSourceInterrupted string = "run.source_interrupted"
	TopicStopped           string = "run.stopped"
	TopicReset             string = "run.reset"
)

// Topics lists every topic a Tracker emits on.
var Topics = []string{TopicStarted, TopicStats, TopicSourceInterrupted, TopicStopped, TopicReset}

var (
	ErrPermissionDenied       = errors.New("location permission denied")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoStartPoint           = errors.New("no start point available")
)

// Emitter is satisfied by *bus.Bus. Handlers run on the session goroutine
// and must not call back into the Tracker.
type Emitter interface {
	Emit(ctx context.Context, topic string, data interface{}) error
}

type Config struct {
	// TickInterval is both the ticker period and the duration added per tick.
	TickInterval time.Duration
	// ExternalTicker disables the internal ticker; the caller drives OnTick.
	ExternalTicker bool
	// DefaultStart seeds the route instead of asking the source.
	DefaultStart *geo.Point
}

type Tracker struct {
	src     location.Source
	emitter Emitter
	config  Config
	log     log.Logger

	life sync.Mutex // serializes Start, Stop and Reset

	mu    sync.Mutex
	state State
	run   *run
	final *Session
}

func New(src location.Source, emitter Emitter, config *Config) *Tracker {
	t := &Tracker{src: src, emitter: emitter}
	t.config = *config
	if t.config.TickInterval <= 0 {
		t.config.TickInterval = time.Second
	}
	t.log = log.DefaultLogger
	t.log.Context = log.NewContext(nil).Str("module", "tracker").Value()
	return t
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Start(ctx context.Context) (Session, error) {
	t.life.Lock()
	defer t.life.Unlock()

	if st := t.State(); st != Idle {
		return Session{}, t.invalid("start", st)
	}
	perm, err := t.src.RequestPermission(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("permission request failed")
		return Session{}, fmt.Errorf("requesting location permission: %w", err)
	}
	if perm != location.PermissionGranted {
		t.log.Warn().Str("permission", perm.String()).Msg("start refused")
		return Session{}, ErrPermissionDenied
	}
	seed, err := t.seed(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("unable to seed route")
		return Session{}, err
	}

	r := newRun(util.GenUUID(), seed, time.Now().UTC(), t.config.TickInterval)
	snap := r.sess.clone()
	go r.loop(t)
	r.unsub = t.src.Subscribe(location.Handler{
		OnFix: func(p geo.Point) {
			r.send(command{kind: cmdFix, point: p})
		},
		OnInterrupt: func(err error) {
			r.send(command{kind: cmdInterrupt, err: err})
		},
	})
	r.stopTicker = t.startTicker(r)

	t.mu.Lock()
	t.state = Tracking
	t.run = r
	t.final = nil
	t.mu.Unlock()

	t.log.Info().Str("session", snap.ID).Float64("lat", seed.Latitude).Float64("lon", seed.Longitude).Msg("run started")
	t.emit(TopicStarted, snap)
	return snap, nil
}

func (t *Tracker) seed(ctx context.Context) (geo.Point, error) {
	if t.config.DefaultStart != nil {
		p := *t.config.DefaultStart
		if p.Timestamp.IsZero() {
			p.Timestamp = time.Now().UTC()
		}
		return p, nil
	}
	loc, ok := t.src.(location.Locator)
	if !ok {
		return geo.Point{}, ErrNoStartPoint
	}
	p, err := loc.CurrentFix(ctx)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrNoStartPoint, err)
	}
	return p, nil
}

func (t *Tracker) startTicker(r *run) func() {
	if t.config.ExternalTicker {
		return func() {}
	}
	ticker := time.NewTicker(t.config.TickInterval)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if !r.send(command{kind: cmdTick}) {
					return
				}
			case <-quit:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(quit)
	}
}

// current returns the live run, or nil when not Tracking.
func (t *Tracker) current() *run {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Tracking {
		return nil
	}
	return t.run
}

// OnFix feeds one accepted fix to the running session. It is a no-op when
// no session is Tracking.
func (t *Tracker) OnFix(p geo.Point) {
	if r := t.current(); r != nil {
		r.send(command{kind: cmdFix, point: p})
	}
}

// PushFix is OnFix for callers that must know the outcome. It fails with
// ErrInvalidStateTransition unless the fix reached a Tracking session.
func (t *Tracker) PushFix(p geo.Point) error {
	r := t.current()
	if r == nil {
		return t.invalid("push fix", t.State())
	}
	if !r.send(command{kind: cmdFix, point: p}) {
		return t.invalid("push fix", Stopped)
	}
	return nil
}

// OnTick advances the running session by one tick interval. It is a no-op
// when no session is Tracking.
func (t *Tracker) OnTick() {
	if r := t.current(); r != nil {
		r.send(command{kind: cmdTick})
	}
}

// Stop ends the running session. The source and the ticker are released
// before the frozen snapshot is returned.
func (t *Tracker) Stop() (Session, error) {
	t.life.Lock()
	defer t.life.Unlock()

	t.mu.Lock()
	if t.state != Tracking {
		st := t.state
		t.mu.Unlock()
		return Session{}, t.invalid("stop", st)
	}
	r := t.run
	t.state = Stopped
	t.mu.Unlock()

	r.unsub()
	r.stopTicker()
	reply := make(chan Session, 1)
	r.send(command{kind: cmdStop, reply: reply})
	snap := <-reply
	<-r.done

	final := snap.clone()
	t.mu.Lock()
	t.run = nil
	t.final = &final
	t.mu.Unlock()

	t.log.Info().Str("session", snap.ID).Float64("distance_km", snap.Stats.DistanceKm).Int("duration_sec", snap.Stats.DurationSec).Int("points", len(snap.Route)).Msg("run stopped")
	t.emit(TopicStopped, snap.clone())
	return snap, nil
}

// Reset discards the stopped session and returns to Idle.
func (t *Tracker) Reset() error {
	t.life.Lock()
	defer t.life.Unlock()

	t.mu.Lock()
	if t.state == Tracking {
		t.mu.Unlock()
		return t.invalid("reset", Tracking)
	}
	var id string
	if t.final != nil {
		id = t.final.ID
	}
	t.state = Idle
	t.final = nil
	t.mu.Unlock()

	t.emit(TopicReset, id)
	return nil
}

// Current returns a copy of the running or stopped session.
func (t *Tracker) Current() (Session, bool) {
	t.mu.Lock()
	st, r, final := t.state, t.run, t.final
	t.mu.Unlock()
	switch st {
	case Tracking:
		reply := make(chan Session, 1)
		if !r.send(command{kind: cmdSnapshot, reply: reply}) {
			// Stop got there first.
			return r.frozen.clone(), true
		}
		return <-reply, true
	case Stopped:
		if final == nil {
			return Session{}, false
		}
		return final.clone(), true
	default:
		return Session{}, false
	}
}

func (t *Tracker) invalid(op string, st State) error {
	t.log.Error().Str("op", op).Str("state", st.String()).Msg("invalid state transition")
	return fmt.Errorf("%w: %s while %s", ErrInvalidStateTransition, op, st)
}

func (t *Tracker) emitStats(r *run) {
	t.emit(TopicStats, StatsUpdate{
		SessionID: r.sess.ID,
		Stats:     r.sess.Stats,
		Points:    len(r.sess.Route),
		Time:      time.Now().UTC(),
	})
}

func (t *Tracker) emitInterruption(r *run, err error) {
	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	t.log.Warn().Str("session", r.sess.ID).Str("reason", reason).Msg("location source interrupted")
	t.emit(TopicSourceInterrupted, Interruption{SessionID: r.sess.ID, Reason: reason, Time: time.Now().UTC()})
}

func (t *Tracker) emit(topic string, data interface{}) {
	if t.emitter == nil {
		return
	}
	err := t.emitter.Emit(context.Background(), topic, data)
	if err != nil {
		t.log.Error().Err(err).Str("topic", topic).Msg("emit failed")
	}
}
