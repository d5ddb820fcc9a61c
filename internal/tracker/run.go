package tracker

import (
	"time"

	"nuha.dev/runtracker/internal/geo"
)

type cmdKind int

const (
	cmdFix cmdKind = iota
	cmdTick
	cmdInterrupt
	cmdSnapshot
	cmdStop
)

type command struct {
	kind  cmdKind
	point geo.Point
	err   error
	reply chan Session
}

// run is the live state of one session. sess is only touched by loop.
type run struct {
	sess     Session
	interval time.Duration
	elapsed  time.Duration
	cmds     chan command
	done     chan struct{}

	// frozen is written by loop before done is closed.
	frozen Session

	unsub      func()
	stopTicker func()
}

func newRun(id string, seed geo.Point, started time.Time, interval time.Duration) *run {
	r := &run{interval: interval}
	r.sess = Session{
		ID:        id,
		State:     Tracking,
		Route:     geo.Route{seed},
		StartedAt: started,
	}
	r.cmds = make(chan command)
	r.done = make(chan struct{})
	r.unsub = func() {}
	r.stopTicker = func() {}
	return r
}

// send hands c to the loop. It reports false once the loop has exited.
func (r *run) send(c command) bool {
	select {
	case r.cmds <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *run) loop(t *Tracker) {
	defer close(r.done)
	for {
		c := <-r.cmds
		switch c.kind {
		case cmdFix:
			r.fix(c.point)
			t.emitStats(r)
		case cmdTick:
			r.tick()
			t.emitStats(r)
		case cmdInterrupt:
			t.emitInterruption(r, c.err)
		case cmdSnapshot:
			c.reply <- r.sess.clone()
		case cmdStop:
			r.sess.State = Stopped
			r.sess.StoppedAt = time.Now().UTC()
			r.frozen = r.sess.clone()
			c.reply <- r.sess.clone()
			return
		}
	}
}

// fix extends the route and adds only the new last segment. Summing from
// the first segment onward gives the same value as geo.RouteDistanceKm.
func (r *run) fix(p geo.Point) {
	last, ok := r.sess.Route.Last()
	r.sess.Route = r.sess.Route.Append(p)
	dist := r.sess.Stats.DistanceKm
	if ok {
		dist += geo.SegmentDistanceKm(last, p)
	}
	r.sess.Stats = newStats(dist, r.sess.Stats.DurationSec)
}

func (r *run) tick() {
	r.elapsed += r.interval
	r.sess.Stats = newStats(r.sess.Stats.DistanceKm, int(r.elapsed/time.Second))
}
