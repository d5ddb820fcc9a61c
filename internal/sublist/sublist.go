// Package sublist fans live run frames out to connected subscribers.
package sublist

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"

	"nuha.dev/runtracker/internal/events"
	"nuha.dev/runtracker/internal/tracker"
)

const (
	FrameStats byte = 0x00
	FrameEvent byte = 0x01

	statsFrameLen = 41
)

type Subscriber interface {
	// Push hands d to the subscriber. It reports true once the subscriber
	// is closed, which drops it from the list.
	Push(d []byte) (closed bool)
}

type Sublist struct {
	list       map[Subscriber]bool
	data       []byte
	event_data []byte
	mu         *sync.Mutex
}

func NewSublist() *Sublist {
	s := &Sublist{}
	s.list = make(map[Subscriber]bool)
	s.mu = &sync.Mutex{}
	return s
}

// Subscribe adds sub and replays the last stats and event frames to it.
func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		sub.Push(s.data)
	}
	if s.event_data != nil {
		sub.Push(s.event_data)
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Sublist) SendStats(u tracker.StatsUpdate) {
	d := encode_stats(u)
	s.mu.Lock()
	s.data = d
	s.send(d)
	s.mu.Unlock()
}

func (s *Sublist) SendEvent(topic string, message []byte, t time.Time) {
	d := encode_event(topic, message, t)
	s.mu.Lock()
	s.event_data = d
	s.send(d)
	s.mu.Unlock()
}

func (s *Sublist) Send(d []byte) {
	s.mu.Lock()
	s.send(d)
	s.mu.Unlock()
}

func (s *Sublist) send(d []byte) {
	for sub := range s.list {
		closed := sub.Push(d)
		if closed {
			delete(s.list, sub)
		}
	}
}

// Handler forwards tracker events: stats as binary frames, everything else
// as json event frames.
func (s *Sublist) Handler() bus.Handler {
	return bus.Handler{
		Matcher: events.TopicMatcher(tracker.Topics...),
		Handle: func(ctx context.Context, e bus.Event) {
			if u, ok := e.Data.(tracker.StatsUpdate); ok {
				s.SendStats(u)
				return
			}
			msg, _ := json.Marshal(e.Data)
			s.SendEvent(e.Topic, msg, e.OccurredAt)
		},
	}
}

func encode_stats(u tracker.StatsUpdate) []byte {
	buf := make([]byte, statsFrameLen)
	buf[0] = FrameStats
	binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(u.Stats.DistanceKm))
	binary.LittleEndian.PutUint32(buf[9:], uint32(u.Stats.DurationSec))
	binary.LittleEndian.PutUint64(buf[13:], math.Float64bits(u.Stats.PaceMinPerKm))
	binary.LittleEndian.PutUint64(buf[21:], math.Float64bits(u.Stats.CaloriesEstimate))
	binary.LittleEndian.PutUint32(buf[29:], uint32(u.Points))
	binary.LittleEndian.PutUint64(buf[33:], uint64(u.Time.UnixNano()/int64(time.Millisecond)))
	return buf
}

// DecodeStats is the inverse of the stats frame encoding.
func DecodeStats(d []byte) (tracker.StatsUpdate, bool) {
	u := tracker.StatsUpdate{}
	if len(d) != statsFrameLen || d[0] != FrameStats {
		return u, false
	}
	u.Stats.DistanceKm = math.Float64frombits(binary.LittleEndian.Uint64(d[1:]))
	u.Stats.DurationSec = int(binary.LittleEndian.Uint32(d[9:]))
	u.Stats.PaceMinPerKm = math.Float64frombits(binary.LittleEndian.Uint64(d[13:]))
	u.Stats.CaloriesEstimate = math.Float64frombits(binary.LittleEndian.Uint64(d[21:]))
	u.Points = int(binary.LittleEndian.Uint32(d[29:]))
	ms := int64(binary.LittleEndian.Uint64(d[33:]))
	u.Time = time.Unix(0, ms*int64(time.Millisecond)).UTC()
	return u, true
}

func encode_event(topic string, message []byte, t time.Time) []byte {
	buf := make([]byte, 0, 100+len(message))
	buf = append(buf, FrameEvent)
	buf = append(buf, []byte(`{"topic":`)...)
	buf = strconv.AppendQuote(buf, topic)
	if len(message) != 0 {
		buf = append(buf, []byte(`,"message":`)...)
		buf = append(buf, message...)
	}
	buf = append(buf, []byte(`,"time":`)...)
	buf = strconv.AppendInt(buf, t.Unix(), 10)
	buf = append(buf, '}')
	return buf
}
