// Package relay republishes tracker events on NATS.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/events"
	"nuha.dev/runtracker/internal/tracker"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type RelayConfig struct {
	Url    string
	Prefix string
}

// Message is the json body published for every event.
type Message struct {
	Id         string      `json:"id"`
	Topic      string      `json:"topic"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type Relay struct {
	pub    Publisher
	prefix string
	log    log.Logger
}

// Connect dials the NATS server named in config.
func Connect(config *RelayConfig) (*nats.Conn, error) {
	return nats.Connect(config.Url,
		nats.Name("runtracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func New(pub Publisher, prefix string) *Relay {
	r := &Relay{pub: pub, prefix: prefix}
	if r.prefix == "" {
		r.prefix = "runtracker"
	}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	return r
}

func (r *Relay) Subject(topic string) string {
	return r.prefix + "." + topic
}

// Handler publishes every tracker event. Publish failures are logged and
// never reach the tracker.
func (r *Relay) Handler() bus.Handler {
	return bus.Handler{
		Matcher: events.TopicMatcher(tracker.Topics...),
		Handle: func(ctx context.Context, e bus.Event) {
			msg := Message{Id: e.ID, Topic: e.Topic, OccurredAt: e.OccurredAt, Data: e.Data}
			d, err := json.Marshal(msg)
			if err != nil {
				r.log.Error().Err(err).Str("topic", e.Topic).Msg("unable to encode event")
				return
			}
			err = r.pub.Publish(r.Subject(e.Topic), d)
			if err != nil {
				r.log.Error().Err(err).Str("topic", e.Topic).Msg("publish failed")
			}
		},
	}
}
