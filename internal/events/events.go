// Package events builds the in-process bus the tracker publishes on.
package events

import (
	"regexp"
	"strings"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"

	"nuha.dev/runtracker/internal/tracker"
)

// epoch is subtracted from event id timestamps (2021-01-01 UTC, in ms).
const epoch uint64 = 1609459200000

// NewBus returns a bus with every tracker topic registered. node must be
// unique per process sharing an event stream.
func NewBus(node uint64) (*bus.Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, epoch)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(tracker.Topics...)
	return b, nil
}

// TopicMatcher returns a handler matcher accepting exactly the given topics.
func TopicMatcher(topics ...string) string {
	quoted := make([]string, len(topics))
	for i, t := range topics {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return "^(" + strings.Join(quoted, "|") + ")$"
}
