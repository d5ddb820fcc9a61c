package events

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/mustafaturan/bus/v3"

	"nuha.dev/runtracker/internal/tracker"
)

func TestTopicMatcher(t *testing.T) {
	re := regexp.MustCompile(TopicMatcher(tracker.TopicStats, tracker.TopicStopped))
	if !re.MatchString("run.stats") || !re.MatchString("run.stopped") {
		t.Fatal("expected topics not matched")
	}
	if re.MatchString("runXstats") || re.MatchString("run.started") {
		t.Fatal("matcher too loose")
	}
}

func TestNewBusRegistersTrackerTopics(t *testing.T) {
	b, err := NewBus(1)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	seen := make(map[string]string)
	b.RegisterHandler("test", bus.Handler{
		Matcher: ".*",
		Handle: func(ctx context.Context, e bus.Event) {
			mu.Lock()
			seen[e.Topic] = e.ID
			mu.Unlock()
		},
	})
	for _, topic := range tracker.Topics {
		if err := b.Emit(context.Background(), topic, nil); err != nil {
			t.Fatalf("emit %s: %v", topic, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(tracker.Topics) {
		t.Fatalf("seen %v", seen)
	}
	ids := make(map[string]bool)
	for _, id := range seen {
		if id == "" || ids[id] {
			t.Fatalf("bad event id %q", id)
		}
		ids[id] = true
	}
}
