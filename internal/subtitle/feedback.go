package subtitle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
)

// Item is one feedback bubble.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackSink receives the live bubble list, newest first.
type FeedbackSink interface {
	SetFeedback([]Item)
}

// Queue is a bounded newest-first list of bubbles. Each bubble expires on
// its own timer, measured from its own arrival.
type Queue struct {
	clk  clock.Clock
	sink FeedbackSink
	ttl  time.Duration
	max  int

	mu     sync.Mutex
	items  []Item
	timers map[string]clock.Timer
}

// NewQueue creates a feedback queue.
func NewQueue(ttl time.Duration, maxItems int, clk clock.Clock, sink FeedbackSink) *Queue {
	if ttl <= 0 {
		ttl = DefaultFeedbackTTL
	}
	if maxItems <= 0 {
		maxItems = DefaultFeedbackMax
	}
	return &Queue{
		clk:    clock.OrReal(clk),
		sink:   sink,
		ttl:    ttl,
		max:    maxItems,
		items:  make([]Item, 0, maxItems),
		timers: make(map[string]clock.Timer),
	}
}

// Add puts text at the front, evicting the oldest bubbles beyond capacity.
func (q *Queue) Add(text string) Item {
	q.mu.Lock()
	item := Item{ID: uuid.NewString(), Text: text, Timestamp: q.clk.Now()}
	q.items = append([]Item{item}, q.items...)
	if len(q.items) > q.max {
		for _, old := range q.items[q.max:] {
			q.stopLocked(old.ID)
		}
		q.items = q.items[:q.max]
	}
	id := item.ID
	q.timers[id] = q.clk.AfterFunc(q.ttl, func() { q.expire(id) })
	snap := q.liveLocked()
	q.mu.Unlock()

	q.publish(snap)
	return item
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	kept := q.items[:0]
	for _, it := range q.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	q.items = kept
	q.items = q.liveLocked()
	snap := q.liveLocked()
	q.mu.Unlock()

	q.publish(snap)
}

// Items returns bubbles younger than the TTL, newest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.liveLocked()
}

// Clear cancels every pending expiry and empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	for id := range q.timers {
		q.stopLocked(id)
	}
	q.items = q.items[:0]
	q.mu.Unlock()

	q.publish([]Item{})
}

func (q *Queue) stopLocked(id string) {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
}

// liveLocked filters by age against the current time so bubbles added out
// of order still expire on schedule.
func (q *Queue) liveLocked() []Item {
	now := q.clk.Now()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if now.Sub(it.Timestamp) < q.ttl {
			out = append(out, it)
		}
	}
	return out
}

func (q *Queue) publish(items []Item) {
	if q.sink != nil {
		q.sink.SetFeedback(items)
	}
}
