package subtitle

import (
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/posecoach/platform/internal/clock"
)

type sinkRecorder struct {
	mu       sync.Mutex
	caption  State
	feedback []Item
	updates  int
}

func (s *sinkRecorder) SetSubtitle(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caption = st
	s.updates++
}

func (s *sinkRecorder) SetFeedback(items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = items
}

func newFeed(clk clock.Clock, sink *sinkRecorder) *Feed {
	return &Feed{
		Caption: NewCaption(DefaultCaptionConfig(), clk, sink),
		Bubbles: NewQueue(DefaultFeedbackTTL, DefaultFeedbackMax, clk, sink),
	}
}

func TestIsThinking(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"**Assessing pose**", true},
		{"  **Planning** the next cue", true},
		{"Chin up", false},
		{"**bold without close", false},
		{"a", true},
		{"   ", true},
		{"", true},
		{"ok", false},
		{" .", true},
	}
	for _, tt := range tests {
		if got := IsThinking(tt.in); got != tt.want {
			t.Errorf("IsThinking(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCaptionWindowing(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &sinkRecorder{}
	c := NewCaption(DefaultCaptionConfig(), clk, sink)

	c.Push("Hold")
	clk.Advance(500 * time.Millisecond)
	if got := c.Push(" steady").Text; got != "Hold steady" {
		t.Errorf("caption = %q, want %q", got, "Hold steady")
	}

	clk.Advance(3500 * time.Millisecond) // t=4000
	if got := c.Push("New").Text; got != "New" {
		t.Errorf("caption = %q, want %q", got, "New")
	}
}

func TestCaptionResetBoundary(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := NewCaption(CaptionConfig{ResetAfter: 3 * time.Second, FadeAfter: 10 * time.Second}, clk, nil)

	c.Push("a1")
	clk.Advance(2999 * time.Millisecond)
	if got := c.Push("b2").Text; got != "a1b2" {
		t.Errorf("caption at 2999ms gap = %q, want %q", got, "a1b2")
	}
	clk.Advance(3000 * time.Millisecond)
	if got := c.Push("c3").Text; got != "c3" {
		t.Errorf("caption at 3000ms gap = %q, want %q", got, "c3")
	}
}

func TestCaptionFadeThenPurge(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &sinkRecorder{}
	c := NewCaption(DefaultCaptionConfig(), clk, sink)

	c.Push("Relax your shoulders")
	clk.Advance(1999 * time.Millisecond)
	if !c.State().Visible {
		t.Fatal("caption hidden before fade timeout")
	}
	clk.Advance(time.Millisecond)
	st := c.State()
	if st.Visible || st.Text != "Relax your shoulders" {
		t.Errorf("after fade: %+v, want hidden with text kept", st)
	}
	clk.Advance(DefaultPurgeAfter)
	if st := c.State(); st.Text != "" {
		t.Errorf("after purge: text = %q, want empty", st.Text)
	}
	if sink.caption.Text != "" || sink.caption.Visible {
		t.Errorf("sink = %+v, want cleared", sink.caption)
	}
}

func TestCaptionPushRestartsFade(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	c := NewCaption(DefaultCaptionConfig(), clk, nil)

	c.Push("one")
	clk.Advance(1500 * time.Millisecond)
	c.Push(" two")
	clk.Advance(1500 * time.Millisecond) // 3000ms since first, 1500 since second
	if !c.State().Visible {
		t.Error("fade timer was not restarted by the second fragment")
	}
	if clk.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", clk.Pending())
	}
}

func TestCaptionClearCancelsTimers(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &sinkRecorder{}
	c := NewCaption(DefaultCaptionConfig(), clk, sink)

	c.Push("Step left")
	c.Clear()
	if clk.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clk.Pending())
	}
	if st := c.State(); st.Text != "" || st.Visible {
		t.Errorf("State() = %+v, want empty", st)
	}
	updates := sink.updates
	clk.Advance(10 * time.Second)
	if sink.updates != updates {
		t.Error("stale timer published after Clear")
	}
}

func TestFeedFiltersThinking(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &sinkRecorder{}
	f := newFeed(clk, sink)

	if f.Push("**Assessing pose**") {
		t.Error("Push(thinking) = true, want false")
	}
	if c := f.Caption.State(); c.Text != "" || c.Visible {
		t.Errorf("caption changed by thinking token: %+v", c)
	}
	if n := len(f.Bubbles.Items()); n != 0 {
		t.Errorf("bubbles = %d, want 0", n)
	}

	if !f.Push("Chin up") {
		t.Error("Push(\"Chin up\") = false, want true")
	}
	if got := f.Caption.State().Text; got != "Chin up" {
		t.Errorf("caption = %q, want %q", got, "Chin up")
	}
	if items := f.Bubbles.Items(); len(items) != 1 || items[0].Text != "Chin up" {
		t.Errorf("bubbles = %+v", items)
	}
}

func TestQueueTTL(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	q := NewQueue(DefaultFeedbackTTL, DefaultFeedbackMax, clk, nil)

	item := q.Add("Lift your chin")
	if item.ID == "" {
		t.Fatal("item has no id")
	}
	clk.Advance(3999 * time.Millisecond)
	if n := len(q.Items()); n != 1 {
		t.Fatalf("at 3999ms: %d items, want 1", n)
	}
	clk.Advance(2 * time.Millisecond)
	if n := len(q.Items()); n != 0 {
		t.Errorf("at 4001ms: %d items, want 0", n)
	}
	if clk.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clk.Pending())
	}
}

func TestQueueIndependentExpiry(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sink := &sinkRecorder{}
	q := NewQueue(DefaultFeedbackTTL, DefaultFeedbackMax, clk, sink)

	q.Add("first")
	clk.Advance(time.Second)
	q.Add("second")
	clk.Advance(3001 * time.Millisecond) // first is 4001ms old, second 3001ms

	items := q.Items()
	if len(items) != 1 || items[0].Text != "second" {
		t.Errorf("items = %+v, want [second]", items)
	}
	if len(sink.feedback) != 1 {
		t.Errorf("sink has %d items, want 1", len(sink.feedback))
	}
}

func TestQueueCapacity(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	q := NewQueue(DefaultFeedbackTTL, DefaultFeedbackMax, clk, nil)

	for _, s := range []string{"a1", "b2", "c3", "d4"} {
		q.Add(s)
		clk.Advance(100 * time.Millisecond)
	}

	items := q.Items()
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	want := []string{"d4", "c3", "b2"}
	for i, w := range want {
		if items[i].Text != w {
			t.Errorf("items[%d] = %q, want %q", i, items[i].Text, w)
		}
	}
	if clk.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3 (evicted timer cancelled)", clk.Pending())
	}
}

func TestQueueClear(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	q := NewQueue(DefaultFeedbackTTL, DefaultFeedbackMax, clk, nil)
	q.Add("a1")
	q.Add("b2")

	q.Clear()
	if len(q.Items()) != 0 || clk.Pending() != 0 {
		t.Errorf("after Clear: %d items, %d timers", len(q.Items()), clk.Pending())
	}
}
