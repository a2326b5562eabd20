package session

import "testing"

func TestTransition(t *testing.T) {
	all := []Status{StatusDisconnected, StatusConnecting, StatusConnected, StatusError}
	tests := []struct {
		name   string
		from   Status
		ev     Event
		want   Status
		wantOK bool
	}{
		{"dial from disconnected", StatusDisconnected, Event{Kind: EventDial}, StatusConnecting, true},
		{"dial from error", StatusError, Event{Kind: EventDial}, StatusConnecting, true},
		{"dial while connected", StatusConnected, Event{Kind: EventDial}, StatusConnected, false},
		{"opened", StatusConnecting, Event{Kind: EventOpened}, StatusConnected, true},
		{"opened late", StatusDisconnected, Event{Kind: EventOpened}, StatusDisconnected, false},
		{"intentional close while connected", StatusConnected, Event{Kind: EventClosed, Intentional: true, Code: 1000}, StatusDisconnected, true},
		{"intentional close while connecting", StatusConnecting, Event{Kind: EventClosed, Intentional: true}, StatusDisconnected, true},
		{"server fault close", StatusConnected, Event{Kind: EventClosed, Code: 1011}, StatusError, true},
		{"policy close", StatusConnected, Event{Kind: EventClosed, Code: 1008}, StatusError, true},
		{"normal code unsolicited", StatusConnected, Event{Kind: EventClosed, Code: 1000}, StatusError, true},
		{"close during connecting", StatusConnecting, Event{Kind: EventClosed, Code: -1}, StatusError, true},
		{"close after disconnect", StatusDisconnected, Event{Kind: EventClosed, Intentional: true}, StatusDisconnected, false},
		{"close after error", StatusError, Event{Kind: EventClosed}, StatusError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Transition(tt.from, tt.ev)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Transition(%s, %v) = (%s, %v), want (%s, %v)", tt.from, tt.ev.Kind, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	for _, from := range all {
		if got, _ := Transition(from, Event{Kind: EventSetupFailed}); got != StatusError {
			t.Errorf("Transition(%s, setup_failed) = %s, want error", from, got)
		}
		if got, _ := Transition(from, Event{Kind: EventDisconnect}); got != StatusDisconnected {
			t.Errorf("Transition(%s, disconnect) = %s, want disconnected", from, got)
		}
	}
}

func TestUnsolicitedCloseNeverDisconnects(t *testing.T) {
	for _, code := range []int{-1, 1000, 1001, 1006, 1008, 1011, 4000} {
		for _, from := range []Status{StatusConnecting, StatusConnected} {
			if got, _ := Transition(from, Event{Kind: EventClosed, Code: code}); got != StatusError {
				t.Errorf("unsolicited close %d from %s = %s, want error", code, from, got)
			}
		}
	}
}
