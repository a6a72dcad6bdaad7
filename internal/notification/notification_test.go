package notification

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeNotifier struct {
	name    string
	enabled bool
	events  []Event
	err     error
}

func (f *fakeNotifier) Name() string    { return f.name }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }
func (f *fakeNotifier) Send(event Event) error {
	f.events = append(f.events, event)
	return f.err
}

func TestManagerNotifyFansOutToEnabledNotifiers(t *testing.T) {
	a := &fakeNotifier{name: "a", enabled: true}
	b := &fakeNotifier{name: "b", enabled: true}
	m := NewManager()
	m.AddNotifier(a)
	m.AddNotifier(b)

	event := Event{Kind: KindEmergencyStop, TraderID: "t1", Message: "halted", Timestamp: time.Now()}
	if errs := m.Notify(event); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(a.events) != 1 || !reflect.DeepEqual(a.events[0], event) {
		t.Fatalf("notifier a did not receive event: %+v", a.events)
	}
	if len(b.events) != 1 || !reflect.DeepEqual(b.events[0], event) {
		t.Fatalf("notifier b did not receive event: %+v", b.events)
	}
}

func TestManagerNotifySkipsDisabledNotifiers(t *testing.T) {
	disabled := &fakeNotifier{name: "disabled", enabled: false}
	m := NewManager()
	m.AddNotifier(disabled)

	m.Notify(Event{Kind: KindTraderError, TraderID: "t1"})
	if len(disabled.events) != 0 {
		t.Fatalf("disabled notifier should not have been sent to, got %+v", disabled.events)
	}
}

func TestManagerNotifyCollectsErrorsWithoutStoppingOtherNotifiers(t *testing.T) {
	failing := &fakeNotifier{name: "failing", enabled: true, err: errors.New("boom")}
	ok := &fakeNotifier{name: "ok", enabled: true}
	m := NewManager()
	m.AddNotifier(failing)
	m.AddNotifier(ok)

	errs := m.Notify(Event{Kind: KindEmergencyStop})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if len(ok.events) != 1 {
		t.Fatalf("second notifier should still have received the event despite the first failing")
	}
}

func TestLoggingNotifierIsEnabledByDefault(t *testing.T) {
	n := NewLoggingNotifier()
	if !n.IsEnabled() {
		t.Fatal("expected LoggingNotifier to be enabled by default")
	}
	if n.Name() != "logging" {
		t.Fatalf("expected name %q, got %q", "logging", n.Name())
	}
	if err := n.Send(Event{Kind: KindTraderError, TraderID: "t1", Message: "oops"}); err != nil {
		t.Fatalf("Send returned unexpected error: %v", err)
	}
}
