package events

import (
	"errors"
	"testing"
)

// recorder is a handler that records callback invocations.
type recorder struct {
	calls []string
	fail  bool
}

func (r *recorder) record(name string) error {
	r.calls = append(r.calls, name)
	if r.fail {
		return errors.New(name + " failed")
	}
	return nil
}

func (r *recorder) OnAnyEvent(Event) error { return r.record("any") }
func (r *recorder) OnCreated(Event) error  { return r.record("created") }
func (r *recorder) OnDeleted(Event) error  { return r.record("deleted") }
func (r *recorder) OnModified(Event) error { return r.record("modified") }
func (r *recorder) OnMoved(Event) error    { return r.record("moved") }

// TestDispatchOrder tests that the specific callback precedes OnAnyEvent.
func TestDispatchOrder(t *testing.T) {
	testCases := []struct {
		event    Event
		expected string
	}{
		{New(Created, "/a", false), "created"},
		{New(Deleted, "/a", false), "deleted"},
		{New(Modified, "/a", false), "modified"},
		{NewMoved("/a", "/b", false), "moved"},
	}
	for _, testCase := range testCases {
		r := &recorder{}
		if err := Dispatch(r, testCase.event); err != nil {
			t.Fatal("unable to dispatch:", err)
		}
		if len(r.calls) != 2 || r.calls[0] != testCase.expected || r.calls[1] != "any" {
			t.Errorf("unexpected call sequence for %v: %v", testCase.event, r.calls)
		}
	}
}

// TestDispatchErrors tests that both callbacks run and the first error is
// returned.
func TestDispatchErrors(t *testing.T) {
	r := &recorder{fail: true}
	err := Dispatch(r, New(Created, "/a", false))
	if err == nil || err.Error() != "created failed" {
		t.Error("unexpected error:", err)
	}
	if len(r.calls) != 2 {
		t.Error("OnAnyEvent skipped after failure")
	}
}

// TestDispatchPartialHandler tests handlers implementing a subset of
// callbacks.
func TestDispatchPartialHandler(t *testing.T) {
	var created int
	handler := &Funcs{Created: func(Event) error {
		created++
		return nil
	}}
	Dispatch(handler, New(Created, "/a", false))
	Dispatch(handler, New(Deleted, "/a", false))
	if created != 1 {
		t.Error("unexpected creation count:", created)
	}
	if err := Dispatch(struct{}{}, New(Created, "/a", false)); err != nil {
		t.Error("dispatch to handler without callbacks failed:", err)
	}
}
