package observer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
	"github.com/mutagen-io/watchdog/pkg/queue"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

// scriptedBackend is a backend that returns scripted batches.
type scriptedBackend struct {
	// batches are the batches to return, in order.
	batches chan []watching.RawEvent
	// failure, if non-nil, is returned once batches are exhausted.
	failure error
	// closed is closed on closure.
	closed chan struct{}
	// closeOnce guards closure.
	closeOnce sync.Once
	// descendantMoves is the reported descendant move capability.
	descendantMoves bool
}

// newScriptedBackend creates a scripted backend.
func newScriptedBackend(failure error, batches ...[]watching.RawEvent) *scriptedBackend {
	backend := &scriptedBackend{
		batches: make(chan []watching.RawEvent, len(batches)),
		failure: failure,
		closed:  make(chan struct{}),
	}
	for _, batch := range batches {
		backend.batches <- batch
	}
	return backend
}

// ReadEvents implements watching.Backend.ReadEvents.
func (b *scriptedBackend) ReadEvents(timeout time.Duration) ([]watching.RawEvent, error) {
	select {
	case <-b.closed:
		return nil, watching.ErrBackendClosed
	case batch := <-b.batches:
		return batch, nil
	default:
	}
	if b.failure != nil {
		return nil, b.failure
	}
	select {
	case <-b.closed:
		return nil, watching.ErrBackendClosed
	case <-time.After(timeout):
		return nil, nil
	}
}

// ReportsDescendantMoves implements watching.DescendantMoveReporter.
func (b *scriptedBackend) ReportsDescendantMoves() bool {
	return b.descendantMoves
}

// Close implements watching.Backend.Close.
func (b *scriptedBackend) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// newScriptedEmitter creates an emitter around a scripted backend.
func newScriptedEmitter(t *testing.T, root string, backend *scriptedBackend) (*Emitter, *queue.EventQueue[queuedEvent]) {
	t.Helper()
	baseline, err := snapshot.Take(root, true, nil)
	if err != nil {
		t.Fatal("unable to take baseline:", err)
	}
	eventQueue := queue.NewEventQueue[queuedEvent]()
	metrics, err := newMetrics(nil, eventQueue.Len)
	if err != nil {
		t.Fatal("unable to create metrics:", err)
	}
	return &Emitter{
		identifier: "emtr_test",
		watch:      ObservedWatch{Path: root, Recursive: true},
		settings: &emitterSettings{
			timeout: 10 * time.Millisecond,
			queue:   eventQueue,
			metrics: metrics,
		},
		backend:         backend,
		descendantMoves: backend.descendantMoves,
		baseline:        baseline,
		baselineTaken:   time.Now(),
		done:            make(chan struct{}),
	}, eventQueue
}

// collect reads events from a queue until the emitter stops or the specified
// count is reached.
func collect(t *testing.T, eventQueue *queue.EventQueue[queuedEvent], count int) []events.Event {
	t.Helper()
	var result []events.Event
	deadline := time.Now().Add(testDeadline)
	for len(result) < count && time.Now().Before(deadline) {
		if item, ok := eventQueue.Get(10 * time.Millisecond); ok {
			result = append(result, item.event)
		}
	}
	if len(result) < count {
		t.Fatal("insufficient events emitted:", result)
	}
	return result
}

// TestEmitterTranslation tests raw event translation and descendant move
// synthesis.
func TestEmitterTranslation(t *testing.T) {
	root := t.TempDir()
	destination := filepath.Join(root, "destination")
	if err := os.MkdirAll(filepath.Join(destination, "child"), 0700); err != nil {
		t.Fatal("unable to create directories:", err)
	}
	source := filepath.Join(root, "source")
	backend := newScriptedBackend(nil, []watching.RawEvent{
		{Action: watching.ActionAdded, Path: filepath.Join(root, "a")},
		{Action: watching.ActionModified, Path: filepath.Join(root, "a")},
		{Action: watching.ActionRemoved, Path: filepath.Join(root, "a")},
		{Action: watching.ActionMoved, Path: source, DestinationPath: destination, IsDirectory: true},
	})
	emitter, eventQueue := newScriptedEmitter(t, root, backend)
	emitter.Start()
	defer emitter.Stop()

	expected := []events.Event{
		events.New(events.Created, filepath.Join(root, "a"), false),
		events.New(events.Modified, filepath.Join(root, "a"), false),
		events.New(events.Deleted, filepath.Join(root, "a"), false),
		events.NewMoved(source, destination, true),
		events.NewMoved(filepath.Join(source, "child"), filepath.Join(destination, "child"), true).Synthetic(),
	}
	actual := collect(t, eventQueue, len(expected))
	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("event %d: %v != %v", i, actual[i], expected[i])
		}
	}
}

// TestEmitterNoSynthesisWhenReported tests that descendant moves aren't
// synthesized for backends that report them.
func TestEmitterNoSynthesisWhenReported(t *testing.T) {
	root := t.TempDir()
	destination := filepath.Join(root, "destination")
	if err := os.MkdirAll(filepath.Join(destination, "child"), 0700); err != nil {
		t.Fatal("unable to create directories:", err)
	}
	backend := newScriptedBackend(nil, []watching.RawEvent{
		{Action: watching.ActionMoved, Path: filepath.Join(root, "source"), DestinationPath: destination, IsDirectory: true},
		{Action: watching.ActionAdded, Path: filepath.Join(root, "marker")},
	})
	backend.descendantMoves = true
	emitter, eventQueue := newScriptedEmitter(t, root, backend)
	emitter.Start()
	defer emitter.Stop()
	actual := collect(t, eventQueue, 2)
	if actual[1].Path != filepath.Join(root, "marker") {
		t.Error("descendant moves synthesized:", actual)
	}
}

// TestEmitterResync tests that overflow triggers a rescan against the
// baseline.
func TestEmitterResync(t *testing.T) {
	root := t.TempDir()
	backend := newScriptedBackend(nil, []watching.RawEvent{
		{Action: watching.ActionOverflow, Path: root, IsDirectory: true},
	})
	emitter, eventQueue := newScriptedEmitter(t, root, backend)
	path := filepath.Join(root, "missed")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	emitter.Start()
	defer emitter.Stop()
	for _, event := range collect(t, eventQueue, 2) {
		if event.Type == events.Created && event.Path == path {
			return
		}
	}
	t.Error("missed creation not reported by rescan")
}

// TestEmitterReadFailure tests that read failures report deletion of the root
// and stop the emitter.
func TestEmitterReadFailure(t *testing.T) {
	root := t.TempDir()
	backend := newScriptedBackend(errors.New("device failure"))
	emitter, eventQueue := newScriptedEmitter(t, root, backend)
	emitter.Start()
	actual := collect(t, eventQueue, 1)
	if actual[0] != events.New(events.Deleted, root, true) {
		t.Error("unexpected event:", actual[0])
	}
	select {
	case <-emitter.Done():
	case <-time.After(testDeadline):
		t.Fatal("emitter did not stop")
	}
	emitter.Stop()
	if emitter.State() != EmitterStateStopped {
		t.Error("unexpected state:", emitter.State())
	}
}

// TestEmitterStopBeforeStart tests stopping an emitter that never started.
func TestEmitterStopBeforeStart(t *testing.T) {
	emitter, _ := newScriptedEmitter(t, t.TempDir(), newScriptedBackend(nil))
	emitter.Stop()
	emitter.Stop()
	emitter.Start()
	if emitter.State() != EmitterStateStopped {
		t.Error("unexpected state:", emitter.State())
	}
}

// TestEmitterBaselineRefresh tests that a refreshed baseline keeps rescans
// from reporting changes made before the refresh.
func TestEmitterBaselineRefresh(t *testing.T) {
	root := t.TempDir()
	emitter, eventQueue := newScriptedEmitter(t, root, newScriptedBackend(nil))
	defer emitter.Stop()
	early := filepath.Join(root, "early")
	if err := os.WriteFile(early, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}

	// A refresh is skipped until the baseline reaches the refresh interval.
	emitter.settings.baselineInterval = time.Hour
	emitter.refreshBaseline()
	if _, ok := emitter.baseline.Get(early); ok {
		t.Fatal("baseline refreshed before interval elapsed")
	}

	// Refresh the baseline and then make a change that's only visible to a
	// rescan.
	emitter.settings.baselineInterval = time.Nanosecond
	emitter.baselineTaken = time.Now().Add(-time.Second)
	emitter.refreshBaseline()
	late := filepath.Join(root, "late")
	if err := os.WriteFile(late, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}

	// Rescan and ensure that only the later change is reported.
	if !emitter.resync() {
		t.Fatal("rescan failed")
	}
	reported := false
	for item, ok := eventQueue.Get(0); ok; item, ok = eventQueue.Get(0) {
		if item.event.Path == early {
			t.Error("change preceding refresh reported:", item.event)
		} else if item.event == events.New(events.Created, late, false) {
			reported = true
		}
	}
	if !reported {
		t.Error("change following refresh not reported")
	}
}
