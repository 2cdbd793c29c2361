package observer

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

const (
	// testTimeout is the observer timeout used in tests.
	testTimeout = 100 * time.Millisecond
	// testDeadline is the maximum time to wait for asynchronous delivery.
	testDeadline = 10 * time.Second
	// testQuietPeriod is the period used to verify that nothing is delivered.
	testQuietPeriod = 500 * time.Millisecond
)

// recorder is a handler that records delivered events.
type recorder struct {
	// events receives delivered events.
	events chan events.Event
}

// newRecorder creates a new recorder.
func newRecorder() *recorder {
	return &recorder{events: make(chan events.Event, 1024)}
}

// OnAnyEvent implements events.AnyEventHandler.
func (r *recorder) OnAnyEvent(event events.Event) error {
	r.events <- event
	return nil
}

// waitFor reads events until one satisfies the predicate, failing the test if
// none does before the deadline. It returns every event read.
func (r *recorder) waitFor(t *testing.T, predicate func(events.Event) bool) []events.Event {
	t.Helper()
	var seen []events.Event
	deadline := time.NewTimer(testDeadline)
	defer deadline.Stop()
	for {
		select {
		case event := <-r.events:
			seen = append(seen, event)
			if predicate(event) {
				return seen
			}
		case <-deadline.C:
			t.Fatal("expected event not delivered, saw:", seen)
		}
	}
}

// drain collects events delivered within the specified period.
func (r *recorder) drain(period time.Duration) []events.Event {
	var seen []events.Event
	timer := time.NewTimer(period)
	defer timer.Stop()
	for {
		select {
		case event := <-r.events:
			seen = append(seen, event)
		case <-timer.C:
			return seen
		}
	}
}

// is creates a predicate matching an event type and path.
func is(t events.Type, path string) func(events.Event) bool {
	return func(event events.Event) bool {
		return event.Type == t && event.Path == path
	}
}

// newTestObserver creates and starts an observer with the specified mode.
func newTestObserver(t *testing.T, mode watching.Mode) *Observer {
	t.Helper()
	observer, err := New(&Options{Timeout: testTimeout, Mode: mode})
	if err != nil {
		t.Fatal("unable to create observer:", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatal("unable to start observer:", err)
	}
	t.Cleanup(observer.Stop)
	return observer
}

// testRoot creates a temporary watch root with symbolic links resolved.
func testRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal("unable to resolve temporary directory:", err)
	}
	return root
}

// TestCreateDelivered tests that file creation is delivered.
func TestCreateDelivered(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	if _, err := observer.Schedule(handler, root, true); err != nil {
		t.Fatal("unable to schedule watch:", err)
	}

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("a"), 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	handler.waitFor(t, is(events.Created, path))
}

// TestRenameDeliveredAsMove tests that a rename within a watch is delivered as
// a single move rather than a deletion and creation.
func TestRenameDeliveredAsMove(t *testing.T) {
	for _, mode := range []watching.Mode{watching.ModeDefault, watching.ModeForcePoll} {
		t.Run(mode.String(), func(t *testing.T) {
			root := testRoot(t)
			source := filepath.Join(root, "a.txt")
			if err := os.WriteFile(source, nil, 0600); err != nil {
				t.Fatal("unable to create file:", err)
			}
			observer := newTestObserver(t, mode)
			handler := newRecorder()
			if _, err := observer.Schedule(handler, root, true); err != nil {
				t.Fatal("unable to schedule watch:", err)
			}

			destination := filepath.Join(root, "b.txt")
			if err := os.Rename(source, destination); err != nil {
				t.Fatal("unable to rename file:", err)
			}
			seen := handler.waitFor(t, func(event events.Event) bool {
				return event.Type == events.Moved && event.Path == source && event.DestinationPath == destination
			})
			seen = append(seen, handler.drain(testQuietPeriod)...)
			for _, event := range seen {
				if (event.Type == events.Deleted && event.Path == source) ||
					(event.Type == events.Created && event.Path == destination) {
					t.Error("rename reported as separate deletion or creation:", event)
				}
			}
		})
	}
}

// TestHandlersShareEmitter tests that two handlers scheduled on the same watch
// share one emitter and both receive events.
func TestHandlersShareEmitter(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	first, second := newRecorder(), newRecorder()
	firstWatch, err := observer.Schedule(first, root, true)
	if err != nil {
		t.Fatal("unable to schedule first handler:", err)
	}
	secondWatch, err := observer.Schedule(second, root, true)
	if err != nil {
		t.Fatal("unable to schedule second handler:", err)
	}
	if firstWatch != secondWatch {
		t.Fatal("equal watches not identical:", firstWatch, secondWatch)
	}
	if observer.Emitters() != 1 {
		t.Fatal("unexpected emitter count:", observer.Emitters())
	}

	path := filepath.Join(root, "shared")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	first.waitFor(t, is(events.Created, path))
	second.waitFor(t, is(events.Created, path))
}

// TestUnscheduleStopsDelivery tests that unscheduling a watch stops delivery.
func TestUnscheduleStopsDelivery(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	watch, err := observer.Schedule(handler, root, true)
	if err != nil {
		t.Fatal("unable to schedule watch:", err)
	}

	observer.Unschedule(watch)
	if observer.Emitters() != 0 || len(observer.Watches()) != 0 {
		t.Fatal("watch not removed")
	}
	if err := os.WriteFile(filepath.Join(root, "ignored"), nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	if seen := handler.drain(testQuietPeriod); len(seen) != 0 {
		t.Error("events delivered after unscheduling:", seen)
	}

	// Unscheduling again should have no effect.
	observer.Unschedule(watch)
	observer.UnscheduleAll()
	observer.UnscheduleAll()
}

// TestRemoveHandler tests that removing the last handler stops the watch while
// removing other handlers doesn't.
func TestRemoveHandler(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	first, second := newRecorder(), newRecorder()
	watch, err := observer.Schedule(first, root, true)
	if err != nil {
		t.Fatal("unable to schedule watch:", err)
	}
	if err := observer.AddHandler(second, watch); err != nil {
		t.Fatal("unable to add handler:", err)
	}
	if err := observer.AddHandler(second, watch); err != nil {
		t.Fatal("unable to add duplicate handler:", err)
	}

	// Remove the first handler and ensure that the second still receives
	// events exactly once.
	observer.RemoveHandler(first, watch)
	if !observer.HasHandlers(watch) || observer.Emitters() != 1 {
		t.Fatal("watch removed with handlers remaining")
	}
	path := filepath.Join(root, "file")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	second.waitFor(t, is(events.Created, path))
	for _, event := range second.drain(testQuietPeriod) {
		if event.Type == events.Created && event.Path == path {
			t.Error("duplicate handler registration delivered twice")
		}
	}
	if len(first.drain(0)) != 0 {
		t.Error("removed handler received events")
	}

	// Remove the last handler.
	observer.RemoveHandler(second, watch)
	if observer.HasHandlers(watch) || observer.Emitters() != 0 {
		t.Error("watch not removed with last handler")
	}
	if err := observer.AddHandler(second, watch); !errors.Is(err, ErrWatchNotScheduled) {
		t.Error("handler added to unscheduled watch:", err)
	}
}

// panicker is a handler that panics for every event.
type panicker struct{}

// OnAnyEvent implements events.AnyEventHandler.
func (panicker) OnAnyEvent(_ events.Event) error {
	panic("handler failure")
}

// TestHandlerFailuresContained tests that failing and panicking handlers don't
// prevent delivery to other handlers.
func TestHandlerFailuresContained(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	failing := &events.Funcs{AnyEvent: func(_ events.Event) error {
		return errors.New("handler error")
	}}
	handler := newRecorder()
	for _, h := range []events.Handler{panicker{}, failing, handler} {
		if _, err := observer.Schedule(h, root, true); err != nil {
			t.Fatal("unable to schedule handler:", err)
		}
	}
	for _, name := range []string{"first", "second"} {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal("unable to create file:", err)
		}
		handler.waitFor(t, is(events.Created, path))
	}
}

// TestNonRecursiveDirectChildrenOnly tests that non-recursive watches only
// deliver events for direct children.
func TestNonRecursiveDirectChildrenOnly(t *testing.T) {
	root := testRoot(t)
	nested := filepath.Join(root, "nested")
	if err := os.Mkdir(nested, 0700); err != nil {
		t.Fatal("unable to create directory:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	if _, err := observer.Schedule(handler, root, false); err != nil {
		t.Fatal("unable to schedule watch:", err)
	}

	deep := filepath.Join(nested, "deep")
	if err := os.WriteFile(deep, nil, 0600); err != nil {
		t.Fatal("unable to create nested file:", err)
	}
	shallow := filepath.Join(root, "shallow")
	if err := os.WriteFile(shallow, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	seen := handler.waitFor(t, is(events.Created, shallow))
	seen = append(seen, handler.drain(testQuietPeriod)...)
	for _, event := range seen {
		if event.Path == deep {
			t.Error("grandchild event delivered to non-recursive watch:", event)
		}
	}
}

// TestDirectoryMoveDescendants tests that moving a directory reports moves for
// its descendants.
func TestDirectoryMoveDescendants(t *testing.T) {
	root := testRoot(t)
	source := filepath.Join(root, "source")
	if err := os.MkdirAll(filepath.Join(source, "child"), 0700); err != nil {
		t.Fatal("unable to create directories:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	if _, err := observer.Schedule(handler, root, true); err != nil {
		t.Fatal("unable to schedule watch:", err)
	}

	destination := filepath.Join(root, "destination")
	if err := os.Rename(source, destination); err != nil {
		t.Fatal("unable to move directory:", err)
	}
	handler.waitFor(t, func(event events.Event) bool {
		return event.Type == events.Moved &&
			event.Path == filepath.Join(source, "child") &&
			event.DestinationPath == filepath.Join(destination, "child")
	})
}

// TestRootDeletion tests that deleting the watch root is reported and stops
// the emitter.
func TestRootDeletion(t *testing.T) {
	root := filepath.Join(testRoot(t), "root")
	if err := os.Mkdir(root, 0700); err != nil {
		t.Fatal("unable to create root:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	watch, err := observer.Schedule(handler, root, true)
	if err != nil {
		t.Fatal("unable to schedule watch:", err)
	}
	emitter, ok := observer.Emitter(watch)
	if !ok {
		t.Fatal("emitter not registered")
	}

	if err := os.Remove(root); err != nil {
		t.Fatal("unable to remove root:", err)
	}
	handler.waitFor(t, func(event events.Event) bool {
		return event.Type == events.Deleted && event.Path == root && event.IsDirectory
	})
	select {
	case <-emitter.Done():
	case <-time.After(testDeadline):
		t.Fatal("emitter did not stop after root deletion")
	}
	if emitter.State() != EmitterStateStopped {
		t.Error("unexpected emitter state:", emitter.State())
	}
}

// TestInvalidWatchPath tests that invalid paths are rejected.
func TestInvalidWatchPath(t *testing.T) {
	root := testRoot(t)
	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	for _, path := range []string{filepath.Join(root, "missing"), file} {
		if _, err := observer.Schedule(newRecorder(), path, true); !errors.Is(err, ErrInvalidWatchPath) {
			t.Errorf("%s: unexpected error: %v", path, err)
		}
	}
	if observer.Emitters() != 0 {
		t.Error("emitter created for invalid path")
	}
}

// TestWatchLimit tests that the factory's watch limit is surfaced on
// scheduling.
func TestWatchLimit(t *testing.T) {
	observer, err := New(&Options{
		Timeout: testTimeout,
		Mode:    watching.ModePortable,
		Factory: &watching.Factory{MaximumWatches: 1},
	})
	if err != nil {
		t.Fatal("unable to create observer:", err)
	}
	defer observer.Stop()
	if _, err := observer.Schedule(newRecorder(), testRoot(t), true); err != nil {
		t.Fatal("unable to schedule first watch:", err)
	}
	if _, err := observer.Schedule(newRecorder(), testRoot(t), true); !errors.Is(err, watching.ErrWatchLimitReached) {
		t.Error("watch limit not surfaced:", err)
	}
}

// TestLifecycle tests observer lifecycle transitions.
func TestLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	observer, err := New(&Options{Timeout: testTimeout, Registerer: registry})
	if err != nil {
		t.Fatal("unable to create observer:", err)
	}
	if observer.Started() || observer.Stopped() {
		t.Fatal("unexpected initial state")
	}
	watch, err := observer.Schedule(newRecorder(), testRoot(t), true)
	if err != nil {
		t.Fatal("unable to schedule watch:", err)
	}
	emitter, _ := observer.Emitter(watch)
	if emitter.State() != EmitterStateCreated {
		t.Error("emitter started before observer:", emitter.State())
	}
	if err := observer.Start(); err != nil {
		t.Fatal("unable to start observer:", err)
	}
	if err := observer.Start(); err != nil {
		t.Fatal("repeated start failed:", err)
	}
	if !observer.Started() {
		t.Error("observer not started")
	}
	if families, err := registry.Gather(); err != nil || len(families) == 0 {
		t.Error("metrics not registered:", err)
	}

	observer.Stop()
	observer.Stop()
	if !observer.Stopped() || observer.Started() {
		t.Error("observer not stopped")
	}
	if emitter.State() != EmitterStateStopped {
		t.Error("emitter not stopped:", emitter.State())
	}
	if err := observer.Start(); err != ErrObserverStopped {
		t.Error("stopped observer restarted:", err)
	}
	if _, err := observer.Schedule(newRecorder(), testRoot(t), true); err != ErrObserverStopped {
		t.Error("scheduled on stopped observer:", err)
	}
}

// TestSubscription tests channel-based subscriptions.
func TestSubscription(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)
	closed := make(chan struct{})
	subscription, err := observer.Subscribe(root, true, func() { close(closed) })
	if err != nil {
		t.Fatal("unable to subscribe:", err)
	}

	path := filepath.Join(root, "subscribed")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	deadline := time.After(testDeadline)
	for received := false; !received; {
		select {
		case event := <-subscription.Events():
			received = event.Type == events.Created && event.Path == path
		case <-deadline:
			t.Fatal("subscription did not receive event")
		}
	}

	if err := subscription.Close(); err != nil {
		t.Fatal("unable to close subscription:", err)
	}
	subscription.Close()
	select {
	case <-closed:
	default:
		t.Error("close callback not invoked")
	}
	for range subscription.Events() {
	}
	if observer.Emitters() != 0 {
		t.Error("subscription watch not removed")
	}
}

// TestOverlappingWatchesDeliverOnce tests that a handler on a watch that
// overlaps another watch receives each event exactly once.
func TestOverlappingWatchesDeliverOnce(t *testing.T) {
	root := testRoot(t)
	nested := filepath.Join(root, "sub")
	if err := os.Mkdir(nested, 0700); err != nil {
		t.Fatal("unable to create directory:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	if _, err := observer.Schedule(handler, root, true); err != nil {
		t.Fatal("unable to schedule outer watch:", err)
	}
	if _, err := observer.Schedule(&events.Funcs{}, nested, true); err != nil {
		t.Fatal("unable to schedule nested watch:", err)
	}

	// Create files beneath the nested watch.
	const count = 20
	for i := 0; i < count; i++ {
		path := filepath.Join(nested, fmt.Sprintf("file-%02d", i))
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal("unable to create file:", err)
		}
	}

	// Wait for every creation and then for a quiet period.
	created := make(map[string]int)
	handler.waitFor(t, func(event events.Event) bool {
		if event.Type == events.Created && filepath.Dir(event.Path) == nested {
			created[event.Path]++
		}
		return len(created) == count
	})
	for _, event := range handler.drain(testQuietPeriod) {
		if event.Type == events.Created && filepath.Dir(event.Path) == nested {
			created[event.Path]++
		}
	}
	for path, deliveries := range created {
		if deliveries != 1 {
			t.Errorf("%s: creation delivered %d times", path, deliveries)
		}
	}
}

// TestConcurrentScheduleSharesEmitter tests that concurrently scheduling the
// same watch creates a single emitter shared by every handler.
func TestConcurrentScheduleSharesEmitter(t *testing.T) {
	root := testRoot(t)
	observer := newTestObserver(t, watching.ModeDefault)

	// Schedule handlers concurrently.
	const count = 8
	handlers := make([]*recorder, count)
	failures := make(chan error, count)
	var group sync.WaitGroup
	for i := range handlers {
		handlers[i] = newRecorder()
		group.Add(1)
		go func(handler *recorder) {
			defer group.Done()
			if _, err := observer.Schedule(handler, root, true); err != nil {
				failures <- err
			}
		}(handlers[i])
	}
	group.Wait()
	close(failures)
	for err := range failures {
		t.Fatal("unable to schedule watch:", err)
	}
	if observer.Emitters() != 1 || len(observer.Watches()) != 1 {
		t.Fatal("concurrent scheduling created multiple emitters:", observer.Emitters())
	}

	// Ensure that every handler receives events.
	path := filepath.Join(root, "shared")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	for _, handler := range handlers {
		handler.waitFor(t, is(events.Created, path))
	}
}

// TestMoveOutAndRecreateOrdering tests that a file moved out of a watch and
// then recreated is reported as deleted before it's reported as created.
func TestMoveOutAndRecreateOrdering(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("native notification ordering only verified with inotify")
	}
	root := testRoot(t)
	outside := testRoot(t)
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	observer := newTestObserver(t, watching.ModeDefault)
	handler := newRecorder()
	if _, err := observer.Schedule(handler, root, true); err != nil {
		t.Fatal("unable to schedule watch:", err)
	}

	// Move the file out and recreate it.
	if err := os.Rename(path, filepath.Join(outside, "a.txt")); err != nil {
		t.Fatal("unable to move file out:", err)
	}
	if err := os.WriteFile(path, []byte("new"), 0600); err != nil {
		t.Fatal("unable to recreate file:", err)
	}
	seen := handler.waitFor(t, is(events.Created, path))
	seen = append(seen, handler.drain(testQuietPeriod)...)

	// Verify the ordering of the events for the file.
	var sequence []events.Type
	for _, event := range seen {
		if event.Path == path {
			sequence = append(sequence, event.Type)
		}
	}
	deleted, created := -1, -1
	for i, eventType := range sequence {
		if eventType == events.Deleted && deleted < 0 {
			deleted = i
		} else if eventType == events.Created && created < 0 {
			created = i
		}
	}
	if deleted < 0 || deleted > created {
		t.Fatal("deletion not reported before creation:", sequence)
	}
	if sequence[len(sequence)-1] == events.Deleted {
		t.Error("recreated file last reported as deleted:", sequence)
	}
}
