package watching

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
)

// rawEventsFromDiff converts a snapshot difference into raw events in the
// order defined by snapshot.Diff.Events.
func rawEventsFromDiff(diff *snapshot.Diff) []RawEvent {
	converted := diff.Events()
	result := make([]RawEvent, 0, len(converted))
	for _, event := range converted {
		raw := RawEvent{Path: event.Path, IsDirectory: event.IsDirectory}
		switch event.Type {
		case events.Created:
			raw.Action = ActionAdded
		case events.Deleted:
			raw.Action = ActionRemoved
		case events.Modified:
			raw.Action = ActionModified
		case events.Moved:
			raw.Action = ActionMoved
			raw.DestinationPath = event.DestinationPath
		}
		result = append(result, raw)
	}
	return result
}

// pollingBackend detects changes by periodically snapshotting the watched path
// and comparing successive snapshots.
type pollingBackend struct {
	// root is the watched path.
	root string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// previous is the most recent snapshot.
	previous *snapshot.Snapshot
	// closed is closed when the backend is closed.
	closed chan struct{}
	// closeOnce guards closure.
	closeOnce sync.Once
}

// newPollingBackend creates a new polling backend.
func newPollingBackend(root string, recursive bool, settings *backendSettings) (*pollingBackend, error) {
	// Use the baseline or take an initial snapshot.
	previous := settings.baseline
	if previous == nil {
		var err error
		if previous, err = snapshot.Take(root, recursive, nil); err != nil {
			return nil, errors.Wrap(err, "unable to take initial snapshot")
		}
	}

	// Done.
	return &pollingBackend{
		root:      root,
		recursive: recursive,
		previous:  previous,
		closed:    make(chan struct{}),
	}, nil
}

// ReadEvents implements Backend.ReadEvents. It waits for the full timeout and
// then compares a fresh snapshot against the previous one.
func (b *pollingBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	// Wait for the polling interval or closure.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.closed:
		return nil, ErrBackendClosed
	case <-timer.C:
	}

	// Take a new snapshot. If the root has disappeared, then report that.
	current, err := snapshot.Take(b.root, b.recursive, nil)
	if err != nil {
		if filesystem.IsVanishedOrForbidden(err) {
			return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
		}
		return nil, errors.Wrap(err, "unable to take snapshot")
	}
	if entry, ok := current.Get(b.root); !ok || !entry.IsDirectory {
		return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
	}

	// Compute the difference and update the reference.
	diff := snapshot.Compute(b.previous, current, nil)
	b.previous = current
	return rawEventsFromDiff(diff), nil
}

// ReportsDescendantMoves implements DescendantMoveReporter.ReportsDescendantMoves.
func (b *pollingBackend) ReportsDescendantMoves() bool {
	return true
}

// Close implements Backend.Close.
func (b *pollingBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
	return nil
}
