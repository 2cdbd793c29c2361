package observer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mutagen-io/watchdog/pkg/events"
)

// TestObservedWatchMatches tests event matching for watches.
func TestObservedWatchMatches(t *testing.T) {
	recursive := ObservedWatch{Path: filepath.FromSlash("/w"), Recursive: true}
	flat := ObservedWatch{Path: filepath.FromSlash("/w")}
	testCases := []struct {
		event           events.Event
		expectRecursive bool
		expectFlat      bool
	}{
		{events.New(events.Created, filepath.FromSlash("/w"), true), true, true},
		{events.New(events.Created, filepath.FromSlash("/w/a"), false), true, true},
		{events.New(events.Created, filepath.FromSlash("/w/a/b"), false), true, false},
		{events.New(events.Created, filepath.FromSlash("/wx/a"), false), false, false},
		{events.NewMoved(filepath.FromSlash("/x/a"), filepath.FromSlash("/w/a"), false), true, true},
		{events.NewMoved(filepath.FromSlash("/w/a/b"), filepath.FromSlash("/x/b"), false), true, false},
	}
	for _, testCase := range testCases {
		if recursive.Matches(testCase.event) != testCase.expectRecursive {
			t.Error("recursive match mismatch for", testCase.event)
		}
		if flat.Matches(testCase.event) != testCase.expectFlat {
			t.Error("non-recursive match mismatch for", testCase.event)
		}
	}
}

// TestNewObservedWatch tests watch creation and normalization.
func TestNewObservedWatch(t *testing.T) {
	root := t.TempDir()
	watch, err := NewObservedWatch(filepath.Join(root, "x", ".."), true)
	if err != nil {
		t.Fatal("unable to create watch:", err)
	}
	if watch.Path != filepath.Clean(root) || !watch.Recursive {
		t.Error("unexpected watch:", watch)
	}
	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	if _, err := NewObservedWatch(file, true); err == nil {
		t.Error("watch created for file")
	}
}
