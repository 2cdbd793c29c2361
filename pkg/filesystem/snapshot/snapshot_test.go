package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

// TestTake tests snapshot creation and accounting on a real tree.
func TestTake(t *testing.T) {
	// Create a tree.
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0700); err != nil {
		t.Fatal("unable to create directories:", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "file"), []byte("12345"), 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "b", "nested"), []byte("123"), 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}

	// Take recursive and non-recursive snapshots.
	recursive, err := Take(root, true, nil)
	if err != nil {
		t.Fatal("unable to take recursive snapshot:", err)
	}
	shallow, err := Take(root, false, nil)
	if err != nil {
		t.Fatal("unable to take non-recursive snapshot:", err)
	}

	// Check contents.
	if recursive.Len() != 5 {
		t.Error("unexpected recursive entry count:", recursive.Paths())
	}
	if shallow.Len() != 2 {
		t.Error("unexpected non-recursive entry count:", shallow.Paths())
	}
	if !recursive.Recursive() || shallow.Recursive() || recursive.Root() != root {
		t.Error("snapshot parameters not recorded")
	}
	if entry, ok := recursive.Get(filepath.Join(root, "a", "file")); !ok || entry.Size != 5 || entry.IsDirectory {
		t.Error("unexpected file entry:", entry)
	}

	// Check statistics.
	statistics := recursive.Statistics()
	if statistics.Files != 2 || statistics.Directories != 3 || statistics.TotalSize != 8 {
		t.Error("unexpected statistics:", statistics)
	}
}

// TestTakeMissingRoot tests that a missing root is an error.
func TestTakeMissingRoot(t *testing.T) {
	if _, err := Take(filepath.Join(t.TempDir(), "missing"), true, nil); err == nil {
		t.Error("snapshot of missing root succeeded")
	}
}

// TestTakeSkipsVanished tests that entries vanishing during the walk are
// omitted.
func TestTakeSkipsVanished(t *testing.T) {
	// Create a tree.
	root := t.TempDir()
	for _, name := range []string{"keep", "vanish"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0600); err != nil {
			t.Fatal("unable to create file:", err)
		}
	}

	// Use a metadata function that reports one entry as vanished.
	options := &Options{
		Stat: func(path string) (os.FileInfo, error) {
			if filepath.Base(path) == "vanish" {
				return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
			}
			return os.Lstat(path)
		},
	}
	snapshot, err := Take(root, true, options)
	if err != nil {
		t.Fatal("unable to take snapshot:", err)
	}
	if _, ok := snapshot.Get(filepath.Join(root, "vanish")); ok {
		t.Error("vanished entry recorded")
	}
	if _, ok := snapshot.Get(filepath.Join(root, "keep")); !ok {
		t.Error("surviving entry omitted")
	}
}

// TestTakeCustomIdentity tests that the identity function is used.
func TestTakeCustomIdentity(t *testing.T) {
	root := t.TempDir()
	snapshot, err := Take(root, true, &Options{
		Identity: func(_ string, _ os.FileInfo) (uint64, uint64, error) {
			return 42, 7, nil
		},
	})
	if err != nil {
		t.Fatal("unable to take snapshot:", err)
	}
	if entry, _ := snapshot.Get(root); entry.Inode != 42 || entry.Device != 7 {
		t.Error("identity function not used:", entry)
	}
}
