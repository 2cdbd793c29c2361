package filesystem

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

// fakeInfo is a minimal os.FileInfo implementation used for injected walks.
type fakeInfo struct {
	name      string
	directory bool
}

func (i *fakeInfo) Name() string { return i.name }
func (i *fakeInfo) Size() int64  { return 0 }
func (i *fakeInfo) Mode() os.FileMode {
	if i.directory {
		return os.ModeDir | 0755
	}
	return 0644
}
func (i *fakeInfo) ModTime() time.Time { return time.Time{} }
func (i *fakeInfo) IsDir() bool        { return i.directory }
func (i *fakeInfo) Sys() interface{}   { return nil }

// fakeTree is an in-memory tree description mapping directory paths to their
// children. Paths not present as keys are files.
type fakeTree map[string][]string

func (f fakeTree) stat(path string) (os.FileInfo, error) {
	if path == "/root/vanished" {
		return nil, os.ErrNotExist
	}
	if path == "/root/forbidden" {
		return nil, os.ErrPermission
	}
	_, directory := f[path]
	return &fakeInfo{name: filepath.Base(path), directory: directory}, nil
}

func (f fakeTree) readDirectory(path string) ([]string, error) {
	children, ok := f[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return children, nil
}

// newFakeTree creates the tree used by injected walk tests.
func newFakeTree() fakeTree {
	return fakeTree{
		"/root":         {"a", "b", "vanished", "forbidden"},
		"/root/b":       {"c", "d"},
		"/root/b/d":     {"e"},
	}
}

// collect performs a walk and records visited paths.
func collect(t *testing.T, root string, options *WalkOptions) []string {
	t.Helper()
	var visited []string
	err := Walk(root, options, func(path string, _ os.FileInfo) error {
		visited = append(visited, filepath.ToSlash(path))
		return nil
	})
	if err != nil {
		t.Fatal("unable to walk:", err)
	}
	return visited
}

// TestWalkInjectedRecursive tests a recursive walk with injected functions.
func TestWalkInjectedRecursive(t *testing.T) {
	if filepath.Separator != '/' {
		t.Skip("injected tree uses POSIX paths")
	}
	tree := newFakeTree()
	visited := collect(t, "/root", &WalkOptions{
		Recursive:     true,
		Stat:          tree.stat,
		ReadDirectory: tree.readDirectory,
	})
	expected := []string{"/root", "/root/a", "/root/b", "/root/b/c", "/root/b/d", "/root/b/d/e"}
	if len(visited) != len(expected) {
		t.Fatalf("visit count mismatch: %v != %v", visited, expected)
	}
	for i := range expected {
		if visited[i] != expected[i] {
			t.Errorf("visit mismatch at %d: %s != %s", i, visited[i], expected[i])
		}
	}
}

// TestWalkInjectedNonRecursive tests that non-recursive walks only visit the
// root and its immediate children.
func TestWalkInjectedNonRecursive(t *testing.T) {
	if filepath.Separator != '/' {
		t.Skip("injected tree uses POSIX paths")
	}
	tree := newFakeTree()
	visited := collect(t, "/root", &WalkOptions{
		Stat:          tree.stat,
		ReadDirectory: tree.readDirectory,
	})
	expected := []string{"/root", "/root/a", "/root/b"}
	if len(visited) != len(expected) {
		t.Fatalf("visit count mismatch: %v != %v", visited, expected)
	}
}

// TestWalkRootFailure tests that a failure to stat the root is reported.
func TestWalkRootFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	err := Walk(root, nil, func(string, os.FileInfo) error { return nil })
	if err == nil {
		t.Fatal("walk of missing root succeeded")
	}
	if !IsVanishedOrForbidden(err) {
		t.Error("root failure not classified as vanished:", err)
	}
}

// TestWalkSkipDirectory tests that SkipDirectory prunes traversal.
func TestWalkSkipDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "skipped", "nested"), 0700); err != nil {
		t.Fatal("unable to create directories:", err)
	}
	if err := os.WriteFile(filepath.Join(root, "file"), nil, 0600); err != nil {
		t.Fatal("unable to create file:", err)
	}

	var visited []string
	err := Walk(root, &WalkOptions{Recursive: true}, func(path string, info os.FileInfo) error {
		visited = append(visited, path)
		if info.IsDir() && filepath.Base(path) == "skipped" {
			return SkipDirectory
		}
		return nil
	})
	if err != nil {
		t.Fatal("unable to walk:", err)
	}
	sort.Strings(visited)
	expected := []string{root, filepath.Join(root, "file"), filepath.Join(root, "skipped")}
	sort.Strings(expected)
	if len(visited) != len(expected) {
		t.Fatalf("visit mismatch: %v != %v", visited, expected)
	}
	for i := range expected {
		if visited[i] != expected[i] {
			t.Errorf("visit mismatch: %s != %s", visited[i], expected[i])
		}
	}
}

// TestFileIdentity tests that distinct files have distinct identities and that
// identities survive renames.
func TestFileIdentity(t *testing.T) {
	root := t.TempDir()
	first := filepath.Join(root, "first")
	second := filepath.Join(root, "second")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal("unable to create file:", err)
		}
	}

	identity := func(path string) uint64 {
		info, err := os.Lstat(path)
		if err != nil {
			t.Fatal("unable to query metadata:", err)
		}
		inode, _, err := FileIdentity(path, info)
		if err != nil {
			t.Fatal("unable to compute identity:", err)
		}
		return inode
	}

	firstInode, secondInode := identity(first), identity(second)
	if firstInode == secondInode {
		t.Error("distinct files share identity")
	}

	renamed := filepath.Join(root, "renamed")
	if err := os.Rename(first, renamed); err != nil {
		t.Fatal("unable to rename file:", err)
	}
	if identity(renamed) != firstInode {
		t.Error("identity changed across rename")
	}
}
