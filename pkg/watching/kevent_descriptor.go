//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package watching

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// keventFilterFlags are the vnode notes registered for each descriptor.
	keventFilterFlags = unix.NOTE_DELETE | unix.NOTE_WRITE | unix.NOTE_EXTEND |
		unix.NOTE_ATTRIB | unix.NOTE_LINK | unix.NOTE_RENAME | unix.NOTE_REVOKE
)

// KeventDescriptor is an open descriptor for a watched filesystem entry along
// with its kevent registration.
type KeventDescriptor struct {
	// Path is the watched path.
	Path string
	// IsDirectory indicates whether or not the path is a directory.
	IsDirectory bool
	// descriptor is the open file descriptor.
	descriptor int
}

// Descriptor returns the underlying file descriptor.
func (d *KeventDescriptor) Descriptor() int {
	return d.descriptor
}

// KeventDescriptorSet tracks descriptors registered with a kqueue, with lookup
// by path and by file descriptor. It is not safe for concurrent usage.
type KeventDescriptorSet struct {
	// kqueue is the kqueue descriptor.
	kqueue int
	// byPath maps paths to descriptors.
	byPath map[string]*KeventDescriptor
	// byDescriptor maps file descriptors to descriptors.
	byDescriptor map[int]*KeventDescriptor
}

// NewKeventDescriptorSet creates a new descriptor set that registers with the
// specified kqueue.
func NewKeventDescriptorSet(kqueue int) *KeventDescriptorSet {
	return &KeventDescriptorSet{
		kqueue:       kqueue,
		byPath:       make(map[string]*KeventDescriptor),
		byDescriptor: make(map[int]*KeventDescriptor),
	}
}

// Len returns the number of descriptors in the set.
func (s *KeventDescriptorSet) Len() int {
	return len(s.byPath)
}

// Paths returns the watched paths in sorted order.
func (s *KeventDescriptorSet) Paths() []string {
	result := make([]string, 0, len(s.byPath))
	for path := range s.byPath {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// ByPath looks up a descriptor by path.
func (s *KeventDescriptorSet) ByPath(path string) (*KeventDescriptor, bool) {
	descriptor, ok := s.byPath[path]
	return descriptor, ok
}

// ByDescriptor looks up a descriptor by file descriptor.
func (s *KeventDescriptorSet) ByDescriptor(fd int) (*KeventDescriptor, bool) {
	descriptor, ok := s.byDescriptor[fd]
	return descriptor, ok
}

// Add opens and registers a descriptor for the specified path. Adding a path
// that's already present is a no-op. Symbolic links and special files are
// ignored since opening them would watch their targets or block.
func (s *KeventDescriptorSet) Add(path string, isDirectory bool) error {
	// Check for an existing descriptor.
	if _, ok := s.byPath[path]; ok {
		return nil
	}

	// Only watch directories and regular files.
	if info, err := os.Lstat(path); err != nil {
		return err
	} else if mode := info.Mode(); !mode.IsDir() && !mode.IsRegular() {
		return nil
	}

	// Open the path.
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return &os.PathError{Op: "open", Path: path, Err: err}
	}

	// Register the descriptor.
	var changes [1]unix.Kevent_t
	unix.SetKevent(&changes[0], fd, unix.EVFILT_VNODE, unix.EV_ADD|unix.EV_CLEAR|unix.EV_ENABLE)
	changes[0].Fflags = keventFilterFlags
	if _, err := unix.Kevent(s.kqueue, changes[:], nil, nil); err != nil {
		unix.Close(fd)
		return errors.Wrapf(err, "unable to register kevent for %s", path)
	}

	// Record the descriptor.
	descriptor := &KeventDescriptor{Path: path, IsDirectory: isDirectory, descriptor: fd}
	s.byPath[path] = descriptor
	s.byDescriptor[fd] = descriptor
	return nil
}

// Remove closes and forgets the descriptor for the specified path, if any.
// Closing the descriptor removes its kevent registration.
func (s *KeventDescriptorSet) Remove(path string) error {
	descriptor, ok := s.byPath[path]
	if !ok {
		return nil
	}
	delete(s.byPath, path)
	delete(s.byDescriptor, descriptor.descriptor)
	if err := unix.Close(descriptor.descriptor); err != nil {
		return errors.Wrapf(err, "unable to close descriptor for %s", path)
	}
	return nil
}

// Clear closes every descriptor in the set.
func (s *KeventDescriptorSet) Clear() {
	for path, descriptor := range s.byPath {
		unix.Close(descriptor.descriptor)
		delete(s.byPath, path)
		delete(s.byDescriptor, descriptor.descriptor)
	}
}
