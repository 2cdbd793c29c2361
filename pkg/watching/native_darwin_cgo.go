//go:build darwin && cgo

package watching

// newNativeBackend creates an FSEvents-based backend.
func newNativeBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	return newFSEventsBackend(root, recursive, settings)
}
