//go:build solaris

package watching

// newNativeBackend creates an fsnotify-based backend, which uses file events
// notification on this platform.
func newNativeBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	return newFSNotifyBackend(root, recursive, settings)
}
