//go:build (darwin && !cgo) || freebsd || netbsd || openbsd || dragonfly

package watching

// newNativeBackend creates a kqueue-based backend.
func newNativeBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	return newKqueueBackend(root, recursive, settings)
}
