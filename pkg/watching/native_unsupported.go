//go:build !linux && !windows && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !solaris

package watching

// newNativeBackend reports that native watching is unsupported.
func newNativeBackend(_ string, _ bool, _ *backendSettings) (Backend, error) {
	return nil, ErrNativeUnsupported
}
