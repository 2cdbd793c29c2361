// Package watching provides native filesystem notification backends behind a
// single interface, along with a polling backend that works everywhere. A
// backend watches one path and reports raw change notifications. Backends are
// created through a Factory, which selects an implementation based on the
// platform and the requested Mode and tracks the number of live native
// watches.
package watching
