// Package observer schedules watches on directory trees and dispatches the
// resulting events to registered handlers. Each watch is serviced by an
// Emitter that translates notifications from a native or polling backend into
// normalized events, and a single dispatcher delivers those events in order.
package observer
