// Package queue provides the queues used to move events between watching
// components: a FIFO event queue that collapses adjacent repeats and a delayed
// queue that holds elements until a deadline passes.
package queue
