// Package transport defines the boundary between the upload queue and the
// component that actually moves bytes to remote storage. Implementations emit
// Events into a channel owned by the queue, so the queue observes one event at
// a time in arrival order.
package transport

import "github.com/coursedrop/coursedrop/internal/model"

// EventKind discriminates transport events.
type EventKind int

const (
	// EventProgress carries a whole-percent progress update.
	EventProgress EventKind = iota
	// EventCompleted signals that byte transfer finished.
	EventCompleted
	// EventFailed signals a terminal transfer failure.
	EventFailed
)

// Event is one message from an in-flight transfer. ItemID and Attempt let the
// queue drop events that outlived a cancel or a retry.
type Event struct {
	ItemID  string
	Attempt int
	Kind    EventKind
	Percent int
	Failure *model.UploadError
}

// Request describes one transfer to start.
type Request struct {
	ItemID    string
	Attempt   int
	CourseID  string
	ObjectKey string
	File      model.FileRef
}

// Handle allows an in-flight transfer to be aborted. Abort is best-effort and
// must tolerate racing with a terminal event.
type Handle interface {
	Abort()
}

// Transport starts transfers. Start must not block: it kicks off the transfer
// and returns a cancel handle immediately.
type Transport interface {
	Start(req Request, events chan<- Event) Handle
}
