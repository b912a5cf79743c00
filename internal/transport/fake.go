package transport

import (
	"sync"

	"github.com/coursedrop/coursedrop/internal/model"
)

// Fake is an in-memory Transport for tests. It never moves bytes: the test
// script drives each transfer by calling Progress, Complete and Fail, which
// emit events for the most recent attempt of the named item.
type Fake struct {
	mu     sync.Mutex
	starts []Request
	aborts []string
	active map[string]fakeTransfer
}

type fakeTransfer struct {
	req    Request
	events chan<- Event
}

type fakeHandle struct {
	fake   *Fake
	itemID string
}

var _ Transport = (*Fake)(nil)
var _ Handle = (*fakeHandle)(nil)

// NewFake returns an empty fake transport.
func NewFake() *Fake {
	return &Fake{active: make(map[string]fakeTransfer)}
}

// Start records the request and waits for the test script to emit events.
func (f *Fake) Start(req Request, events chan<- Event) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	f.active[req.ItemID] = fakeTransfer{req: req, events: events}
	return &fakeHandle{fake: f, itemID: req.ItemID}
}

func (h *fakeHandle) Abort() {
	h.fake.mu.Lock()
	defer h.fake.mu.Unlock()
	h.fake.aborts = append(h.fake.aborts, h.itemID)
	delete(h.fake.active, h.itemID)
}

// Progress emits a progress event for the item's current attempt.
func (f *Fake) Progress(itemID string, percent int) {
	if tr, ok := f.lookup(itemID); ok {
		tr.events <- Event{ItemID: itemID, Attempt: tr.req.Attempt, Kind: EventProgress, Percent: percent}
	}
}

// Complete emits a byte-transfer-complete event for the item.
func (f *Fake) Complete(itemID string) {
	if tr, ok := f.lookup(itemID); ok {
		f.forget(itemID)
		tr.events <- Event{ItemID: itemID, Attempt: tr.req.Attempt, Kind: EventCompleted, Percent: 100}
	}
}

// Fail emits a terminal failure event for the item.
func (f *Fake) Fail(itemID string, kind model.FailureKind, msg string) {
	if tr, ok := f.lookup(itemID); ok {
		f.forget(itemID)
		tr.events <- Event{
			ItemID:  itemID,
			Attempt: tr.req.Attempt,
			Kind:    EventFailed,
			Failure: &model.UploadError{Kind: kind, Message: msg},
		}
	}
}

// StartCount returns how many transfers were started in total.
func (f *Fake) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

// Starts returns a copy of every recorded start request.
func (f *Fake) Starts() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.starts))
	copy(out, f.starts)
	return out
}

// AbortCount returns how many handles were aborted.
func (f *Fake) AbortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborts)
}

// ActiveIDs returns the item ids with a live (started, not finished, not
// aborted) transfer, in start order.
func (f *Fake) ActiveIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.active))
	seen := make(map[string]bool, len(f.active))
	for _, req := range f.starts {
		if _, ok := f.active[req.ItemID]; ok && !seen[req.ItemID] {
			seen[req.ItemID] = true
			ids = append(ids, req.ItemID)
		}
	}
	return ids
}

func (f *Fake) lookup(itemID string) (fakeTransfer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.active[itemID]
	return tr, ok
}

func (f *Fake) forget(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, itemID)
}
