// Package uploadqueue implements the multi-file upload queue: an authoritative
// in-memory store of upload items, the slot scheduler that promotes pending
// items into bounded concurrent transfers, and the retry policy applied to
// transient failures.
//
// Serialization model: a single mutex guards all item state. User commands
// mutate under the mutex directly; transport events arrive through one
// queue-owned channel drained by one dispatcher goroutine, so events are
// applied one at a time in arrival order. Observers are notified after every
// mutation with a snapshot computed while the mutation was still held, never
// with half-applied state.
package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedrop/coursedrop/internal/model"
	"github.com/coursedrop/coursedrop/internal/transport"
)

var (
	// ErrNotFound is returned for commands naming an unknown item.
	ErrNotFound = errors.New("upload item not found")
	// ErrBadState is returned for commands invalid in the item's current state.
	ErrBadState = errors.New("upload item is not in a valid state for this command")
)

// CourseFiles is the read-only course/quota boundary consulted at add time.
type CourseFiles interface {
	CountFiles(ctx context.Context, courseID string) (int, error)
}

// Confirmer performs server-side validation after byte transfer completes.
// A nil return completes the item; a *model.UploadError return fails it with
// that kind; any other error counts as a server failure.
type Confirmer interface {
	Confirm(ctx context.Context, item model.UploadItem) error
}

// Cleaner disposes of objects left in storage by cancelled or cleared
// transfers. Calls must not block on network I/O.
type Cleaner interface {
	Cleanup(objectKey string)
}

// Config carries the queue's tunables. Caps are explicit configuration, not
// package constants.
type Config struct {
	MaxConcurrent  int
	MaxAttempts    int
	Limits         Limits
	RetryBaseDelay time.Duration
	// BackoffFunc overrides the default jittered exponential backoff;
	// tests use it to retry immediately.
	BackoffFunc func(attempt int) time.Duration
}

// Queue is the single source of truth for the upload pipeline's state.
type Queue struct {
	cfg       Config
	tr        transport.Transport
	confirmer Confirmer
	courses   CourseFiles
	cleaner   Cleaner

	events chan transport.Event
	done   chan struct{}

	mu          sync.Mutex
	items       []*model.UploadItem // submission order
	handles     map[string]transport.Handle
	confirms    map[string]context.CancelFunc
	timers      map[string]*time.Timer
	observers   []func(model.Snapshot)
	courseFiles int // cached from the most recent Add
	closed      bool
}

// New constructs a queue and starts its event dispatcher. cleaner may be nil
// when no storage cleanup is wanted (tests, dry runs).
func New(cfg Config, tr transport.Transport, confirmer Confirmer, courses CourseFiles, cleaner Cleaner) *Queue {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	q := &Queue{
		cfg:       cfg,
		tr:        tr,
		confirmer: confirmer,
		courses:   courses,
		cleaner:   cleaner,
		events:    make(chan transport.Event, 256),
		done:      make(chan struct{}),
		handles:   make(map[string]transport.Handle),
		confirms:  make(map[string]context.CancelFunc),
		timers:    make(map[string]*time.Timer),
	}
	go q.dispatch()
	return q
}

// Subscribe registers an observer called after every mutation with a fresh
// snapshot. Observers run on the mutating goroutine; keep them cheap.
func (q *Queue) Subscribe(fn func(model.Snapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, fn)
}

// Add validates each candidate and appends the accepted ones as pending items
// in submission order. Rejected candidates are reported back alongside the
// accepted ones, so a mixed batch partially succeeds. The course/quota
// boundary is queried once per call; a boundary failure rejects the whole
// batch with an error and creates no items.
func (q *Queue) Add(ctx context.Context, courseID string, files []model.FileRef) ([]model.ItemView, []model.RejectionReport, error) {
	existing, err := q.courses.CountFiles(ctx, courseID)
	if err != nil {
		return nil, nil, fmt.Errorf("count course files: %w", err)
	}

	q.mu.Lock()
	q.courseFiles = existing
	var accepted []model.ItemView
	var rejected []model.RejectionReport
	for _, file := range files {
		vc := ValidationContext{
			QueuedForCourse:     q.queuedForCourseLocked(courseID),
			ExistingCourseFiles: existing,
			Limits:              q.cfg.Limits,
		}
		if rej := Validate(file, vc); rej != nil {
			rejected = append(rejected, model.RejectionReport{
				FileName: file.Name,
				Reason:   rej.Reason,
				Message:  rej.Message,
			})
			continue
		}
		id := uuid.NewString()
		item := &model.UploadItem{
			ID:         id,
			CourseID:   courseID,
			ObjectKey:  objectKey(courseID, id, file.Name),
			File:       file,
			State:      model.StatePending,
			EnqueuedAt: time.Now().UTC(),
		}
		q.items = append(q.items, item)
		accepted = append(accepted, viewOf(item))
	}
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
	return accepted, rejected, nil
}

// Cancel removes an item regardless of progress. Pending items are removed
// outright; in-flight items are removed immediately with a best-effort abort,
// and the partially-written object is handed to the cleaner. Cancelling a
// completed or failed item is ErrBadState (use Remove).
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	item := q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return ErrNotFound
	}
	var abort transport.Handle
	var cleanupKey string
	switch item.State {
	case model.StatePending:
		// no transport call was ever made
	case model.StateUploading:
		abort = q.handles[id]
		cleanupKey = item.ObjectKey
	case model.StateProcessing:
		if cancel := q.confirms[id]; cancel != nil {
			cancel()
		}
		cleanupKey = item.ObjectKey
	default:
		q.mu.Unlock()
		return ErrBadState
	}
	q.removeLocked(id)
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	if abort != nil {
		abort.Abort()
	}
	q.scheduleCleanup(cleanupKey)
	notify(obs, snap)
	return nil
}

// Retry returns a failed item to pending. Manual retry expresses renewed user
// intent, so the attempt count resets to zero and the automatic cap applies
// to the new run.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	item := q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return ErrNotFound
	}
	if item.State != model.StateFailed {
		q.mu.Unlock()
		return ErrBadState
	}
	q.stopTimerLocked(id)
	item.State = model.StatePending
	item.Attempt = 0
	item.Progress = 0
	item.Err = nil
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
	return nil
}

// Remove deletes a completed or failed item.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	item := q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return ErrNotFound
	}
	if item.State != model.StateCompleted && item.State != model.StateFailed {
		q.mu.Unlock()
		return ErrBadState
	}
	q.removeLocked(id)
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
	return nil
}

// ClearAll removes every item, aborting in-flight transfers first and handing
// their partial objects to the cleaner.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	var aborts []transport.Handle
	var cleanupKeys []string
	for _, item := range q.items {
		switch item.State {
		case model.StateUploading:
			if h := q.handles[item.ID]; h != nil {
				aborts = append(aborts, h)
			}
			cleanupKeys = append(cleanupKeys, item.ObjectKey)
		case model.StateProcessing:
			if cancel := q.confirms[item.ID]; cancel != nil {
				cancel()
			}
			cleanupKeys = append(cleanupKeys, item.ObjectKey)
		}
		q.stopTimerLocked(item.ID)
	}
	q.items = nil
	q.handles = make(map[string]transport.Handle)
	q.confirms = make(map[string]context.CancelFunc)
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	for _, h := range aborts {
		h.Abort()
	}
	for _, key := range cleanupKeys {
		q.scheduleCleanup(key)
	}
	notify(obs, snap)
}

// Snapshot recomputes the aggregate view from current item state.
func (q *Queue) Snapshot() model.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Close stops the dispatcher and abandons any in-flight work. It does not
// clean up storage; call ClearAll first when that matters.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var aborts []transport.Handle
	for id, h := range q.handles {
		aborts = append(aborts, h)
		delete(q.handles, id)
	}
	for id, cancel := range q.confirms {
		cancel()
		delete(q.confirms, id)
	}
	for id := range q.timers {
		q.stopTimerLocked(id)
	}
	q.mu.Unlock()

	close(q.done)
	for _, h := range aborts {
		h.Abort()
	}
}

func (q *Queue) dispatch() {
	for {
		select {
		case <-q.done:
			return
		case ev := <-q.events:
			q.handleTransportEvent(ev)
		}
	}
}

func (q *Queue) handleTransportEvent(ev transport.Event) {
	q.mu.Lock()
	item := q.findLocked(ev.ItemID)
	// Events from a cancelled item or a superseded attempt are no-ops.
	if item == nil || item.Attempt != ev.Attempt {
		q.mu.Unlock()
		return
	}
	switch ev.Kind {
	case transport.EventProgress:
		if item.State != model.StateUploading || ev.Percent <= item.Progress {
			q.mu.Unlock()
			return
		}
		item.Progress = min(ev.Percent, 100)
	case transport.EventCompleted:
		if item.State != model.StateUploading {
			q.mu.Unlock()
			return
		}
		item.State = model.StateProcessing
		item.Progress = 100
		delete(q.handles, item.ID)
		q.startConfirmLocked(item)
	case transport.EventFailed:
		if item.State != model.StateUploading {
			q.mu.Unlock()
			return
		}
		delete(q.handles, item.ID)
		q.failLocked(item, ev.Failure)
	}
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
}

// fillSlotsLocked is the scheduler: promote the oldest pending items (FIFO by
// enqueue order) until the concurrency cap is reached or nothing is pending.
// The cap is a hard upper bound, never exceeded even transiently.
func (q *Queue) fillSlotsLocked() {
	if q.closed {
		return
	}
	active := 0
	for _, item := range q.items {
		if item.State == model.StateUploading {
			active++
		}
	}
	for active < q.cfg.MaxConcurrent {
		next := q.oldestPendingLocked()
		if next == nil {
			return
		}
		next.State = model.StateUploading
		next.Attempt++
		next.Progress = 0
		next.Err = nil
		req := transport.Request{
			ItemID:    next.ID,
			Attempt:   next.Attempt,
			CourseID:  next.CourseID,
			ObjectKey: next.ObjectKey,
			File:      next.File,
		}
		// Start must not block; it hands back a cancel handle immediately.
		q.handles[next.ID] = q.tr.Start(req, q.events)
		active++
	}
}

func (q *Queue) startConfirmLocked(item *model.UploadItem) {
	ctx, cancel := context.WithCancel(context.Background())
	q.confirms[item.ID] = cancel
	snapshot := *item
	go func() {
		err := q.confirmer.Confirm(ctx, snapshot)
		q.confirmDone(snapshot.ID, snapshot.Attempt, err)
	}()
}

func (q *Queue) confirmDone(id string, attempt int, err error) {
	q.mu.Lock()
	if cancel := q.confirms[id]; cancel != nil {
		cancel()
		delete(q.confirms, id)
	}
	item := q.findLocked(id)
	if item == nil || item.State != model.StateProcessing || item.Attempt != attempt {
		q.mu.Unlock()
		return
	}
	if err == nil {
		item.State = model.StateCompleted
	} else {
		var ue *model.UploadError
		if !errors.As(err, &ue) {
			ue = &model.UploadError{Kind: model.FailureServer, Message: err.Error()}
		}
		q.failLocked(item, ue)
	}
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
}

// failLocked marks the item failed and, when the policy allows, arms a backoff
// timer that returns it to pending through the serialized retryDue path.
func (q *Queue) failLocked(item *model.UploadItem, failure *model.UploadError) {
	if failure == nil {
		failure = &model.UploadError{Kind: model.FailureNetwork, Message: "transfer failed"}
	}
	item.State = model.StateFailed
	item.Err = failure

	policy := Policy{MaxAttempts: q.cfg.MaxAttempts}
	if policy.Decide(item.Attempt, failure.Kind) != AutoRetry {
		return
	}
	id := item.ID
	attempt := item.Attempt
	q.timers[id] = time.AfterFunc(q.backoff(attempt), func() {
		q.retryDue(id, attempt)
	})
}

func (q *Queue) retryDue(id string, attempt int) {
	q.mu.Lock()
	delete(q.timers, id)
	item := q.findLocked(id)
	// The item may have been removed, manually retried, or cleared while the
	// timer was pending.
	if item == nil || item.State != model.StateFailed || item.Attempt != attempt {
		q.mu.Unlock()
		return
	}
	item.State = model.StatePending
	item.Err = nil
	q.fillSlotsLocked()
	snap, obs := q.snapshotForNotifyLocked()
	q.mu.Unlock()

	notify(obs, snap)
}

func (q *Queue) backoff(attempt int) time.Duration {
	if q.cfg.BackoffFunc != nil {
		return q.cfg.BackoffFunc(attempt)
	}
	base := q.cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}
	return Backoff(base, attempt)
}

func (q *Queue) scheduleCleanup(objectKey string) {
	if q.cleaner == nil || objectKey == "" {
		return
	}
	q.cleaner.Cleanup(objectKey)
}

func (q *Queue) findLocked(id string) *model.UploadItem {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *Queue) oldestPendingLocked() *model.UploadItem {
	for _, item := range q.items {
		if item.State == model.StatePending {
			return item
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	q.stopTimerLocked(id)
	delete(q.handles, id)
	if cancel := q.confirms[id]; cancel != nil {
		cancel()
		delete(q.confirms, id)
	}
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) stopTimerLocked(id string) {
	if t := q.timers[id]; t != nil {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) queuedForCourseLocked(courseID string) int {
	n := 0
	for _, item := range q.items {
		if item.CourseID == courseID && item.State != model.StateFailed {
			n++
		}
	}
	return n
}

func (q *Queue) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Total: len(q.items),
		Items: make([]model.ItemView, 0, len(q.items)),
	}
	percentSum := 0
	notFailed := 0
	for _, item := range q.items {
		switch item.State {
		case model.StatePending:
			snap.Pending++
		case model.StateUploading:
			snap.Uploading++
		case model.StateProcessing:
			snap.Processing++
		case model.StateCompleted:
			snap.Completed++
		case model.StateFailed:
			snap.Failed++
		}
		if item.State != model.StateFailed {
			notFailed++
		}
		if item.State == model.StateFailed && q.timers[item.ID] != nil {
			snap.RetryScheduled++
		}
		percentSum += item.Progress
		snap.Items = append(snap.Items, viewOf(item))
	}
	if snap.Total > 0 {
		snap.OverallPercent = percentSum / snap.Total
	}
	snap.RemainingSlots = q.cfg.Limits.MaxFilesPerCourse - (q.courseFiles + notFailed)
	if snap.RemainingSlots < 0 {
		snap.RemainingSlots = 0
	}
	return snap
}

func (q *Queue) snapshotForNotifyLocked() (model.Snapshot, []func(model.Snapshot)) {
	obs := make([]func(model.Snapshot), len(q.observers))
	copy(obs, q.observers)
	return q.snapshotLocked(), obs
}

func notify(observers []func(model.Snapshot), snap model.Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}

func viewOf(item *model.UploadItem) model.ItemView {
	return model.ItemView{
		ID:       item.ID,
		Name:     item.File.Name,
		Size:     item.File.Size,
		State:    item.State,
		Progress: item.Progress,
		Attempt:  item.Attempt,
		Err:      item.Err,
	}
}

func objectKey(courseID, id, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".pdf"
	}
	return courseID + "/" + id + ext
}
