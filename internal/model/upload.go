// Package model contains the shared types of the upload pipeline.
package model

import (
	"io"
	"time"
)

// UploadState describes where an item sits in its upload lifecycle.
type UploadState string

const (
	StatePending    UploadState = "pending"
	StateUploading  UploadState = "uploading"
	StateProcessing UploadState = "processing"
	StateCompleted  UploadState = "completed"
	StateFailed     UploadState = "failed"
)

// FailureKind classifies post-enqueue failures attached to a failed item.
type FailureKind string

const (
	FailureNetwork    FailureKind = "network"
	FailureServer     FailureKind = "server"
	FailureValidation FailureKind = "validation"
	FailureCancelled  FailureKind = "cancelled"
)

// RejectionReason classifies add-time rejections. Rejected candidates never
// become queue items.
type RejectionReason string

const (
	RejectInvalidType   RejectionReason = "invalid_type"
	RejectTooLarge      RejectionReason = "too_large"
	RejectLimitExceeded RejectionReason = "limit_exceeded"
)

// UploadError records the last failure of an item.
type UploadError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (e *UploadError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// FileRef is an opaque handle to a user-selected file. The queue never copies
// bytes; Open is invoked by the transport when the item is promoted.
type FileRef struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// UploadItem is one file moving through the pipeline. Items are owned by the
// queue store and mutated only through its serialized command/event paths.
type UploadItem struct {
	ID         string
	CourseID   string
	ObjectKey  string
	File       FileRef
	State      UploadState
	Progress   int // 0-100, monotonic within an attempt
	Attempt    int // upload attempts made so far
	Err        *UploadError
	EnqueuedAt time.Time
}

// ItemView is a read-only copy of an item handed to observers.
type ItemView struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Size     int64        `json:"size"`
	State    UploadState  `json:"state"`
	Progress int          `json:"progress"`
	Attempt  int          `json:"attempt"`
	Err      *UploadError `json:"error,omitempty"`
}

// Rejection explains why the validator refused a candidate.
type Rejection struct {
	Reason  RejectionReason
	Message string
}

// RejectionReport pairs a rejection with the candidate it refused, so a mixed
// batch can partially succeed.
type RejectionReport struct {
	FileName string          `json:"fileName"`
	Reason   RejectionReason `json:"reason"`
	Message  string          `json:"message"`
}

// Snapshot is the aggregate view of the queue, recomputed on demand.
type Snapshot struct {
	Total          int        `json:"total"`
	Pending        int        `json:"pending"`
	Uploading      int        `json:"uploading"`
	Processing     int        `json:"processing"`
	Completed      int        `json:"completed"`
	Failed         int        `json:"failed"`
	RetryScheduled int        `json:"retryScheduled"`
	OverallPercent int        `json:"overallPercent"`
	RemainingSlots int        `json:"remainingSlots"`
	Items          []ItemView `json:"items"`
}

// Done reports whether no item is still moving through the pipeline. A failed
// item whose automatic retry is scheduled but not yet due counts as still in
// flight; only permanently failed items are done.
func (s Snapshot) Done() bool {
	return s.Pending == 0 && s.Uploading == 0 && s.Processing == 0 && s.RetryScheduled == 0
}
