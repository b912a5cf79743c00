// Package s3transport implements the upload transport against MinIO/S3.
package s3transport

import (
	"context"
	"io"

	"github.com/coursedrop/coursedrop/internal/model"
	"github.com/coursedrop/coursedrop/internal/s3storage"
	"github.com/coursedrop/coursedrop/internal/transport"
)

// Transport uploads file bytes into the course-files bucket, reporting
// whole-percent progress and cancellation through the queue's event channel.
type Transport struct {
	store *s3storage.Storage
}

var _ transport.Transport = (*Transport)(nil)

// New returns a Transport backed by the given storage.
func New(store *s3storage.Storage) *Transport {
	return &Transport{store: store}
}

// Start kicks off the transfer on its own goroutine and returns immediately.
// The handle aborts by cancelling the transfer's context.
func (t *Transport) Start(req transport.Request, events chan<- transport.Event) transport.Handle {
	ctx, cancel := context.WithCancel(context.Background())
	go t.run(ctx, req, events)
	return &handle{cancel: cancel}
}

type handle struct {
	cancel context.CancelFunc
}

func (h *handle) Abort() {
	h.cancel()
}

func (t *Transport) run(ctx context.Context, req transport.Request, events chan<- transport.Event) {
	emit := func(ev transport.Event) {
		// An aborted item has already been removed from the queue, so
		// dropping its events is fine.
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(kind model.FailureKind, msg string) {
		emit(transport.Event{
			ItemID:  req.ItemID,
			Attempt: req.Attempt,
			Kind:    transport.EventFailed,
			Failure: &model.UploadError{Kind: kind, Message: msg},
		})
	}

	rc, err := req.File.Open()
	if err != nil {
		fail(model.FailureNetwork, "open file: "+err.Error())
		return
	}
	defer rc.Close()

	reader := &progressReader{
		r:     rc,
		total: req.File.Size,
		onPercent: func(p int) {
			emit(transport.Event{
				ItemID:  req.ItemID,
				Attempt: req.Attempt,
				Kind:    transport.EventProgress,
				Percent: p,
			})
		},
	}

	contentType := req.File.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	if err := t.store.Put(ctx, req.ObjectKey, reader, req.File.Size, contentType); err != nil {
		if ctx.Err() != nil {
			fail(model.FailureCancelled, "transfer aborted")
			return
		}
		fail(model.FailureNetwork, err.Error())
		return
	}
	emit(transport.Event{
		ItemID:  req.ItemID,
		Attempt: req.Attempt,
		Kind:    transport.EventCompleted,
		Percent: 100,
	})
}

// progressReader counts bytes as the MinIO client consumes them and reports
// whole-percent changes only, keeping the event channel quiet.
type progressReader struct {
	r         io.Reader
	total     int64
	done      int64
	last      int
	onPercent func(int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 {
		pr.done += int64(n)
		percent := int(pr.done * 100 / pr.total)
		if percent > 100 {
			percent = 100
		}
		if percent > pr.last {
			pr.last = percent
			pr.onPercent(percent)
		}
	}
	return n, err
}
