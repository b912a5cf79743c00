// Package jobs defines the asynq tasks shared by the uploader and the worker.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/coursedrop/coursedrop/internal/uploadqueue"
)

const (
	// CleanupObjectTask is scheduled when a cancelled or cleared transfer may
	// have left a partial object in the bucket.
	CleanupObjectTask = "object:cleanup"
)

// CleanupPayload names the object the worker should remove.
type CleanupPayload struct {
	ObjectKey string `json:"object_key"`
}

// EnqueueCleanup enqueues an object cleanup job.
func EnqueueCleanup(ctx context.Context, client *asynq.Client, payload CleanupPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(CleanupObjectTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}

// Cleaner adapts an asynq client to the queue's Cleaner boundary. Enqueueing
// is quick, but still network I/O, so failures are logged and swallowed:
// cleanup is best-effort and must never block or fail a user command.
type Cleaner struct {
	client *asynq.Client
}

var _ uploadqueue.Cleaner = (*Cleaner)(nil)

// NewCleaner wraps an asynq client.
func NewCleaner(client *asynq.Client) *Cleaner {
	return &Cleaner{client: client}
}

// Cleanup schedules removal of the named object.
func (c *Cleaner) Cleanup(objectKey string) {
	if err := EnqueueCleanup(context.Background(), c.client, CleanupPayload{ObjectKey: objectKey}); err != nil {
		log.Printf("enqueue cleanup for %s: %v", objectKey, err)
	}
}
