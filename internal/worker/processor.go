package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/coursedrop/coursedrop/internal/jobs"
	"github.com/coursedrop/coursedrop/internal/s3storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	store *s3storage.Storage
}

// NewProcessor constructs a worker processor.
func NewProcessor(store *s3storage.Storage) *Processor {
	return &Processor{store: store}
}

// Handler registers the cleanup job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.CleanupObjectTask, p.handleCleanup)
	return mux
}

func (p *Processor) handleCleanup(ctx context.Context, task *asynq.Task) error {
	var payload jobs.CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.store.Remove(ctx, payload.ObjectKey); err != nil {
		// Returning the error lets asynq retry with its own backoff.
		log.Printf("cleanup failed for %s: %v", payload.ObjectKey, err)
		return err
	}
	log.Printf("removed orphaned object %s", payload.ObjectKey)
	return nil
}
