package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/coursedrop/coursedrop/internal/config"
	"github.com/coursedrop/coursedrop/internal/confirm"
	"github.com/coursedrop/coursedrop/internal/database"
	"github.com/coursedrop/coursedrop/internal/jobs"
	"github.com/coursedrop/coursedrop/internal/model"
	"github.com/coursedrop/coursedrop/internal/progress"
	"github.com/coursedrop/coursedrop/internal/repository"
	"github.com/coursedrop/coursedrop/internal/s3storage"
	"github.com/coursedrop/coursedrop/internal/s3transport"
	"github.com/coursedrop/coursedrop/internal/uploadqueue"
	"github.com/coursedrop/coursedrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "coursedrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "coursedrop",
		Short:        "CourseDrop upload queue",
		Long:         `CourseDrop uploads batches of PDF course materials into object storage through a bounded number of concurrent transfers, with per-file progress, automatic retries and server-side confirmation.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newUploadCmd(),
		newWorkerCmd(),
	)
	return cmd
}

func newUploadCmd() *cobra.Command {
	var courseID string
	cmd := &cobra.Command{
		Use:   "upload --course <id> <file.pdf>...",
		Short: "Upload PDFs into a course",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd.Context(), courseID, args)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "Course the files belong to")
	cmd.MarkFlagRequired("course")
	return cmd
}

func runUpload(ctx context.Context, courseID string, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	files, err := localFiles(paths)
	if err != nil {
		return err
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	repo := repository.NewCourseFileRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	queue := uploadqueue.New(uploadqueue.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxAttempts:   cfg.MaxAttempts,
		Limits: uploadqueue.Limits{
			MaxFileSize:       cfg.MaxFileSize,
			MaxFilesPerCourse: cfg.MaxFilesPerCourse,
		},
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, s3transport.New(store), confirm.New(repo, store), repo, jobs.NewCleaner(asynqClient))
	defer queue.Close()

	done := make(chan struct{})
	var once sync.Once
	renderer := newRenderer()
	queue.Subscribe(func(snap model.Snapshot) {
		renderer.render(snap)
		if snap.Done() {
			once.Do(func() { close(done) })
		}
	})

	accepted, rejected, err := queue.Add(ctx, courseID, files)
	if err != nil {
		return err
	}
	for _, rej := range rejected {
		log.Printf("rejected %s: %s (%s)", rej.FileName, rej.Message, rej.Reason)
	}
	if len(accepted) == 0 {
		return fmt.Errorf("no files accepted")
	}

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("interrupted, clearing queue")
		queue.ClearAll()
		return ctx.Err()
	}

	snap := queue.Snapshot()
	if snap.Failed > 0 || len(rejected) > 0 {
		return fmt.Errorf("%d uploaded, %d failed, %d rejected", snap.Completed, snap.Failed, len(rejected))
	}
	log.Printf("%d files uploaded", snap.Completed)
	return nil
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the storage cleanup worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := s3storage.New(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(store)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Printf("cleanup worker running")
	if err := server.Run(processor.Handler()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}

// localFiles turns CLI paths into FileRefs. Sizes come from stat; bytes are
// only opened by the transport when the item is promoted.
func localFiles(paths []string) ([]model.FileRef, error) {
	files := make([]model.FileRef, 0, len(paths))
	for _, p := range paths {
		p := p
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		files = append(files, model.FileRef{
			Name:        filepath.Base(p),
			Size:        info.Size(),
			ContentType: contentTypeFor(p),
			Open: func() (io.ReadCloser, error) {
				return os.Open(p)
			},
		})
	}
	return files, nil
}

func contentTypeFor(path string) string {
	if filepath.Ext(path) == ".pdf" || filepath.Ext(path) == ".PDF" {
		return "application/pdf"
	}
	return "application/octet-stream"
}

// renderer prints one status line per queue change, plus per-item transitions.
type renderer struct {
	mu    sync.Mutex
	meter *progress.Meter
	seen  map[string]model.UploadState
	bytes map[string]int64
}

func newRenderer() *renderer {
	return &renderer{
		meter: progress.NewMeter(),
		seen:  make(map[string]model.UploadState),
		bytes: make(map[string]int64),
	}
}

func (r *renderer) render(snap model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range snap.Items {
		doneBytes := int64(item.Progress) * item.Size / 100
		if delta := doneBytes - r.bytes[item.ID]; delta > 0 {
			r.meter.Add(delta)
			r.bytes[item.ID] = doneBytes
		}
		if r.seen[item.ID] != item.State {
			r.seen[item.ID] = item.State
			if item.Err != nil {
				log.Printf("%s: %s (%s)", item.Name, item.State, item.Err.Message)
			} else {
				log.Printf("%s: %s", item.Name, item.State)
			}
		}
	}
	log.Printf("queue: %d%% done, %d uploading, %d pending, %d completed, %d failed, %.1f MB/s",
		snap.OverallPercent, snap.Uploading, snap.Pending, snap.Completed, snap.Failed,
		r.meter.Rate()/1e6)
}
