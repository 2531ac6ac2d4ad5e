package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tallysync/internal/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Task type definitions
const (
	TypeTallySync = "tally:sync"
	QueueDefault  = "tally"
)

// TallySyncPayload carries a run that already holds its guard
type TallySyncPayload struct {
	Run models.SyncRun `json:"run"`
}

// RunExecutor performs a dispatched run and releases its guard
type RunExecutor interface {
	ExecuteRun(ctx context.Context, run models.SyncRun)
}

// SyncDispatcher hands an accepted run off for asynchronous execution
type SyncDispatcher interface {
	Dispatch(ctx context.Context, run models.SyncRun) error
}

// NewTallySyncTask creates a new tally sync task
func NewTallySyncTask(run models.SyncRun) (*asynq.Task, error) {
	data, err := json.Marshal(TallySyncPayload{Run: run})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTallySync, data), nil
}

// NewTallySyncHandler handles tally sync tasks. Runs are never retried: the
// guard was taken at trigger time and a retry would run outside it.
func NewTallySyncHandler(executor RunExecutor, logger logrus.FieldLogger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload TallySyncPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal sync payload: %v: %w", err, asynq.SkipRetry)
		}
		logger.WithFields(logrus.Fields{"run_id": payload.Run.ID, "kind": payload.Run.Kind}).Info("Starting tally sync task")
		executor.ExecuteRun(ctx, payload.Run)
		return nil
	}
}

type asynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(client *asynq.Client, queue string) SyncDispatcher {
	if queue == "" {
		queue = QueueDefault
	}
	return &asynqDispatcher{client: client, queue: queue}
}

func (d *asynqDispatcher) Dispatch(ctx context.Context, run models.SyncRun) error {
	task, err := NewTallySyncTask(run)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue), asynq.MaxRetry(0), asynq.TaskID(run.ID))
	if err != nil {
		return fmt.Errorf("failed to enqueue sync run %s: %w", run.ID, err)
	}
	return nil
}

// Worker wraps the Asynq server processing sync tasks
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisOpts asynq.RedisClientOpt, concurrency int, queue string, executor RunExecutor, logger logrus.FieldLogger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	if queue == "" {
		queue = QueueDefault
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      logger,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTallySync, NewTallySyncHandler(executor, logger))
	return &Worker{server: srv, mux: mux}
}

// Start begins processing in the background
func (w *Worker) Start() error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	if w != nil {
		w.server.Shutdown()
	}
}
