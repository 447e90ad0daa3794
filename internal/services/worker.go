package services

import (
	"context"
	"sync"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"github.com/hibiken/asynq"
)

// KickWorker consumes drain tasks from the Redis kick queue and nudges
// the local dispatch worker. Only the lease holder's nudge results in
// actual sends; non-holders drop the kick.
type KickWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	dispatch *DispatchService
	lease    *LeaseService
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// NewKickWorker creates a worker, or nil when Redis is disabled.
func NewKickWorker(cfg *config.RedisConfig, dispatch *DispatchService, lease *LeaseService) *KickWorker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Infof("[KickWorker] error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &KickWorker{
		server:   server,
		mux:      asynq.NewServeMux(),
		dispatch: dispatch,
		lease:    lease,
	}
}

// Start begins consuming kick tasks.
func (w *KickWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeDrain, w.handleDrain)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[KickWorker] starting...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Infof("[KickWorker] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker.
func (w *KickWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[KickWorker] shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[KickWorker] shutdown complete")
}

func (w *KickWorker) handleDrain(ctx context.Context, t *asynq.Task) error {
	if !w.lease.Held() {
		// Some other instance owns the session; its own ticker will drain.
		return nil
	}
	w.dispatch.Kick()
	return nil
}
