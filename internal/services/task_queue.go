package services

import (
	"errors"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"github.com/hibiken/asynq"
)

const TaskTypeDrain = "dispatch:drain"

// KickQueue wakes the dispatch worker ahead of its tick after an
// immediate-mode enqueue. With Redis enabled the kick travels through
// asynq so whichever instance holds the lease picks it up; otherwise it
// degrades to an in-process nudge.
type KickQueue interface {
	DispatchKicker
	// IsAsync returns true if kicks travel through Redis
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// InitKickQueue selects the queue implementation from config.
func InitKickQueue(cfg *config.Config, dispatch *DispatchService) KickQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncKickQueue(&cfg.Redis)
		if err != nil {
			logger.Infof("[KickQueue] Redis unavailable, falling back to local kicks: %v", err)
			return NewLocalKickQueue(dispatch)
		}
		logger.Infof("[KickQueue] async kick queue initialized with Redis at %s", cfg.Redis.Addr)
		return queue
	}
	logger.Infof("[KickQueue] local kick queue initialized (Redis disabled)")
	return NewLocalKickQueue(dispatch)
}

// AsyncKickQueue implements KickQueue over asynq (Redis-based).
type AsyncKickQueue struct {
	client *asynq.Client
}

func NewAsyncKickQueue(cfg *config.RedisConfig) (*AsyncKickQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection before trusting the queue.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncKickQueue{client: client}, nil
}

// KickDrain enqueues a drain task. Redundant kicks collapse via asynq's
// task id deduplication window.
func (q *AsyncKickQueue) KickDrain() error {
	t := asynq.NewTask(TaskTypeDrain, nil)
	_, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(1),
		asynq.TaskID("dispatch-drain"),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (q *AsyncKickQueue) IsAsync() bool { return true }

func (q *AsyncKickQueue) Close() error { return q.client.Close() }

// LocalKickQueue nudges the in-process dispatch worker directly.
type LocalKickQueue struct {
	dispatch *DispatchService
}

func NewLocalKickQueue(dispatch *DispatchService) *LocalKickQueue {
	return &LocalKickQueue{dispatch: dispatch}
}

func (q *LocalKickQueue) KickDrain() error {
	q.dispatch.Kick()
	return nil
}

func (q *LocalKickQueue) IsAsync() bool { return false }

func (q *LocalKickQueue) Close() error { return nil }
