package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries   = 3
	defaultBaseDelay    = 5 * time.Second
	defaultQueueTimeout = 5 * time.Second
	defaultPollInterval = time.Second
	defaultDLQThreshold = 1000
)

var ErrTaskNotFound = errors.New("task not found")

// RedisQueue implements Queue on a Redis list (ready tasks), a sorted set
// (delayed tasks and retries) and a processing list for in-flight tasks.
type RedisQueue struct {
	client          *redis.Client
	prefix          string
	mainQueue       string
	delayedQueue    string
	processingQueue string
	dlq             string
	retryManager    *RetryManager
	dlqHandler      DLQHandler
	config          *RedisQueueConfig
	log             *logrus.Entry
	now             func() time.Time
	stopChan        chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// RedisQueueConfig contains configuration for RedisQueue
type RedisQueueConfig struct {
	// Name prefixes every key of the queue
	Name string

	MaxRetries   int
	BaseDelay    time.Duration
	QueueTimeout time.Duration
	PollInterval time.Duration
	DLQThreshold int
}

// DefaultRedisQueueConfig returns default configuration
func DefaultRedisQueueConfig(name string) *RedisQueueConfig {
	return &RedisQueueConfig{
		Name:         name,
		MaxRetries:   defaultMaxRetries,
		BaseDelay:    defaultBaseDelay,
		QueueTimeout: defaultQueueTimeout,
		PollInterval: defaultPollInterval,
		DLQThreshold: defaultDLQThreshold,
	}
}

// NewRedisQueue creates a queue on an existing client. The client stays
// owned by the caller.
func NewRedisQueue(client *redis.Client, cfg *RedisQueueConfig, log *logrus.Entry) *RedisQueue {
	if cfg == nil {
		cfg = DefaultRedisQueueConfig("roombooker")
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = defaultQueueTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DLQThreshold <= 0 {
		cfg.DLQThreshold = defaultDLQThreshold
	}

	log = log.WithField("component", "queue")
	q := &RedisQueue{
		client:          client,
		prefix:          cfg.Name,
		mainQueue:       cfg.Name + ":tasks",
		delayedQueue:    cfg.Name + ":tasks:delayed",
		processingQueue: cfg.Name + ":tasks:processing",
		dlq:             cfg.Name + ":dlq",
		retryManager:    NewRetryManager(cfg.BaseDelay),
		config:          cfg,
		log:             log,
		now:             time.Now,
		stopChan:        make(chan struct{}),
	}
	q.dlqHandler = NewDefaultDLQHandler(client, q.dlq, q.mainQueue, log)

	log.WithFields(logrus.Fields{
		"main":    q.mainQueue,
		"delayed": q.delayedQueue,
		"dlq":     q.dlq,
	}).Info("RedisQueue initialized")

	return q
}

// DLQ returns the dead letter queue handler
func (r *RedisQueue) DLQ() DLQHandler {
	return r.dlqHandler
}

// Publish sends a task to the queue
func (r *RedisQueue) Publish(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if err := r.validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	if err := r.enqueue(ctx, task); err != nil {
		return err
	}
	r.incrementMetric(ctx, "tasks_queued")
	return nil
}

// enqueue puts a future task into the delayed set and anything due into the main list
func (r *RedisQueue) enqueue(ctx context.Context, task *Task) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	log := r.log.WithFields(logrus.Fields{"task_id": task.ID, "task_type": task.Type})
	if task.ExecuteAt.After(r.now()) {
		score := float64(task.ExecuteAt.UnixNano()) / 1e9
		if err := r.client.ZAdd(ctx, r.delayedQueue, &redis.Z{Score: score, Member: taskData}).Err(); err != nil {
			return fmt.Errorf("failed to publish delayed task: %w", err)
		}
		log.WithField("execute_at", task.ExecuteAt.Format(time.RFC3339)).Debug("Task scheduled")
		return nil
	}

	if err := r.client.LPush(ctx, r.mainQueue, taskData).Err(); err != nil {
		return fmt.Errorf("failed to publish immediate task: %w", err)
	}
	log.Debug("Task published to main queue")
	return nil
}

// Subscribe starts consuming tasks from the queue
func (r *RedisQueue) Subscribe(ctx context.Context, handler func(context.Context, *Task) error) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	// Tasks left in processing by a crashed consumer go back to the main list
	if err := r.recoverProcessing(ctx); err != nil {
		r.log.WithError(err).Warn("Failed to recover in-flight tasks")
	}

	r.wg.Add(3)
	go r.processDelayedTasks(ctx)
	go r.processMainQueue(ctx, handler)
	go r.monitorQueue(ctx)

	r.log.Info("RedisQueue subscriber started")
	return nil
}

func (r *RedisQueue) recoverProcessing(ctx context.Context) error {
	recovered := 0
	for {
		err := r.client.RPopLPush(ctx, r.processingQueue, r.mainQueue).Err()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return err
		}
		recovered++
	}
	if recovered > 0 {
		r.log.WithField("count", recovered).Info("Recovered in-flight tasks")
	}
	return nil
}

// processMainQueue processes tasks from the main queue
func (r *RedisQueue) processMainQueue(ctx context.Context, handler func(context.Context, *Task) error) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Main queue processor stopped by context")
			return
		case <-r.stopChan:
			r.log.Info("Main queue processor stopped")
			return
		default:
			if err := r.processNext(ctx, handler); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("Error processing task")
				time.Sleep(time.Second) // Backoff on error
			}
		}
	}
}

// processNext takes one task, runs it and either drops it, reschedules it
// or hands it to the DLQ
func (r *RedisQueue) processNext(ctx context.Context, handler func(context.Context, *Task) error) error {
	taskData, err := r.client.BRPopLPush(ctx, r.mainQueue, r.processingQueue, r.config.QueueTimeout).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to move task to processing queue: %w", err)
	}
	defer func() {
		if err := r.client.LRem(ctx, r.processingQueue, 1, taskData).Err(); err != nil {
			r.log.WithError(err).Warn("Failed to remove task from processing queue")
		}
	}()

	var task Task
	if err := json.Unmarshal([]byte(taskData), &task); err != nil {
		r.dlqHandler.HandleFailedTask(&Task{
			ID:        fmt.Sprintf("corrupted_%d", r.now().UnixNano()),
			Type:      "corrupted",
			Data:      map[string]interface{}{"raw_data": taskData},
			CreatedAt: r.now(),
		}, fmt.Errorf("invalid task format: %w", err))
		r.incrementMetric(ctx, "tasks_dlq")
		return nil
	}

	task.Attempts++
	log := r.log.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type,
		"attempt":   task.Attempts,
	})

	handlerErr := handler(ctx, &task)
	if handlerErr == nil {
		r.incrementMetric(ctx, "tasks_success")
		log.Debug("Task completed")
		return nil
	}
	r.incrementMetric(ctx, "tasks_failure")

	retry, delay := r.retryManager.ShouldRetry(&task, handlerErr)
	if !retry {
		r.dlqHandler.HandleFailedTask(&task, handlerErr)
		r.incrementMetric(ctx, "tasks_dlq")
		return nil
	}

	log.WithError(handlerErr).WithField("retry_in", delay).Warn("Task failed, retrying")
	task.ExecuteAt = r.now().Add(delay)
	return r.enqueue(ctx, &task)
}

// processDelayedTasks moves ready delayed tasks to main queue
func (r *RedisQueue) processDelayedTasks(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.moveReadyDelayedTasks(ctx); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("Failed to process delayed tasks")
			}
		}
	}
}

// moveReadyDelayedTasks moves due tasks to the main list and returns how many moved
func (r *RedisQueue) moveReadyDelayedTasks(ctx context.Context) (int, error) {
	max := fmt.Sprintf("%f", float64(r.now().UnixNano())/1e9)

	tasks, err := r.client.ZRangeByScore(ctx, r.delayedQueue, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get delayed tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(tasks))
	pipe := r.client.TxPipeline()
	for i, taskData := range tasks {
		pipe.LPush(ctx, r.mainQueue, taskData)
		members[i] = taskData
	}
	pipe.ZRem(ctx, r.delayedQueue, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to move delayed tasks: %w", err)
	}

	r.log.WithField("count", len(tasks)).Debug("Moved delayed tasks to main queue")
	return len(tasks), nil
}

// monitorQueue warns when the main list grows past the threshold
func (r *RedisQueue) monitorQueue(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			stats, err := r.GetQueueStats(ctx)
			if err != nil {
				r.log.WithError(err).Warn("Failed to collect queue stats")
				continue
			}
			if stats.MainQueue > int64(r.config.DLQThreshold) {
				r.log.WithFields(logrus.Fields{
					"size":      stats.MainQueue,
					"threshold": r.config.DLQThreshold,
				}).Warn("Main queue size exceeds threshold")
			}
		}
	}
}

func (r *RedisQueue) incrementMetric(ctx context.Context, metric string) {
	key := fmt.Sprintf("%s:metrics:%s", r.prefix, metric)
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithError(err).WithField("metric", metric).Debug("Failed to update queue metric")
	}
}

// validateTask validates task structure and sets defaults
func (r *RedisQueue) validateTask(task *Task) error {
	if task.ID == "" {
		task.ID = generateTaskID()
	}
	if task.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if task.Data == nil {
		task.Data = make(map[string]interface{})
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = r.config.MaxRetries
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = r.now()
	}
	if task.ExecuteAt.IsZero() {
		task.ExecuteAt = task.CreatedAt
	}
	return nil
}

// QueueStats contains statistics about queue state
type QueueStats struct {
	MainQueue       int64     `json:"main_queue"`
	DelayedQueue    int64     `json:"delayed_queue"`
	ProcessingQueue int64     `json:"processing_queue"`
	DLQ             int64     `json:"dlq"`
	Timestamp       time.Time `json:"timestamp"`
}

// GetQueueStats returns current queue statistics
func (r *RedisQueue) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	pipe := r.client.Pipeline()
	mainLen := pipe.LLen(ctx, r.mainQueue)
	delayedLen := pipe.ZCard(ctx, r.delayedQueue)
	processingLen := pipe.LLen(ctx, r.processingQueue)
	dlqLen := pipe.ZCard(ctx, r.dlq)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return &QueueStats{
		MainQueue:       mainLen.Val(),
		DelayedQueue:    delayedLen.Val(),
		ProcessingQueue: processingLen.Val(),
		DLQ:             dlqLen.Val(),
		Timestamp:       r.now(),
	}, nil
}

// Close stops the background processors. The Redis client is left open.
func (r *RedisQueue) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()

	r.log.Info("RedisQueue closed")
	return nil
}

// generateTaskID generates a unique task ID
func generateTaskID() string {
	return fmt.Sprintf("task_%d_%d", time.Now().UnixNano(), rand.Int63())
}
