package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
)

// Consumer handles identification jobs delivered through asynq
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	runner    *JobRunner
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Runner      *JobRunner
}

// NewConsumer creates a new asynq queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("AsynqQueue")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn("Task processing error", "type", task.Type(), "error", err)
			}),
		},
	)

	consumer := &Consumer{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
		runner:    cfg.Runner,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TaskTypeIdentify, consumer.handleIdentify)

	return consumer, nil
}

// retryDelay backs off exponentially from 5s, capped at 60s.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 3 {
		return 60 * time.Second
	}
	return time.Duration(5*(1<<uint(n))) * time.Second
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("Failed to close inspector", "error", err)
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// Enqueue submits an identification task. It returns the job id.
func (c *Consumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	task := asynq.NewTask(TaskTypeIdentify, data)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(c.config.MaxRetries),
		asynq.TaskID(payload.JobID))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return payload.JobID, nil
}

func (c *Consumer) handleIdentify(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.QueueJobsTotal.WithLabelValues("asynq", "failed").Inc()
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	if _, err := c.runner.Run(ctx, &payload); err != nil {
		if !Retryable(err) {
			metrics.QueueJobsTotal.WithLabelValues("asynq", "failed").Inc()
			return fmt.Errorf("identification failed: %v: %w", err, asynq.SkipRetry)
		}
		metrics.QueueJobsTotal.WithLabelValues("asynq", "retried").Inc()
		return fmt.Errorf("identification failed: %w", err)
	}

	metrics.QueueJobsTotal.WithLabelValues("asynq", "completed").Inc()
	return nil
}

// GetStatistics returns queue statistics
func (c *Consumer) GetStatistics(ctx context.Context) (map[string]interface{}, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue info: %w", err)
	}
	return map[string]interface{}{
		"driver":      "asynq",
		"queue":       c.config.QueueName,
		"waiting":     info.Pending,
		"processing":  info.Active,
		"scheduled":   info.Scheduled,
		"retry":       info.Retry,
		"failed":      info.Archived,
		"completed":   info.Completed,
		"concurrency": c.config.Concurrency,
	}, nil
}
