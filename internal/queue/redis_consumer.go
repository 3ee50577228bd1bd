package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/drugid-worker/internal/logging"
	"github.com/adverant/nexus/drugid-worker/internal/metrics"
)

const defaultQueueName = "drugid:jobs"

// RedisJobData represents a job stored in the Redis list queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  int64      `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from a Redis list queue.
// Job ids are pushed on <queue>; job bodies live in the <queue>:data hash.
type RedisConsumer struct {
	client *redis.Client
	runner *JobRunner
	config *RedisConsumerConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Runner      *JobRunner
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
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

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: cfg.Runner,
		config: cfg,
		ctx:    consumerCtx,
		cancel: cancel,
		logger: logging.NewLogger("RedisQueue"),
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return c.config.QueueName + ":" + suffix
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// Enqueue stores a job and pushes its id on the queue. It returns the job id.
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeIdentify,
		Payload:    *payload,
		CreatedAt:  time.Now().UnixMilli(),
		MaxRetries: c.config.MaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.ID, data)
	pipe.LPush(ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != redis.Nil && c.ctx.Err() == nil {
					c.logger.Warn("Worker error", "worker", id, "error", err)
				}
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return redis.Nil
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	id := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.markFailed(id, map[string]interface{}{"error": err.Error(), "code": "MALFORMED_INPUT"})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}

	c.client.SAdd(c.ctx, c.key("processing"), id)
	c.publish(id, "processing")

	res, err := c.runner.Run(c.ctx, &job.Payload)
	if err != nil {
		job.Attempts++
		if Retryable(err) && job.Attempts < job.MaxRetries && c.ctx.Err() == nil {
			updated, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.key("data"), id, updated)
			c.client.LPush(c.ctx, c.config.QueueName, id)
			metrics.QueueJobsTotal.WithLabelValues("redis", "retried").Inc()
			c.logger.Info("Job re-queued for retry", "job_id", id, "attempt", job.Attempts, "max_retries", job.MaxRetries)
			return nil
		}
		c.markFailed(id, map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		return nil
	}

	c.client.SRem(c.ctx, c.key("processing"), id)
	c.client.SAdd(c.ctx, c.key("completed"), id)
	if data, err := json.Marshal(res); err == nil {
		c.client.HSet(c.ctx, c.key("results"), id, data)
	}
	c.client.HDel(c.ctx, c.key("data"), id)
	c.publish(id, "completed")
	metrics.QueueJobsTotal.WithLabelValues("redis", "completed").Inc()
	return nil
}

func (c *RedisConsumer) markFailed(id string, detail map[string]interface{}) {
	c.client.SRem(c.ctx, c.key("processing"), id)
	c.client.SAdd(c.ctx, c.key("failed"), id)
	if data, err := json.Marshal(detail); err == nil {
		c.client.HSet(c.ctx, c.key("errors"), id, data)
	}
	c.client.HDel(c.ctx, c.key("data"), id)
	c.publish(id, "failed")
	metrics.QueueJobsTotal.WithLabelValues("redis", "failed").Inc()
}

func (c *RedisConsumer) publish(id, status string) {
	event, _ := json.Marshal(map[string]interface{}{
		"jobId":     id,
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
	if err := c.client.Publish(c.ctx, c.key("events"), event).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "job_id", id, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]interface{}, error) {
	queueLen, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]interface{}{
		"driver":      "redis",
		"queue":       c.config.QueueName,
		"waiting":     queueLen,
		"processing":  processing,
		"completed":   completed,
		"failed":      failed,
		"concurrency": c.config.Concurrency,
	}, nil
}
