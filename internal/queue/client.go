package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueue options for conversion tasks. The timeout bounds one attempt at
// the worker, not the queue wait; completed task info sticks around for a
// day so operators can inspect recent conversions.
const (
	convertMaxRetry  = 5
	convertTimeout   = 3 * time.Minute
	convertRetention = 24 * time.Hour
)

// Client enqueues conversion tasks on a single named queue.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueConvert(ctx context.Context, payload ConvertPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(convertMaxRetry),
		asynq.Timeout(convertTimeout),
		asynq.Retention(convertRetention),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
