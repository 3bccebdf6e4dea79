// Package events publishes execution lifecycle events to Redis pub/sub so
// dashboards can follow runs live.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "seqflow:executions"

const (
	ExecutionStartedEvent  = "execution_started"
	StepFinishedEvent      = "step_finished"
	ExecutionFinishedEvent = "execution_finished"
)

// Publisher is the subset of the redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Logger interface {
	Errorf(format string, args ...interface{})
}

// Event is the JSON message sent for every notification.
type Event struct {
	Type        string             `json:"type"`
	ExecutionID string             `json:"execution_id"`
	SequenceID  string             `json:"sequence_id"`
	Status      string             `json:"status,omitempty"`
	Step        *models.StepResult `json:"step,omitempty"`
	Error       string             `json:"error,omitempty"`
	Timestamp   int64              `json:"timestamp"`
}

// RedisPublisher implements service.Observer. Publish failures are logged
// and never reach the runner.
type RedisPublisher struct {
	client  Publisher
	channel string
	logger  Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRedisPublisher(client Publisher, channel string, logger Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (p *RedisPublisher) ExecutionStarted(exec models.Execution) {
	p.publish(Event{
		Type:        ExecutionStartedEvent,
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		Status:      string(exec.Status),
	})
}

func (p *RedisPublisher) StepFinished(exec models.Execution, _ models.Step, result models.StepResult) {
	p.publish(Event{
		Type:        StepFinishedEvent,
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		Status:      string(result.Status),
		Step:        &result,
	})
}

func (p *RedisPublisher) ExecutionFinished(exec models.Execution) {
	p.publish(Event{
		Type:        ExecutionFinishedEvent,
		ExecutionID: exec.ID,
		SequenceID:  exec.SequenceID,
		Status:      string(exec.Status),
		Error:       exec.ErrorMessage,
	})
}

func (p *RedisPublisher) publish(event Event) {
	event.Timestamp = p.now().UnixMilli()
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Errorf("Failed to publish %s event for execution %s: %v", event.Type, event.ExecutionID, err)
	}
}
