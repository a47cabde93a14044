// Package redis publishes batch run completion events over Redis pub/sub.
//
// Events are published as JSON to a configurable channel. Optionally the
// latest event of each batch is also stored under a key so late
// subscribers can catch up, and events that need operator intervention are
// queued on a list until an operator drains it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/taskmanager/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "taskmanager:batch_run_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: taskmanager:batch_run_completed).
	Channel string
	// LatestKeyPrefix, when set, stores each event under LatestKeyPrefix+batch.
	LatestKeyPrefix string
	// LatestTTL bounds the lifetime of latest-event keys. Zero keeps them.
	LatestTTL time.Duration
	// InterventionKey, when set, names a list receiving every event that
	// needs operator intervention.
	InterventionKey string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes batch run completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as a JSON PUBLISH to the configured channel,
// retrying with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.BatchRunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := adapter.Wait(ctx, i); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.send(publishCtx, event, body)
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// send publishes body together with the configured latest-event and
// intervention writes in one transaction.
func (a *Adapter) send(ctx context.Context, event *adapter.BatchRunCompletedEvent, body []byte) error {
	latest := a.config.LatestKeyPrefix != ""
	queue := a.config.InterventionKey != "" && event.NeedsIntervention
	if !latest && !queue {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		if latest {
			p.Set(ctx, a.config.LatestKeyPrefix+event.Batch, body, a.config.LatestTTL)
		}
		if queue {
			p.RPush(ctx, a.config.InterventionKey, body)
		}
		p.Publish(ctx, a.config.Channel, body)
		return nil
	})
	return err
}

// Latest returns the stored latest event of batch.
// Returns goredis.Nil when none is stored.
func (a *Adapter) Latest(ctx context.Context, batch string) (*adapter.BatchRunCompletedEvent, error) {
	if a.config.LatestKeyPrefix == "" {
		return nil, errors.New("redis: latest-event keys are not configured")
	}
	data, err := a.client.Get(ctx, a.config.LatestKeyPrefix+batch).Bytes()
	if err != nil {
		return nil, err
	}
	var ev adapter.BatchRunCompletedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("redis: decode latest event: %w", err)
	}
	return &ev, nil
}

// DrainInterventions removes and returns the queued events that need
// operator intervention, oldest first.
func (a *Adapter) DrainInterventions(ctx context.Context) ([]*adapter.BatchRunCompletedEvent, error) {
	if a.config.InterventionKey == "" {
		return nil, errors.New("redis: intervention queue is not configured")
	}
	var items *goredis.StringSliceCmd
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		items = p.LRange(ctx, a.config.InterventionKey, 0, -1)
		p.Del(ctx, a.config.InterventionKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: drain interventions: %w", err)
	}
	out := make([]*adapter.BatchRunCompletedEvent, 0, len(items.Val()))
	for _, item := range items.Val() {
		var ev adapter.BatchRunCompletedEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return out, fmt.Errorf("redis: decode queued event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
