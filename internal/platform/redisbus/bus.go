package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// JobEvent is the message fanned out for every job status or stage change.
// The SSE endpoint forwards these to subscribed tenants as they arrive.
type JobEvent struct {
	JobID    uuid.UUID  `json:"job_id"`
	TenantID uuid.UUID  `json:"tenant_id"`
	VideoID  *uuid.UUID `json:"video_id,omitempty"`
	PersonID *uuid.UUID `json:"person_id,omitempty"`
	JobKind  string     `json:"job_kind"`
	Kind     string     `json:"kind"`
	Status   string     `json:"status"`
	Stage    string     `json:"stage,omitempty"`
	Progress int        `json:"progress"`
	Message  string     `json:"message,omitempty"`
	At       time.Time  `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev JobEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev JobEvent)) error
	Close() error
}

type bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewBus connects to REDIS_ADDR and moves job events over a pub/sub channel
// (REDIS_JOB_CHANNEL, default "heimdex:jobs"). Every API and worker process
// shares the channel; subscribers filter by tenant.
func NewBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_JOB_CHANNEL"))
	if ch == "" {
		ch = "heimdex:jobs"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &bus{
		log:     log.With("service", "RedisJobBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *bus) Publish(ctx context.Context, ev JobEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("job bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *bus) StartForwarder(ctx context.Context, onEvent func(ev JobEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("job bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad job event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
