// Package stopregistry implements the cooperative cancellation
// primitive the orchestrator polls at iteration boundaries: a TTL'd
// flag in Redis, set by a "stop" request and checked (never blocked
// on) by the run driving the iteration loop.
//
// The registry fails open: a Redis error while checking a flag is
// logged and treated as "not stopped", because a transient cache
// outage should not cancel runs it didn't ask to cancel.
package stopregistry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// client is the subset of redis.Cmdable the registry needs, so tests
// can supply a fake without spinning up a real Redis instance.
type client interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type Registry struct {
	client client
	ttl    time.Duration
}

func New(client client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{client: client, ttl: ttl}
}

func key(runID string) string {
	return fmt.Sprintf("agent:stop:%s", runID)
}

// RequestStop marks runID for cancellation. The flag expires on its
// own after the configured TTL so an abandoned run_id never leaks a
// key forever.
func (r *Registry) RequestStop(ctx context.Context, runID string) error {
	if err := r.client.Set(ctx, key(runID), "1", r.ttl).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to set stop flag", slog.String("run_id", runID), slog.Any("error", err))
		return err
	}
	return nil
}

// Clear removes the stop flag, called at the start of a run (and of
// every resume) so a stale flag from a prior run_id sharing no state
// cannot cancel a fresh attempt.
func (r *Registry) Clear(ctx context.Context, runID string) error {
	if err := r.client.Del(ctx, key(runID)).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to clear stop flag", slog.String("run_id", runID), slog.Any("error", err))
		return err
	}
	return nil
}

// ShouldStop reports whether runID has been asked to stop. Checked at
// iteration boundaries only; it is never awaited mid-tool-call.
func (r *Registry) ShouldStop(ctx context.Context, runID string) bool {
	if runID == "" {
		return false
	}
	val, err := r.client.Get(ctx, key(runID)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.ErrorContext(ctx, "failed to read stop flag", slog.String("run_id", runID), slog.Any("error", err))
		}
		return false
	}
	return val == "1"
}
