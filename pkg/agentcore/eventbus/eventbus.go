// Package eventbus fans run events out to whichever HTTP handler is
// subscribed to a run's channel. It is a thin wrapper over Redis
// Pub/Sub: publish is fire-and-forget (at-most-once, no replay buffer)
// and a subscriber that connects after an event was published simply
// misses it, which is why the streaming transport always subscribes
// before it asks the orchestrator to start a run.
package eventbus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
)

// redactKeys have their values replaced with "[redacted]" in tool-call
// args and results before an event leaves the process, so secrets
// captured in tool parameters never reach a subscriber. Every key
// starting with "_" is removed unconditionally (spec §4.3, P7)
// regardless of this list.
var redactKeys = map[string]struct{}{
	"password": {}, "token": {}, "api_key": {}, "apikey": {},
	"secret": {}, "authorization": {}, "access_token": {},
}

type Bus struct {
	client              *redis.Client
	integrationMetaKeys map[string]struct{}
}

// New builds a Bus. integrationMetadataKeys (spec §4.3's "configured
// integration-metadata list", typically config.Config.IntegrationMetadataKeys)
// names additional keys to remove, on top of the built-in secret-name
// list and the always-removed leading-underscore convention.
func New(client *redis.Client, integrationMetadataKeys ...string) *Bus {
	keys := make(map[string]struct{}, len(integrationMetadataKeys))
	for _, k := range integrationMetadataKeys {
		keys[normalizeKey(k)] = struct{}{}
	}
	return &Bus{client: client, integrationMetaKeys: keys}
}

// Publish redacts sensitive fields out of event.Data and publishes the
// encoded event to the run's channel. A publish error is logged, never
// returned to the caller: the orchestrator's own iteration loop must
// not fail because no one happened to be listening.
func (b *Bus) Publish(ctx context.Context, runID string, event core.Event) {
	b.redact(event.Data)

	payload, err := sonic.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", slog.Any("error", err))
		return
	}

	if err := b.client.Publish(ctx, Channel(runID), payload).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to publish event", slog.String("run_id", runID), slog.Any("error", err))
	}
}

// Subscribe opens a subscription to runID's channel. The caller owns
// the returned subscription and must Close it.
func (b *Bus) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return b.client.Subscribe(ctx, Channel(runID))
}

func Channel(runID string) string {
	return "run:" + runID
}

// Decode parses a raw Redis pub/sub message payload back into an
// Event.
func Decode(payload string) (core.Event, error) {
	var e core.Event
	err := sonic.UnmarshalString(payload, &e)
	return e, err
}

func (b *Bus) redact(data core.JSONMap) {
	b.redactValue(data)
}

// redactValue removes a key when it starts with "_" (spec §4.3's
// integration-metadata convention) or appears in the bus's configured
// integration-metadata list, and replaces the value of a key on the
// built-in secret-name list with "[redacted]".
func (b *Bus) redactValue(v interface{}) {
	m, ok := v.(core.JSONMap)
	if !ok {
		if mm, ok2 := v.(map[string]interface{}); ok2 {
			m = mm
		} else {
			return
		}
	}
	for k, val := range m {
		normalized := normalizeKey(k)
		_, isIntegrationMeta := b.integrationMetaKeys[normalized]
		if strings.HasPrefix(k, "_") || isIntegrationMeta {
			delete(m, k)
			continue
		}
		if _, isSecretName := redactKeys[normalized]; isSecretName {
			m[k] = "[redacted]"
			continue
		}
		switch vv := val.(type) {
		case core.JSONMap:
			b.redactValue(vv)
		case map[string]interface{}:
			b.redactValue(vv)
		case []interface{}:
			for _, item := range vv {
				b.redactValue(item)
			}
		}
	}
}

func normalizeKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out)
}
