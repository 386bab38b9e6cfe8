package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/maumercado/accel-dispatch/internal/logger"
)

const outcomeChannel = "acceldispatch:outcomes"

// outcomeBus publishes OutcomeEvents over a single Redis Pub/Sub channel and
// lets a remote dashboard process subscribe to the same channel without
// coupling to the controlling process. Unlike the Task/Result Queues, it
// never buffers: a publish that fails is dropped, not retried.
type outcomeBus struct {
	client *redis.Client
}

func newOutcomeBus(client *redis.Client) *outcomeBus {
	return &outcomeBus{client: client}
}

func (b *outcomeBus) publish(ctx context.Context, ev OutcomeEvent) error {
	data, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("registry: encode outcome event: %w", err)
	}
	if err := b.client.Publish(ctx, outcomeChannel, data).Err(); err != nil {
		return fmt.Errorf("registry: publish outcome event: %w", err)
	}
	return nil
}

// Subscribe opens a channel of every OutcomeEvent published from now on,
// until ctx is canceled. Malformed payloads are logged and skipped rather
// than closing the channel.
func Subscribe(ctx context.Context, client *redis.Client) (<-chan OutcomeEvent, error) {
	pubsub := client.Subscribe(ctx, outcomeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("registry: subscribe to outcome channel: %w", err)
	}

	out := make(chan OutcomeEvent, 100)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := OutcomeEventFromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("registry: failed to parse outcome event")
					continue
				}
				select {
				case out <- ev:
				default:
					logger.Warn().Str("kind", ev.Kind).Msg("registry: outcome subscriber channel full, dropping event")
				}
			}
		}
	}()

	return out, nil
}
