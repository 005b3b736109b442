// Package syncbus carries registry change events over NATS.
package syncbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ans-project/ans/pkg/protocol"
)

const flushTimeout = 2 * time.Second

// Publisher announces registry changes.
type Publisher interface {
	Publish(ctx context.Context, ev protocol.SyncEvent) error
}

// Nop discards every event. Used when no NATS connection is configured.
type Nop struct{}

func (Nop) Publish(context.Context, protocol.SyncEvent) error { return nil }

// NATSPublisher publishes events on ans.sync.<priority>.
type NATSPublisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewNATSPublisher creates a publisher on an existing connection.
func NewNATSPublisher(nc *nats.Conn, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		logger: logger.With().Str("component", "syncbus").Logger(),
	}
}

// Publish sends ev. Priority events are flushed before returning.
func (p *NATSPublisher) Publish(_ context.Context, ev protocol.SyncEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}
	subject := protocol.SubjectSyncPriority(ev.Priority)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ev.Priority == protocol.PriorityHigh {
		if err := p.nc.FlushTimeout(flushTimeout); err != nil {
			return fmt.Errorf("flush %s: %w", subject, err)
		}
	}
	p.logger.Debug().Str("subject", subject).Str("type", ev.Type).Str("agent_id", ev.AgentID).Msg("sync event published")
	return nil
}

// Subscribe delivers every sync event to handler until the subscription is
// drained. Malformed messages are logged and skipped.
func Subscribe(nc *nats.Conn, logger zerolog.Logger, handler func(protocol.SyncEvent)) (*nats.Subscription, error) {
	return nc.Subscribe(protocol.SubjectSyncAll, func(msg *nats.Msg) {
		var ev protocol.SyncEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Error().Err(err).Str("subject", msg.Subject).Msg("bad sync event")
			return
		}
		handler(ev)
	})
}
