// Package relay mirrors daemon activity onto a RabbitMQ topic exchange so
// external consumers (dashboards, CRMs) can follow the session without
// touching the daemon's database. The relay is optional: when no broker URL
// is configured the daemon simply never constructs one.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/zapdesk/zapdesk/internal/bus"
)

// Envelope is the wire format published to the exchange. The routing key is
// the internal event kind, so consumers bind with patterns like "msg.#".
type Envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Session   string    `json:"session"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Relay forwards internal bus events to a RabbitMQ exchange.
type Relay struct {
	conn     *amqp091.Connection
	exchange string
	session  string
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New dials the broker and declares the topic exchange. The exchange is
// durable; messages are published persistent so a consumer restart does not
// lose activity.
func New(url, exchange, session string, b *bus.Bus, logger *zap.Logger) (*Relay, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &Relay{
		conn:     conn,
		exchange: exchange,
		session:  session,
		bus:      b,
		logger:   logger,
	}, nil
}

// Start begins forwarding bus events to the broker.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	sub := r.bus.Subscribe("", 256)
	go func() {
		defer sub.Cancel()
		for {
			select {
			case evt := <-sub.C():
				r.forward(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops forwarding and closes the broker connection.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Warn("failed to close broker connection", zap.Error(err))
	}
}

// forward publishes a single event. Broker failures are logged and the event
// is dropped: the relay is an observer, it must never stall the daemon.
func (r *Relay) forward(ctx context.Context, evt bus.Event) {
	env := newEnvelope(r.session, evt)
	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to encode relay envelope", zap.Error(err), zap.String("kind", evt.Kind))
		return
	}

	ch, err := r.conn.Channel()
	if err != nil {
		r.logger.Error("failed to open broker channel", zap.Error(err))
		return
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, r.exchange, evt.Kind, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
	if err != nil {
		r.logger.Error("failed to publish relay event", zap.Error(err), zap.String("kind", evt.Kind))
		return
	}
	r.logger.Debug("relayed event", zap.String("kind", evt.Kind), zap.String("exchange", r.exchange))
}

func newEnvelope(session string, evt bus.Event) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      evt.Kind,
		Session:   session,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	}
}
