package adt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/bedcast/bedcast/internal/platform/db"
	"github.com/bedcast/bedcast/internal/platform/events"
)

const (
	eventsQueue = "bedcast.events"
	adtOutQueue = "bedcast.adt.out"

	hl7ContentType  = "x-application/hl7-v2+er7"
	jsonContentType = "application/json"
)

// Broker owns one AMQP connection shared by the outbound publisher and the
// inbound consumer. Queues are durable; messages are persistent.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

// Dial connects to the broker at url. An empty url disables messaging and
// returns nil without error, mirroring the cache.
func Dial(url string, log zerolog.Logger) (*Broker, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	for _, q := range []string{eventsQueue, adtOutQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("queue declare %s: %w", q, err)
		}
	}
	return &Broker{
		conn: conn,
		ch:   ch,
		log:  log.With().Str("component", "amqp").Logger(),
	}, nil
}

func (b *Broker) Close() error {
	if b == nil {
		return nil
	}
	return b.conn.Close()
}

// Name implements events.Subscriber.
func (b *Broker) Name() string { return "amqp" }

// Deliver publishes every state change as JSON to the events queue, and the
// assignment open/close subset additionally as rendered HL7 ADT messages to
// the outbound ADT queue for downstream integration engines.
func (b *Broker) Deliver(ctx context.Context, e events.StateChange) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := b.publish(ctx, eventsQueue, jsonContentType, body); err != nil {
		return err
	}

	if e.Type != events.TypeAssignmentOpened && e.Type != events.TypeAssignmentClosed {
		return nil
	}
	raw, err := Generate(e)
	if err != nil {
		return err
	}
	return b.publish(ctx, adtOutQueue, hl7ContentType, raw)
}

func (b *Broker) publish(ctx context.Context, queue, contentType string, body []byte) error {
	return b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Consume drains inbound ADT messages from the named queue and applies them
// through the processor. It reconnect-loops until ctx is cancelled. Payloads
// may be raw HL7v2 or the normalized JSON event; the facility scope comes
// from the event itself, falling back to defaultFacility.
func (b *Broker) Consume(ctx context.Context, queue string, proc *Processor, defaultFacility string) error {
	if b == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.consumeLoop(ctx, queue, proc, defaultFacility); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Error().Err(err).Str("queue", queue).Dur("backoff", backoff).Msg("consume loop ended, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}
}

func (b *Broker) consumeLoop(ctx context.Context, queue string, proc *Processor, defaultFacility string) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(50, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := b.handleDelivery(ctx, d, proc, defaultFacility); err != nil {
				b.log.Error().Err(err).Str("queue", queue).Msg("inbound event rejected")
				// Do not requeue: a poison message would loop forever.
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, d amqp.Delivery, proc *Processor, defaultFacility string) error {
	var ev *InboundEvent
	if strings.Contains(d.ContentType, "hl7") || bytesLookLikeHL7(d.Body) {
		msg, err := Parse(d.Body)
		if err != nil {
			return err
		}
		ev, err = EventFromMessage(msg)
		if err != nil {
			return err
		}
	} else {
		ev = &InboundEvent{}
		if err := json.Unmarshal(d.Body, ev); err != nil {
			return err
		}
	}

	facility := ev.FacilityID
	if facility == "" || !db.ValidFacilityID(facility) {
		facility = defaultFacility
		ev.FacilityID = facility
	}
	return proc.Process(db.WithFacility(ctx, facility), ev)
}

func bytesLookLikeHL7(body []byte) bool {
	return len(body) > 4 && string(body[:4]) == "MSH|"
}
