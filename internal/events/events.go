// Package events publishes engine lifecycle events on a shared channel
// so co-running instances and external observers can watch each other's
// activity. Delivery is advisory: a publish failure degrades to a log
// line, never blocks the coordinator.
package events

import (
	"context"
	"log"

	"genforge/internal/clock"
	"genforge/internal/models"
)

// Broker moves raw event bytes between instances.
type Broker interface {
	Publish(queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan []byte, error)
	Close() error
}

// Coordinator stamps events with the instance id and timestamp before
// handing them to the broker and mirrors them to local subscribers.
type Coordinator struct {
	broker     Broker
	bus        *Bus
	clk        clock.Clock
	instanceID string
	queueName  string
}

func NewCoordinator(broker Broker, clk clock.Clock, instanceID, queueName string) *Coordinator {
	return &Coordinator{
		broker:     broker,
		bus:        NewBus(),
		clk:        clk,
		instanceID: instanceID,
		queueName:  queueName,
	}
}

// Publish emits an event. Broker failures are logged and swallowed so
// dispatch continues without cross-instance visibility.
func (c *Coordinator) Publish(name string, data map[string]any) {
	event := models.Event{
		Event:       name,
		Data:        data,
		InstanceID:  c.instanceID,
		TimestampMs: c.clk.Now().UnixMilli(),
	}

	c.bus.publish(event)

	if c.broker == nil {
		return
	}
	payload, err := marshalEvent(event)
	if err != nil {
		log.Printf("EventCoordinator: failed to marshal %s: %v", name, err)
		return
	}
	if err := c.broker.Publish(c.queueName, payload); err != nil {
		log.Printf("EventCoordinator: publish %s degraded: %v", name, err)
	}
}

// Subscribe returns a channel of locally published events. Slow
// subscribers lose events rather than blocking the publisher.
func (c *Coordinator) Subscribe() <-chan models.Event {
	return c.bus.Subscribe()
}

// WatchPeers consumes the shared channel and forwards events from other
// instances to local subscribers.
func (c *Coordinator) WatchPeers(ctx context.Context) error {
	if c.broker == nil {
		return nil
	}
	messages, err := c.broker.Consume(ctx, c.queueName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			event, err := unmarshalEvent(msg)
			if err != nil {
				log.Printf("EventCoordinator: dropping malformed peer event: %v", err)
				continue
			}
			if event.InstanceID == c.instanceID {
				continue
			}
			c.bus.publish(event)
		}
	}()
	return nil
}

func (c *Coordinator) Close() error {
	c.bus.Close()
	if c.broker == nil {
		return nil
	}
	return c.broker.Close()
}
