// Package events forwards defect change events from the in-process bus to
// Kafka so downstream consumers can follow new reports.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/segmentio/kafka-go"

	"github.com/joeblew999/plat-defects/internal/metrics"
	"github.com/joeblew999/plat-defects/internal/service"
)

// DefaultTopic is the Kafka topic defect events are written to.
const DefaultTopic = "road-defects"

// MessageWriter is the subset of kafka.Writer the publisher uses. Tests
// substitute a fake.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher drains an EventBus subscription into Kafka.
type Publisher struct {
	writer MessageWriter
	log    log.Interface
}

// NewKafkaPublisher creates a publisher writing to topic on the given
// comma separated broker list.
func NewKafkaPublisher(brokers, topic string, l log.Interface) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisher(w, l)
}

// NewPublisher wraps an existing writer.
func NewPublisher(w MessageWriter, l log.Interface) *Publisher {
	if l == nil {
		l = log.Log
	}
	return &Publisher{writer: w, log: l.WithField("component", "kafka")}
}

// Message encodes e. Events about one defect share a key so they land on
// the same partition in order.
func Message(e service.Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
		},
	}
	if e.ID != 0 {
		msg.Key = []byte(strconv.FormatInt(e.ID, 10))
	}
	return msg, nil
}

// Run forwards events from bus until ctx is done. Write failures are logged
// and the event dropped.
func (p *Publisher) Run(ctx context.Context, bus *service.EventBus) error {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.log.WithError(err).Warn("failed to close kafka writer")
		}
	}()

	p.log.Info("forwarding defect events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-ch:
			msg, err := Message(e)
			if err != nil {
				p.log.WithError(err).Error("failed to encode event")
				continue
			}
			if err := p.writer.WriteMessages(ctx, msg); err != nil {
				metrics.KafkaWriteErrorTotal.Inc()
				p.log.WithError(err).WithField("action", e.Action).Error("failed to write event")
				continue
			}
			p.log.WithField("action", e.Action).WithField("defect_id", e.ID).Debug("event written")
		}
	}
}
