package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mstepanov-dev/storefront-core/internal/settlement"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// OrderCreatedEvent is published after a settlement transaction commits.
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	FinalAmount string    `json:"final_amount"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Producer publishes order events best-effort: a publish failure is logged
// and never fails the settlement that produced it.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer returns a disabled producer when brokersCSV is empty.
func NewProducer(brokersCSV, topic string) *Producer {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return &Producer{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) OrderCreated(ctx context.Context, o *settlement.Order) {
	if p == nil || p.writer == nil {
		return
	}

	event := OrderCreatedEvent{
		OrderID:     o.ID.String(),
		FinalAmount: o.FinalAmount.StringFixed(2),
		Status:      string(o.Status),
		Timestamp:   time.Now().UTC(),
	}
	if o.CustomerID != nil {
		event.CustomerID = o.CustomerID.String()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("events: failed to marshal order event")
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("events: failed to publish order event, continuing")
	}
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
