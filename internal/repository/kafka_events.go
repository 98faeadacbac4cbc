package repository

import (
	"context"
	"fmt"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	pkgkafka "DeskCast/pkg/kafka"
)

// messageProducer is the part of pkg/kafka.Producer the publisher needs.
type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers map[string]string) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// OutcomeMessage is one per-group outcome on the outcomes topic.
type OutcomeMessage struct {
	RunID   string              `json:"run_id"`
	Outcome models.GroupOutcome `json:"outcome"`
}

// KafkaEventPublisher announces finished runs on topic and their per-group
// outcomes on topic + ".outcomes", keyed by group.
type KafkaEventPublisher struct {
	producer      messageProducer
	topic         string
	outcomesTopic string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return newKafkaEventPublisher(producer, topic)
}

func newKafkaEventPublisher(producer messageProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic, outcomesTopic: topic + ".outcomes"}
}

func (p *KafkaEventPublisher) PublishRunCompleted(ctx context.Context, ev models.RunEvent, outcomes []models.GroupOutcome) error {
	headers := map[string]string{pkgkafka.HeaderRunID: ev.RunID}
	if len(outcomes) > 0 {
		msgs := make([]pkgkafka.Message, len(outcomes))
		for i, o := range outcomes {
			msgs[i] = pkgkafka.Message{
				Key:     []byte(o.Group.String()),
				Value:   OutcomeMessage{RunID: ev.RunID, Outcome: o},
				Headers: headers,
			}
		}
		if err := p.producer.PublishBatch(ctx, p.outcomesTopic, msgs); err != nil {
			return fmt.Errorf("publish outcomes: %w", err)
		}
	}
	// Run event last; readers reload on it.
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.RunID), ev, headers); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
