package events

import (
	"context"
	"fmt"

	"github.com/inboxline/mailsync/dto"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
)

var (
	_ interfaces.EventPublisher = (*RabbitMQPublisher)(nil)
	_ interfaces.EventPublisher = (*NoopPublisher)(nil)
)

type EventsService struct {
	Publisher interfaces.EventPublisher
}

// NewEventsService wires the publisher, or a no-op stand-in when no broker
// is configured. Sync never blocks on a missing broker.
func NewEventsService(rabbitmqURL, host string, log logger.Logger, publisherConfig *PublisherConfig) (*EventsService, error) {
	if rabbitmqURL == "" {
		log.Warn("no rabbitmq url configured, events are disabled")
		return &EventsService{Publisher: &NoopPublisher{log: log}}, nil
	}

	publisher, err := NewRabbitMQPublisher(rabbitmqURL, host, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	return &EventsService{
		Publisher: publisher,
	}, nil
}

func (s *EventsService) Close() error {
	var errs []error

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing events service: %v", errs)
	}

	return nil
}

// NoopPublisher drops every event. Used when the deployment runs without a
// broker.
type NoopPublisher struct {
	log logger.Logger
}

func (p *NoopPublisher) PublishSyncStarted(ctx context.Context, accountID string, host string) error {
	p.log.Debugf("events disabled, dropping sync started for account %s", accountID)
	return nil
}

func (p *NoopPublisher) PublishSyncStopped(ctx context.Context, accountID string, host string) error {
	p.log.Debugf("events disabled, dropping sync stopped for account %s", accountID)
	return nil
}

func (p *NoopPublisher) PublishMessagesStored(ctx context.Context, event dto.MessagesStored) error {
	p.log.Debugf("events disabled, dropping messages stored for account %s", event.AccountID)
	return nil
}

func (p *NoopPublisher) Close() error {
	return nil
}
