package interfaces

import (
	"context"

	"github.com/inboxline/mailsync/dto"
)

type EventPublisher interface {
	PublishSyncStarted(ctx context.Context, accountID string, host string) error
	PublishSyncStopped(ctx context.Context, accountID string, host string) error
	PublishMessagesStored(ctx context.Context, event dto.MessagesStored) error
	Close() error
}
