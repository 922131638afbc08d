package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, message.AccountID)

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *messageRepository) CreateInBatch(ctx context.Context, messages []*models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.CreateInBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("count", len(messages))

	if len(messages) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(messages, 100).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create messages: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var message models.Message
	result := r.db.WithContext(ctx).Preload("Parts").Where("id = ?", id).First(&message)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &message, nil
}

func (r *messageRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("count", len(ids))

	if len(ids) == 0 {
		return nil, nil
	}
	var messages []*models.Message
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) GetByProviderMsgIDs(ctx context.Context, accountID string, msgids []uint64) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByProviderMsgIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.LogKV("count", len(msgids))

	if len(msgids) == 0 {
		return nil, nil
	}
	var messages []*models.Message
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_msgid IN ?", accountID, msgids).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get messages by provider msgid: %w", err)
	}
	return messages, nil
}

