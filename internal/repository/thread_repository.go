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

type threadRepository struct {
	db *gorm.DB
}

func NewThreadRepository(db *gorm.DB) interfaces.ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Create(ctx context.Context, thread *models.Thread) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, thread.AccountID)

	if err := r.db.WithContext(ctx).Create(thread).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

func (r *threadRepository) GetByID(ctx context.Context, id string) (*models.Thread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var thread models.Thread
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&thread)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get thread: %w", result.Error)
	}
	return &thread, nil
}

func (r *threadRepository) GetByProviderThrID(ctx context.Context, accountID string, thrid uint64) (*models.Thread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.GetByProviderThrID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var thread models.Thread
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND provider_thrid = ?", accountID, thrid).
		Order("created_at asc").
		First(&thread)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get thread by provider thrid: %w", result.Error)
	}
	return &thread, nil
}

func (r *threadRepository) Update(ctx context.Context, thread *models.Thread) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "threadRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, thread.AccountID)
	tracing.TagEntity(span, thread.ID)

	if err := r.db.WithContext(ctx).Save(thread).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update thread: %w", err)
	}
	return nil
}
