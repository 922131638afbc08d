package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

type checkpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) interfaces.CheckpointRepository {
	return &checkpointRepository{db: db}
}

func (r *checkpointRepository) Get(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "checkpointRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	var checkpoint models.UIDValidityCheckpoint
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		First(&checkpoint)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get uid validity checkpoint: %w", result.Error)
	}
	return &checkpoint, nil
}

func (r *checkpointRepository) Save(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "checkpointRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, checkpoint.AccountID)
	tracing.TagFolder(span, checkpoint.FolderName)
	span.LogKV("uidValidity", checkpoint.UIDValidity, "highestModSeq", checkpoint.HighestModSeq)

	result := r.db.WithContext(ctx).
		Model(&models.UIDValidityCheckpoint{}).
		Where("account_id = ? AND folder_name = ?", checkpoint.AccountID, checkpoint.FolderName).
		Updates(map[string]interface{}{
			"uid_validity":    checkpoint.UIDValidity,
			"highest_mod_seq": checkpoint.HighestModSeq,
			"updated_at":      utils.Now(),
		})
	if result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(checkpoint)
	}
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save uid validity checkpoint: %w", result.Error)
	}
	return nil
}
