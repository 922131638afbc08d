package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

type folderSyncRepository struct {
	db *gorm.DB
}

func NewFolderSyncRepository(db *gorm.DB) interfaces.FolderSyncRepository {
	return &folderSyncRepository{db: db}
}

func (r *folderSyncRepository) Get(ctx context.Context, accountID, folderName string) (*models.FolderSyncProgress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.Get")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	var progress models.FolderSyncProgress
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		First(&progress)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get folder sync progress: %w", result.Error)
	}
	return &progress, nil
}

func (r *folderSyncRepository) GetForAccount(ctx context.Context, accountID string) ([]*models.FolderSyncProgress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.GetForAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var rows []*models.FolderSyncProgress
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&rows).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folder sync progress: %w", err)
	}
	return rows, nil
}

func (r *folderSyncRepository) Save(ctx context.Context, progress *models.FolderSyncProgress) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.Save")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, progress.AccountID)
	tracing.TagFolder(span, progress.FolderName)

	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncProgress{}).
		Where("account_id = ? AND folder_name = ?", progress.AccountID, progress.FolderName).
		Updates(map[string]interface{}{
			"state":      progress.State,
			"updated_at": utils.Now(),
		})
	if result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(progress)
	}
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save folder sync progress: %w", result.Error)
	}
	return nil
}

func (r *folderSyncRepository) SaveState(ctx context.Context, accountID, folderName string, state enum.SyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.SaveState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)
	span.LogKV("state", state.String())

	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncProgress{}).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		Updates(map[string]interface{}{
			"state":      state,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save folder sync state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		progress := &models.FolderSyncProgress{
			AccountID:  accountID,
			FolderName: folderName,
			State:      state,
		}
		if err := r.db.WithContext(ctx).Create(progress).Error; err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to create folder sync state: %w", err)
		}
	}
	return nil
}

func (r *folderSyncRepository) Delete(ctx context.Context, accountID, folderName string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		Delete(&models.FolderSyncProgress{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete folder sync progress: %w", result.Error)
	}
	return nil
}
