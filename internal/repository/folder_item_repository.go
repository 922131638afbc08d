package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

type folderItemRepository struct {
	db *gorm.DB
}

func NewFolderItemRepository(db *gorm.DB) interfaces.FolderItemRepository {
	return &folderItemRepository{db: db}
}

func (r *folderItemRepository) Create(ctx context.Context, item *models.FolderItem) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, item.AccountID)
	tracing.TagFolder(span, item.FolderName)

	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create folder item: %w", err)
	}
	return nil
}

func (r *folderItemRepository) CreateInBatch(ctx context.Context, items []*models.FolderItem) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.CreateInBatch")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("count", len(items))

	if len(items) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(items, 200).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create folder items: %w", err)
	}
	return nil
}

func (r *folderItemRepository) GetUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.GetUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	var uids []uint32
	if err := r.db.WithContext(ctx).
		Model(&models.FolderItem{}).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		Order("uid asc").
		Pluck("uid", &uids).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder item uids: %w", err)
	}
	return uids, nil
}

func (r *folderItemRepository) GetForFolder(ctx context.Context, accountID, folderName string) ([]*models.FolderItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.GetForFolder")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	var items []*models.FolderItem
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ?", accountID, folderName).
		Order("uid asc").
		Find(&items).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder items: %w", err)
	}
	return items, nil
}

func (r *folderItemRepository) GetByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) ([]*models.FolderItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.GetByUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	if len(uids) == 0 {
		return nil, nil
	}
	var items []*models.FolderItem
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ? AND uid IN ?", accountID, folderName, uids).
		Find(&items).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder items by uid: %w", err)
	}
	return items, nil
}

func (r *folderItemRepository) DeleteByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.DeleteByUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)
	span.LogKV("count", len(uids))

	if len(uids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_name = ? AND uid IN ?", accountID, folderName, uids).
		Delete(&models.FolderItem{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder items: %w", err)
	}
	return nil
}

func (r *folderItemRepository) UpdateFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.UpdateFlags")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, folderName)

	result := r.db.WithContext(ctx).
		Model(&models.FolderItem{}).
		Where("account_id = ? AND folder_name = ? AND uid = ?", accountID, folderName, uid).
		Updates(map[string]interface{}{
			"flags":      pq.StringArray(flags),
			"labels":     pq.StringArray(labels),
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder item flags: %w", result.Error)
	}
	return nil
}

func (r *folderItemRepository) UpdateUID(ctx context.Context, itemID string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.UpdateUID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, itemID)

	result := r.db.WithContext(ctx).
		Model(&models.FolderItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"uid":        uid,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder item uid: %w", result.Error)
	}
	return nil
}

func (r *folderItemRepository) Delete(ctx context.Context, itemID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderItemRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, itemID)

	if err := r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.FolderItem{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder item: %w", err)
	}
	return nil
}
