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

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.Account
	result := r.db.WithContext(ctx).Where("email = ?", email).First(&account)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get account by email: %w", result.Error)
	}
	return &account, nil
}

func (r *accountRepository) GetSyncActive(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetSyncActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Where("sync_active = ?", true).Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list sync-active accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) GetWithSyncHost(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetWithSyncHost")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Where("sync_host IS NOT NULL").Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list claimed accounts: %w", err)
	}
	return accounts, nil
}

// ClaimSyncHost is the account-scoped sync lock: the conditional update
// succeeds only when no other host holds the account.
func (r *accountRepository) ClaimSyncHost(ctx context.Context, accountID, host string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ClaimSyncHost")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND (sync_host IS NULL OR sync_host = ?)", accountID, host).
		Updates(map[string]interface{}{
			"sync_host":  host,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, fmt.Errorf("failed to claim sync host: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *accountRepository) ReleaseSyncHost(ctx context.Context, accountID, host string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ReleaseSyncHost")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND sync_host = ?", accountID, host).
		Updates(map[string]interface{}{
			"sync_host":  nil,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to release sync host: %w", result.Error)
	}
	return nil
}
