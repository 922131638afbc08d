package interfaces

import (
	"context"

	"github.com/inboxline/mailsync/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetSyncActive(ctx context.Context) ([]*models.Account, error)
	// GetWithSyncHost lists accounts claimed by any host, for startup
	// rehydration.
	GetWithSyncHost(ctx context.Context) ([]*models.Account, error)
	// ClaimSyncHost sets sync_host to host only when the account is
	// unclaimed or already claimed by host. Returns false when another
	// host owns the account.
	ClaimSyncHost(ctx context.Context, accountID, host string) (bool, error)
	// ReleaseSyncHost nulls sync_host when held by host.
	ReleaseSyncHost(ctx context.Context, accountID, host string) error
}
