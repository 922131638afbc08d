package interfaces

import (
	"context"

	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/models"
)

type FolderSyncRepository interface {
	Get(ctx context.Context, accountID, folderName string) (*models.FolderSyncProgress, error)
	GetForAccount(ctx context.Context, accountID string) ([]*models.FolderSyncProgress, error)
	// Save upserts on (account_id, folder_name).
	Save(ctx context.Context, progress *models.FolderSyncProgress) error
	// SaveState persists a state transition for an existing row.
	SaveState(ctx context.Context, accountID, folderName string, state enum.SyncState) error
	Delete(ctx context.Context, accountID, folderName string) error
}

type CheckpointRepository interface {
	Get(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error)
	// Save upserts on (account_id, folder_name).
	Save(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error
}

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	CreateInBatch(ctx context.Context, messages []*models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Message, error)
	// GetByProviderMsgIDs returns the account's messages whose provider
	// msgid is in msgids.
	GetByProviderMsgIDs(ctx context.Context, accountID string, msgids []uint64) ([]*models.Message, error)
}

type FolderItemRepository interface {
	Create(ctx context.Context, item *models.FolderItem) error
	CreateInBatch(ctx context.Context, items []*models.FolderItem) error
	GetUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error)
	GetForFolder(ctx context.Context, accountID, folderName string) ([]*models.FolderItem, error)
	GetByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) ([]*models.FolderItem, error)
	DeleteByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) error
	UpdateFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error
	UpdateUID(ctx context.Context, itemID string, uid uint32) error
	Delete(ctx context.Context, itemID string) error
}

type ThreadRepository interface {
	Create(ctx context.Context, thread *models.Thread) error
	GetByID(ctx context.Context, id string) (*models.Thread, error)
	GetByProviderThrID(ctx context.Context, accountID string, thrid uint64) (*models.Thread, error)
	Update(ctx context.Context, thread *models.Thread) error
}
