package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/utils"
)

// FolderSyncProgress is the persisted state machine position for one
// (account, folder). Created on first worker entry, mutated only by that
// worker, survives restarts.
type FolderSyncProgress struct {
	ID         string         `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID  string         `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_folder_sync_account_folder;not null" json:"accountId"`
	FolderName string         `gorm:"column:folder_name;type:varchar(255);uniqueIndex:idx_folder_sync_account_folder;not null" json:"folderName"`
	State      enum.SyncState `gorm:"column:state;type:varchar(50);not null" json:"state"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (FolderSyncProgress) TableName() string {
	return "folder_sync_progress"
}

func (p *FolderSyncProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = utils.GenerateNanoIDWithPrefix("fldr", 16)
	}
	p.CreatedAt = utils.Now()
	return nil
}
