package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/utils"
)

// UIDValidityCheckpoint records the last negotiated UIDVALIDITY and
// HIGHESTMODSEQ per (account, folder). Present once the folder has been
// selected successfully at least once.
type UIDValidityCheckpoint struct {
	ID            string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID     string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_checkpoint_account_folder;not null" json:"accountId"`
	FolderName    string `gorm:"column:folder_name;type:varchar(255);uniqueIndex:idx_checkpoint_account_folder;not null" json:"folderName"`
	UIDValidity   uint32 `gorm:"column:uid_validity;not null" json:"uidValidity"`
	HighestModSeq uint64 `gorm:"column:highest_mod_seq;not null;default:0" json:"highestModSeq"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (UIDValidityCheckpoint) TableName() string {
	return "uid_validity_checkpoints"
}

func (c *UIDValidityCheckpoint) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = utils.GenerateNanoIDWithPrefix("ckpt", 16)
	}
	c.CreatedAt = utils.Now()
	return nil
}
