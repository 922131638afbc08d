package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/utils"
)

// FolderItem binds one folder UID to a message. Under label models several
// FolderItems point at the same Message; rows are removed when the UID
// disappears server side.
type FolderItem struct {
	ID         string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID  string `gorm:"column:account_id;type:varchar(50);uniqueIndex:idx_folder_items_account_folder_uid;not null" json:"accountId"`
	FolderName string `gorm:"column:folder_name;type:varchar(255);uniqueIndex:idx_folder_items_account_folder_uid;not null" json:"folderName"`
	UID        uint32 `gorm:"column:uid;uniqueIndex:idx_folder_items_account_folder_uid;not null" json:"uid"`
	MessageID  string `gorm:"column:message_id;type:varchar(50);index;not null" json:"messageId"`

	Flags  pq.StringArray `gorm:"column:flags;type:text[]" json:"flags"`
	Labels pq.StringArray `gorm:"column:labels;type:text[]" json:"labels"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (FolderItem) TableName() string {
	return "folder_items"
}

func (f *FolderItem) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = utils.GenerateNanoIDWithPrefix("item", 16)
	}
	f.CreatedAt = utils.Now()
	return nil
}
