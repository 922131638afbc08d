package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/utils"
)

// Account is a mail account under sync. SyncHost carries the FQDN of the
// process currently owning the account, or nil when no host does.
type Account struct {
	ID          string        `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	Email       string        `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	Provider    enum.Provider `gorm:"column:provider;type:varchar(50);index;not null" json:"provider"`
	NamespaceID string        `gorm:"column:namespace_id;type:varchar(50);index" json:"namespaceId"`

	// IMAP endpoint
	ImapServer   string `gorm:"column:imap_server;type:varchar(255);not null" json:"imapServer"`
	ImapPort     int    `gorm:"column:imap_port;not null" json:"imapPort"`
	ImapUsername string `gorm:"column:imap_username;type:varchar(255);not null" json:"imapUsername"`
	ImapPassword string `gorm:"column:imap_password;type:varchar(255)" json:"-"`
	ImapTLS      bool   `gorm:"column:imap_tls;not null;default:true" json:"imapTls"`
	UseOAuth     bool   `gorm:"column:use_oauth;not null;default:false" json:"useOauth"`

	// Sync ownership
	SyncActive bool    `gorm:"column:sync_active;not null;default:false" json:"syncActive"`
	SyncHost   *string `gorm:"column:sync_host;type:varchar(255);index" json:"syncHost"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	a.CreatedAt = utils.Now()
	return nil
}
