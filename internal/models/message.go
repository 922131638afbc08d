package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/utils"
)

// Message is one downloaded mail message. ProviderMsgID / ProviderThrID
// carry X-GM-MSGID / X-GM-THRID when the backend serves them; both stay
// nil on plain IMAP. A message is created once per unique provider msgid
// (best effort) and removed only when no FolderItem references it.
type Message struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);index:idx_messages_account_provider_msgid;not null" json:"accountId"`

	ProviderMsgID *uint64 `gorm:"column:provider_msgid;index:idx_messages_account_provider_msgid" json:"providerMsgId"`
	ProviderThrID *uint64 `gorm:"column:provider_thrid;index" json:"providerThrId"`
	ThreadID      string  `gorm:"column:thread_id;type:varchar(50);index" json:"threadId"`

	// RFC822 headers
	MessageID   string         `gorm:"column:message_id;type:varchar(255);index" json:"messageId"`
	InReplyTo   string         `gorm:"column:in_reply_to;type:varchar(255)" json:"inReplyTo"`
	References  pq.StringArray `gorm:"column:references;type:text[]" json:"references"`
	Subject     string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	FromAddress string         `gorm:"column:from_address;type:varchar(255);index" json:"fromAddress"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text[]" json:"toAddresses"`
	CcAddresses pq.StringArray `gorm:"column:cc_addresses;type:text[]" json:"ccAddresses"`
	SentAt      *time.Time     `gorm:"column:sent_at;type:timestamp;index" json:"sentAt"`
	RawHeaders  JSONMap        `gorm:"column:raw_headers;type:jsonb" json:"rawHeaders"`

	Size  int           `gorm:"column:size;default:0" json:"size"`
	Parts []MessagePart `gorm:"foreignKey:MessageID;references:ID" json:"parts"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("msg", 24)
	}
	m.CreatedAt = utils.Now()
	return nil
}

// MessagePart is one MIME part of a message; the payload itself lives in
// the blob store under BlobKey.
type MessagePart struct {
	ID          string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	MessageID   string `gorm:"column:message_id;type:varchar(50);index;not null" json:"messageId"`
	PartIndex   int    `gorm:"column:part_index;not null" json:"partIndex"`
	ContentType string `gorm:"column:content_type;type:varchar(255)" json:"contentType"`
	FileName    string `gorm:"column:file_name;type:varchar(500)" json:"fileName"`
	Size        int    `gorm:"column:size;default:0" json:"size"`
	BlobKey     string `gorm:"column:blob_key;type:varchar(100);index;not null" json:"blobKey"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
}

func (MessagePart) TableName() string {
	return "message_parts"
}

func (p *MessagePart) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = utils.GenerateNanoIDWithPrefix("part", 16)
	}
	p.CreatedAt = utils.Now()
	return nil
}
