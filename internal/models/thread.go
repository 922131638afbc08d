package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/inboxline/mailsync/internal/utils"
)

// Thread groups messages sharing a provider thread id. Uniqueness of
// (account, provider_thrid) is not a database constraint; it is guaranteed
// by routing all thread writes through the account's single detector.
type Thread struct {
	ID            string  `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID     string  `gorm:"column:account_id;type:varchar(50);index:idx_threads_account_provider_thrid;not null" json:"accountId"`
	ProviderThrID *uint64 `gorm:"column:provider_thrid;index:idx_threads_account_provider_thrid" json:"providerThrId"`

	Subject      string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	Participants pq.StringArray `gorm:"column:participants;type:text[]" json:"participants"`
	MessageCount int            `gorm:"column:message_count;default:0" json:"messageCount"`
	LatestDate   *time.Time     `gorm:"column:latest_date;type:timestamp" json:"latestDate"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Thread) TableName() string {
	return "threads"
}

func (t *Thread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = utils.GenerateNanoIDWithPrefix("thrd", 16)
	}
	t.CreatedAt = utils.Now()
	return nil
}

// UpdateFromMessage folds one more message into the thread aggregate.
func (t *Thread) UpdateFromMessage(msg *Message) {
	if t.Subject == "" {
		t.Subject = utils.NormalizeEmailSubject(msg.Subject)
	}

	participants := append([]string{}, t.Participants...)
	if msg.FromAddress != "" {
		participants = append(participants, utils.ExtractEmailAddress(msg.FromAddress))
	}
	for _, addr := range msg.ToAddresses {
		participants = append(participants, utils.ExtractEmailAddress(addr))
	}
	for _, addr := range msg.CcAddresses {
		participants = append(participants, utils.ExtractEmailAddress(addr))
	}
	t.Participants = utils.UniqueEmails(participants)

	if msg.SentAt != nil && (t.LatestDate == nil || msg.SentAt.After(*t.LatestDate)) {
		t.LatestDate = msg.SentAt
	}
	t.MessageCount++
}
