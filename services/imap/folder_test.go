package imap

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestRoleForMailbox(t *testing.T) {
	tests := []struct {
		name     string
		mailbox  *imap.MailboxInfo
		expected string
	}{
		{
			name:     "special use attribute wins",
			mailbox:  &imap.MailboxInfo{Name: "Everything", Attributes: []string{`\HasNoChildren`, `\All`}},
			expected: roleAll,
		},
		{
			name:     "junk maps to spam",
			mailbox:  &imap.MailboxInfo{Name: "[Gmail]/Spam", Attributes: []string{`\Junk`}},
			expected: roleSpam,
		},
		{
			name:     "inbox by name, case insensitive",
			mailbox:  &imap.MailboxInfo{Name: "Inbox"},
			expected: roleInbox,
		},
		{
			name:     "gmail all mail by name when attributes are missing",
			mailbox:  &imap.MailboxInfo{Name: "[Gmail]/All Mail"},
			expected: roleAll,
		},
		{
			name:     "google mail variant",
			mailbox:  &imap.MailboxInfo{Name: "[Google Mail]/All Mail"},
			expected: roleAll,
		},
		{
			name:     "plain folder has no role",
			mailbox:  &imap.MailboxInfo{Name: "Receipts"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, roleForMailbox(tt.mailbox))
		})
	}
}

func TestSyncFolderNames_LabelModel(t *testing.T) {
	// Arrange
	folders := []folderInfo{
		{name: "[Gmail]/Trash", role: roleTrash, selectable: true},
		{name: "[Gmail]/All Mail", role: roleAll, selectable: true},
		{name: "INBOX", role: roleInbox, selectable: true},
		{name: "[Gmail]", selectable: false},
	}

	// Act
	names := syncFolderNames(folders, true)

	// Assert
	assert.Equal(t, []string{"INBOX", "[Gmail]/All Mail"}, names)
}

func TestSyncFolderNames_Generic(t *testing.T) {
	// Arrange
	folders := []folderInfo{
		{name: "Work", selectable: true},
		{name: "INBOX", role: roleInbox, selectable: true},
		{name: "Archive/2024", selectable: true},
		{name: "Archive", selectable: false},
	}

	// Act
	names := syncFolderNames(folders, false)

	// Assert
	assert.Equal(t, []string{"INBOX", "Archive/2024", "Work"}, names)
}

func TestPollFolderNames(t *testing.T) {
	folders := []folderInfo{
		{name: "INBOX", role: roleInbox, selectable: true},
		{name: "[Gmail]/All Mail", role: roleAll, selectable: true},
	}

	assert.Equal(t, []string{"INBOX"}, pollFolderNames(folders, true))
	assert.Equal(t, []string{"INBOX", "[Gmail]/All Mail"}, pollFolderNames(folders, false))
}

func TestFolderNames(t *testing.T) {
	// Arrange
	folders := []folderInfo{
		{name: "INBOX", role: roleInbox, selectable: true},
		{name: "[Gmail]/All Mail", role: roleAll, selectable: true},
		{name: "Receipts", selectable: true},
	}

	// Act
	names := folderNames(folders)

	// Assert
	assert.Equal(t, map[string]string{
		roleInbox: "INBOX",
		roleAll:   "[Gmail]/All Mail",
	}, names)
}
