package imap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/inboxline/mailsync/interfaces"
)

// Well-known folder roles, keyed off RFC 6154 special-use attributes with
// name fallbacks for servers that predate them.
const (
	roleInbox     = interfaces.FolderRoleInbox
	roleAll       = interfaces.FolderRoleAll
	roleTrash     = "trash"
	roleSent      = "sent"
	roleDrafts    = "drafts"
	roleSpam      = "spam"
	roleStarred   = "starred"
	roleImportant = "important"
	roleArchive   = "archive"
)

type folderInfo struct {
	name       string
	role       string
	selectable bool
}

// listFolders lists every folder on the server with its attributes.
func (c *imapConnection) listFolders() ([]folderInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	c.client.Timeout = commandTimeout
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []folderInfo
	for m := range mailboxes {
		folders = append(folders, folderInfo{
			name:       m.Name,
			role:       roleForMailbox(m),
			selectable: isSelectable(m),
		})
	}

	err := <-done
	c.client.Timeout = 0
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func isSelectable(m *imap.MailboxInfo) bool {
	for _, attr := range m.Attributes {
		if attr == imap.NoSelectAttr {
			return false
		}
	}
	return true
}

func roleForMailbox(m *imap.MailboxInfo) string {
	for _, attr := range m.Attributes {
		switch attr {
		case `\All`:
			return roleAll
		case `\Trash`:
			return roleTrash
		case `\Sent`:
			return roleSent
		case `\Drafts`:
			return roleDrafts
		case `\Junk`:
			return roleSpam
		case `\Flagged`:
			return roleStarred
		case `\Important`:
			return roleImportant
		case `\Archive`:
			return roleArchive
		}
	}

	if strings.EqualFold(m.Name, "INBOX") {
		return roleInbox
	}

	// Gmail served LIST without SPECIAL-USE for years; the localized
	// names below are the stable English forms.
	switch m.Name {
	case "[Gmail]/All Mail", "[Google Mail]/All Mail":
		return roleAll
	case "[Gmail]/Trash", "[Google Mail]/Trash":
		return roleTrash
	case "[Gmail]/Spam", "[Google Mail]/Spam":
		return roleSpam
	}
	return ""
}

// folderNames maps every discovered role to its backend folder name.
func folderNames(folders []folderInfo) map[string]string {
	names := make(map[string]string)
	for _, f := range folders {
		if f.role != "" {
			names[f.role] = f.name
		}
	}
	return names
}

// syncFolderNames lists the folders wanting an initial sync, in sync order.
// A label-model backend only needs the inbox and the all-mail folder; every
// message lives in all-mail and the inbox copy keeps new mail fresh. Other
// backends sync every selectable folder.
func syncFolderNames(folders []folderInfo, labelModel bool) []string {
	if labelModel {
		names := folderNames(folders)
		var out []string
		if name, ok := names[roleInbox]; ok {
			out = append(out, name)
		}
		if name, ok := names[roleAll]; ok {
			out = append(out, name)
		}
		return out
	}
	return selectableNames(folders)
}

// pollFolderNames lists the folders that keep polling after initial sync.
// On a label-model backend only the inbox polls; all-mail finishes once its
// initial sync completes.
func pollFolderNames(folders []folderInfo, labelModel bool) []string {
	if labelModel {
		names := folderNames(folders)
		if name, ok := names[roleInbox]; ok {
			return []string{name}
		}
		return nil
	}
	return selectableNames(folders)
}

func selectableNames(folders []folderInfo) []string {
	var out []string
	for _, f := range folders {
		if f.selectable {
			out = append(out, f.name)
		}
	}
	// Inbox first, the rest alphabetical: sync order doubles as download
	// priority.
	sort.Slice(out, func(i, j int) bool {
		ii := strings.EqualFold(out[i], "INBOX")
		jj := strings.EqualFold(out[j], "INBOX")
		if ii != jj {
			return ii
		}
		return out[i] < out[j]
	})
	return out
}
