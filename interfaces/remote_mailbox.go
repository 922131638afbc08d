package interfaces

import (
	"context"
	"time"

	"github.com/inboxline/mailsync/internal/models"
)

// Well-known role keys in the map returned by RemoteMailbox.FolderNames.
const (
	FolderRoleInbox = "inbox"
	FolderRoleAll   = "all"
)

// GMetadata is the Gmail extension metadata for one UID. Both ids are zero
// on backends without the extensions.
type GMetadata struct {
	MsgID uint64 `json:"msgid"`
	ThrID uint64 `json:"thrid"`
}

// FlagSet is the per-UID flag and label state.
type FlagSet struct {
	Flags  []string `json:"flags"`
	Labels []string `json:"labels"`
}

// RawMessage is one fetched message with its per-folder context.
type RawMessage struct {
	UID          uint32
	Flags        []string
	Labels       []string
	InternalDate time.Time
	Body         []byte
	GMsgID       uint64
	GThrID       uint64
}

// SelectInfo is the result of selecting a folder.
type SelectInfo struct {
	FolderName    string
	UIDValidity   uint32
	HighestModSeq uint64
	Exists        uint32
}

// FolderStatus is the result of a STATUS probe, cheaper than a SELECT.
type FolderStatus struct {
	UIDValidity   uint32
	HighestModSeq uint64
	Messages      uint32
}

// UIDValidityCallback inspects a freshly negotiated selection and returns
// errors.ErrUIDValidityChanged when the new UIDVALIDITY disagrees with the
// cached checkpoint. Any error aborts the selection.
type UIDValidityCallback func(folderName string, info *SelectInfo) error

// RemoteConnection is one leased IMAP session. Release must be called on
// every exit path; the selected-state accessors report on the most recent
// successful SelectFolder.
type RemoteConnection interface {
	SelectFolder(ctx context.Context, name string, cb UIDValidityCallback) (*SelectInfo, error)
	FolderStatus(ctx context.Context, name string) (*FolderStatus, error)
	AllUIDs(ctx context.Context) ([]uint32, error)
	FetchMessages(ctx context.Context, uids []uint32) ([]*RawMessage, error)
	FetchFlags(ctx context.Context, uids []uint32) (map[uint32]FlagSet, error)
	FetchGMetadata(ctx context.Context, uids []uint32) (map[uint32]GMetadata, error)
	NewAndUpdatedUIDs(ctx context.Context, sinceModSeq uint64) ([]uint32, error)
	ExpandThreads(ctx context.Context, thrids []uint64) ([]uint32, error)

	SelectedFolderName() string
	SelectedUIDValidity() uint32
	SelectedHighestModSeq() uint64

	Release()
}

// RemoteMailbox is the account-scoped view of the backend: a bounded
// connection pool plus folder classification.
type RemoteMailbox interface {
	// Lease blocks until a pooled connection is available or ctx is done.
	Lease(ctx context.Context) (RemoteConnection, error)

	// SyncFolders lists folders wanting an initial sync, in sync order.
	SyncFolders(ctx context.Context) ([]string, error)
	// PollFolders lists folders that keep receiving mail after initial
	// sync; the rest finish.
	PollFolders(ctx context.Context) ([]string, error)
	// FolderNames maps well-known roles to backend folder names,
	// e.g. "all" to the Gmail All Mail folder.
	FolderNames(ctx context.Context) (map[string]string, error)

	// ChunkSize is the provider-tuned UID batch size for downloads.
	ChunkSize() int

	Close() error
}

// RemoteMailboxFactory builds the RemoteMailbox for one account.
type RemoteMailboxFactory interface {
	ForAccount(ctx context.Context, account *models.Account) (RemoteMailbox, error)
}
