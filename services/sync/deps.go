package sync

import (
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
)

// Dependencies carries every collaborator the sync engine works against.
// Events, Indexer and Tokens may be nil; the engine then skips them.
type Dependencies struct {
	Log         logger.Logger
	Accounts    interfaces.AccountRepository
	FolderSync  interfaces.FolderSyncRepository
	Checkpoints interfaces.CheckpointRepository
	Messages    interfaces.MessageRepository
	FolderItems interfaces.FolderItemRepository
	Threads     interfaces.ThreadRepository
	Remotes     interfaces.RemoteMailboxFactory
	Blobs       interfaces.BlobStore
	Cache       interfaces.MetaCache
	Events      interfaces.EventPublisher
	Indexer     interfaces.SearchIndexNotifier
	Tokens      interfaces.TokenProvider
}
