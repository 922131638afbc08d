package interfaces

import "context"

// SearchIndexNotifier tells the external search index about freshly
// committed messages. Notification failures never fail a sync.
type SearchIndexNotifier interface {
	Enabled() bool
	NotifyNewMessages(ctx context.Context, accountID string, messageIDs []string) error
}
