package sync

import (
	"sync"

	"github.com/inboxline/mailsync/dto"
)

// Worker-reported states. Folders report "initial" with a percent while
// messages are still downloading and "poll" with a timestamp afterwards.
const (
	statusInitial = "initial"
	statusPoll    = "poll"
)

// StatusCallback receives folder progress updates from workers. Progress is
// a percent float during initial sync and an RFC3339 timestamp during poll.
type StatusCallback func(accountID, state, folderName string, progress interface{})

// statusRegistry is the in-memory view served by the status RPCs. Workers
// write through their callback, the control plane reads.
type statusRegistry struct {
	mu       sync.RWMutex
	accounts map[string]dto.AccountSyncStatus
}

func newStatusRegistry() *statusRegistry {
	return &statusRegistry{
		accounts: make(map[string]dto.AccountSyncStatus),
	}
}

func (r *statusRegistry) set(accountID, state, folderName string, progress interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	folders, ok := r.accounts[accountID]
	if !ok {
		folders = make(dto.AccountSyncStatus)
		r.accounts[accountID] = folders
	}
	folders[folderName] = dto.FolderSyncStatus{State: state, Progress: progress}
}

// account returns a copy of one account's folder statuses, nil when the
// account is unknown.
func (r *statusRegistry) account(accountID string) dto.AccountSyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	folders, ok := r.accounts[accountID]
	if !ok {
		return nil
	}
	out := make(dto.AccountSyncStatus, len(folders))
	for name, status := range folders {
		out[name] = status
	}
	return out
}

// all returns a copy of every account's folder statuses.
func (r *statusRegistry) all() map[string]dto.AccountSyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]dto.AccountSyncStatus, len(r.accounts))
	for accountID, folders := range r.accounts {
		copied := make(dto.AccountSyncStatus, len(folders))
		for name, status := range folders {
			copied[name] = status
		}
		out[accountID] = copied
	}
	return out
}

func (r *statusRegistry) remove(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, accountID)
}
