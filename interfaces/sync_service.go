package interfaces

import (
	"context"

	"github.com/inboxline/mailsync/dto"
)

// SyncService is the process-wide control plane over per-account sync
// supervisors. Start/stop results map account email to one of the result
// strings documented in the dto package.
type SyncService interface {
	// StartSync starts sync for one account, or for every sync-active
	// account when emailAddress is empty.
	StartSync(ctx context.Context, emailAddress string) map[string]string
	// StopSync stops sync for one account, or for every locally running
	// account when emailAddress is empty.
	StopSync(ctx context.Context, emailAddress string) map[string]string
	// SyncStatus returns the folder statuses for one account, nil when
	// the account is unknown to this host.
	SyncStatus(ctx context.Context, accountID string) dto.AccountSyncStatus
	// Status returns the statuses of every account running on this host.
	Status(ctx context.Context) map[string]dto.AccountSyncStatus
	// Rehydrate restarts sync for accounts this host owned before a
	// restart.
	Rehydrate(ctx context.Context) error
	// Shutdown stops all local supervisors without releasing host
	// ownership, so the next boot rehydrates them.
	Shutdown(ctx context.Context)
}
