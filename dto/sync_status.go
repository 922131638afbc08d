package dto

// Sync RPC result strings. These are stable wire values.
const (
	SyncResultStarted        = "OK sync started"
	SyncResultAlreadyStarted = "OK sync already started"
	SyncResultStopped        = "OK sync stopped"
	SyncResultStoppedAlready = "OK sync stopped already"
	SyncResultNoSuchUser     = "OK no such user"
	SyncResultError          = "ERROR error encountered"
)

// FolderSyncStatus is one folder's position as reported by its worker.
// Progress carries a percent float while the folder is in initial sync and
// an RFC3339 timestamp once it is polling.
type FolderSyncStatus struct {
	State    string      `json:"state"`
	Progress interface{} `json:"progress"`
}

// AccountSyncStatus maps folder name to its status.
type AccountSyncStatus map[string]FolderSyncStatus
