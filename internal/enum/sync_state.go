package enum

// SyncState is the persisted per-folder state machine position.
type SyncState string

const (
	SyncStateInitial           SyncState = "initial"
	SyncStateInitialUIDInvalid SyncState = "initial-uidinvalid"
	SyncStatePoll              SyncState = "poll"
	SyncStatePollUIDInvalid    SyncState = "poll-uidinvalid"
	SyncStateFinish            SyncState = "finish"
)

func (s SyncState) String() string {
	return string(s)
}

// IsValid reports whether s is one of the five persisted states.
func (s SyncState) IsValid() bool {
	switch s {
	case SyncStateInitial, SyncStateInitialUIDInvalid, SyncStatePoll, SyncStatePollUIDInvalid, SyncStateFinish:
		return true
	}
	return false
}

// Terminal reports whether the worker has nothing left to do.
func (s SyncState) Terminal() bool {
	return s == SyncStateFinish
}
