package dto

import "github.com/inboxline/mailsync/internal/enum"

type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

type EventDetails struct {
	Id         string          `json:"id"`
	EntityId   string          `json:"entityId"`
	EntityType enum.EntityType `json:"entityType"`
	EventType  string          `json:"eventType"`
	Data       interface{}     `json:"data"`
}

type EventMetadata struct {
	UberTraceId string `json:"uber-trace-id"`
	AppSource   string `json:"appSource"`
	Host        string `json:"host"`
	Timestamp   string `json:"timestamp"`
}

// SyncStarted is published when a host takes ownership of an account.
type SyncStarted struct {
	AccountID string `json:"accountId"`
	Host      string `json:"host"`
}

// SyncStopped is published when an account's sync is stopped on a host.
type SyncStopped struct {
	AccountID string `json:"accountId"`
	Host      string `json:"host"`
}

// MessagesStored is published after a download chunk commits.
type MessagesStored struct {
	AccountID  string   `json:"accountId"`
	FolderName string   `json:"folderName"`
	MessageIDs []string `json:"messageIds"`
}
