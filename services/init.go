package services

import (
	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/cache"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/repository"
	"github.com/inboxline/mailsync/services/events"
	"github.com/inboxline/mailsync/services/imap"
	"github.com/inboxline/mailsync/services/indexer"
	"github.com/inboxline/mailsync/services/oauth"
	"github.com/inboxline/mailsync/services/storage"
	"github.com/inboxline/mailsync/services/sync"
)

type Services struct {
	EventsService *events.EventsService
	TokenManager  *oauth.TokenManager
	SyncService   interfaces.SyncService
}

// InitServices wires the sync engine against its collaborators: the event
// publisher, the blob store, the metadata cache, the credential service and
// the pooled IMAP factory. fqdn is this process's identity for account
// ownership.
func InitServices(cfg *config.Config, fqdn string, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, fqdn, log, nil)
	if err != nil {
		return nil, err
	}

	metaCache, err := cache.NewFileCache(cfg.CacheConfig.BaseDir)
	if err != nil {
		return nil, err
	}

	blobs := storage.NewS3BlobStore(
		cfg.S3Config.Region,
		cfg.S3Config.AccessKeyID,
		cfg.S3Config.SecretAccessKey,
		cfg.S3Config.Endpoint,
		cfg.S3Config.MessagePartBucket,
	)

	var tokenSource interfaces.TokenSource
	if cfg.AppConfig.TokenServerLoc != "" {
		tokenSource = oauth.NewHTTPTokenSource(cfg.AppConfig.TokenServerLoc, log)
	} else {
		log.Warn("no credential service configured, oauth accounts cannot authenticate")
	}
	tokenManager := oauth.NewTokenManager(tokenSource, log)

	remotes := imap.NewClientFactory(log, tokenManager, cfg.SyncConfig.ConnectionPoolSize)

	syncService := sync.NewSyncService(cfg.SyncConfig, fqdn, sync.Dependencies{
		Log:         log,
		Accounts:    repos.AccountRepository,
		FolderSync:  repos.FolderSyncRepository,
		Checkpoints: repos.CheckpointRepository,
		Messages:    repos.MessageRepository,
		FolderItems: repos.FolderItemRepository,
		Threads:     repos.ThreadRepository,
		Remotes:     remotes,
		Blobs:       blobs,
		Cache:       metaCache,
		Events:      eventsService.Publisher,
		Indexer:     indexer.NewSearchIndexNotifier(cfg.SyncConfig.SearchServerLoc, log),
		Tokens:      tokenManager,
	})

	return &Services{
		EventsService: eventsService,
		TokenManager:  tokenManager,
		SyncService:   syncService,
	}, nil
}
