package cron

import (
	"context"
	"sync"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/inboxline/mailsync/interfaces"
	cron_config "github.com/inboxline/mailsync/internal/cron/config"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/services/oauth"
)

// GroupMailsync serializes jobs that read the sync control plane.
const GroupMailsync = "mailsync"

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMailsync: new(sync.Mutex),
	},
}

type CronManager struct {
	log         logger.Logger
	cron        *cronv3.Cron
	jobIDs      map[string]cronv3.EntryID
	tokens      *oauth.TokenManager
	syncService interfaces.SyncService
}

func NewCronManager(log logger.Logger, tokens *oauth.TokenManager, syncService interfaces.SyncService) *CronManager {
	return &CronManager{
		log:         log,
		jobIDs:      make(map[string]cronv3.EntryID),
		tokens:      tokens,
		syncService: syncService,
	}
}

// Start initializes and starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager and waits for running jobs
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	// Load cron config from environment variables
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	// Register token purge job
	if cronConfig.CronScheduleTokenPurge != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleTokenPurge, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.tokens.PurgeExpired()
		})
		if err != nil {
			cm.log.Fatalf("Could not add token purge cron job: %v", err)
		}
		cm.jobIDs["token_purge"] = id
		cm.log.Infof("Registered token purge job with schedule: %s", cronConfig.CronScheduleTokenPurge)
	}

	// Register sync status summary job
	if cronConfig.CronScheduleSyncStatus != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleSyncStatus, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailsync].Lock()
			defer jobLocks.locks[GroupMailsync].Unlock()
			cm.logSyncStatus()
		})
		if err != nil {
			cm.log.Fatalf("Could not add sync status cron job: %v", err)
		}
		cm.jobIDs["sync_status"] = id
		cm.log.Infof("Registered sync status job with schedule: %s", cronConfig.CronScheduleSyncStatus)
	}
}

func (cm *CronManager) logSyncStatus() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.logSyncStatus")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	statuses := cm.syncService.Status(ctx)
	if len(statuses) == 0 {
		return
	}

	folderStates := make(map[string]int)
	for _, folders := range statuses {
		for _, folderStatus := range folders {
			folderStates[folderStatus.State]++
		}
	}
	cm.log.Infof("Syncing %d accounts on this host, folder states: %v", len(statuses), folderStates)
}
