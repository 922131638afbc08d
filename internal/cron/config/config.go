package cron_config

type Config struct {
	// Expired OAuth token purge, every ten minutes
	CronScheduleTokenPurge string `env:"CRON_SCHEDULE_TOKEN_PURGE" envDefault:"0 */10 * * * *"`
	// Sync status summary, every minute
	CronScheduleSyncStatus string `env:"CRON_SCHEDULE_SYNC_STATUS" envDefault:"0 * * * * *"`
}
