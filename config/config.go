package config

import (
	"time"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// FQDN identifies this process for account sync ownership. Empty means
	// fall back to os.Hostname at startup.
	FQDN string `env:"SYNC_FQDN"`
	// TokenServerLoc is the credential service minting OAuth access tokens.
	// Optional; without it OAuth accounts cannot authenticate.
	TokenServerLoc string `env:"TOKEN_SERVER_LOC"`
}

type SyncConfig struct {
	PollFrequency        time.Duration `env:"SYNC_POLL_FREQUENCY" envDefault:"30s"`
	Heartbeat            time.Duration `env:"SYNC_HEARTBEAT" envDefault:"1s"`
	MaxAttempts          int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"5"`
	ConnectionPoolSize   int           `env:"SYNC_IMAP_POOL_SIZE" envDefault:"3"`
	ThreadExpansionChunk int           `env:"SYNC_THREAD_EXPANSION_CHUNK" envDefault:"500"`
	DetectorQueueSize    int           `env:"SYNC_THREAD_DETECTOR_QUEUE" envDefault:"16"`
	SearchServerLoc      string        `env:"SEARCH_SERVER_LOC"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE"`
}

type S3Config struct {
	Region            string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID       string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey   string `env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint          string `env:"AWS_S3_ENDPOINT"`
	MessagePartBucket string `env:"BUCKET_NAME_MESSAGE_PARTS" envDefault:"message-parts"`
}

type CacheConfig struct {
	BaseDir string `env:"SYNC_CACHE_DIR" envDefault:"/var/cache/mailsync"`
}
