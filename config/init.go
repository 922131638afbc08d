package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	SyncConfig     *SyncConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
	S3Config       *S3Config
	CacheConfig    *CacheConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		SyncConfig:     &SyncConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
		DatabaseConfig: &DatabaseConfig{},
		S3Config:       &S3Config{},
		CacheConfig:    &CacheConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading mailsync config: %v", err)
	}

	return config, nil
}
