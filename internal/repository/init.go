package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository    interfaces.AccountRepository
	FolderSyncRepository interfaces.FolderSyncRepository
	CheckpointRepository interfaces.CheckpointRepository
	MessageRepository    interfaces.MessageRepository
	FolderItemRepository interfaces.FolderItemRepository
	ThreadRepository     interfaces.ThreadRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:    NewAccountRepository(db),
		FolderSyncRepository: NewFolderSyncRepository(db),
		CheckpointRepository: NewCheckpointRepository(db),
		MessageRepository:    NewMessageRepository(db),
		FolderItemRepository: NewFolderItemRepository(db),
		ThreadRepository:     NewThreadRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, gormDB *gorm.DB) error {
	db, err := gormDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = gormDB.AutoMigrate(
		&models.Account{},
		&models.FolderSyncProgress{},
		&models.UIDValidityCheckpoint{},
		&models.Message{},
		&models.MessagePart{},
		&models.FolderItem{},
		&models.Thread{},
	)

	db.Close()

	db, _ = gormDB.DB()
	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
