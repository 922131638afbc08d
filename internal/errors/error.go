package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrConnectionTimeout = errors.New("connection timeout")

	// account errors
	ErrTokenInvalid = errors.New("credentials are no longer valid")

	// sync errors
	ErrUIDValidityChanged = errors.New("folder uidvalidity changed")
	ErrSyncTaskReturned   = errors.New("sync task returned unexpectedly")
	ErrFolderNotSelected  = errors.New("no folder selected")
	ErrPoolClosed         = errors.New("connection pool is closed")
)
