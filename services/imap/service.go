package imap

import (
	"context"
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// Download batch sizes. Gmail throttles large UID FETCHes well before
// generic servers do, so it gets the small batch.
const (
	gmailChunkSize   = 20
	genericChunkSize = 100
)

var (
	_ interfaces.RemoteConnection     = (*imapConnection)(nil)
	_ interfaces.RemoteMailbox        = (*remoteMailbox)(nil)
	_ interfaces.RemoteMailboxFactory = (*ClientFactory)(nil)
)

// remoteMailbox is the account-scoped view of one IMAP backend: a bounded
// connection pool plus a lazily loaded folder listing.
type remoteMailbox struct {
	account *models.Account
	pool    *connPool
	log     logger.Logger

	mu      sync.Mutex
	folders []folderInfo
	loaded  bool
}

func (m *remoteMailbox) Lease(ctx context.Context) (interfaces.RemoteConnection, error) {
	return m.pool.lease(ctx)
}

func (m *remoteMailbox) SyncFolders(ctx context.Context) ([]string, error) {
	folders, err := m.loadFolders(ctx)
	if err != nil {
		return nil, err
	}
	return syncFolderNames(folders, m.account.Provider.HasLabels()), nil
}

func (m *remoteMailbox) PollFolders(ctx context.Context) ([]string, error) {
	folders, err := m.loadFolders(ctx)
	if err != nil {
		return nil, err
	}
	return pollFolderNames(folders, m.account.Provider.HasLabels()), nil
}

func (m *remoteMailbox) FolderNames(ctx context.Context) (map[string]string, error) {
	folders, err := m.loadFolders(ctx)
	if err != nil {
		return nil, err
	}
	return folderNames(folders), nil
}

func (m *remoteMailbox) ChunkSize() int {
	if m.account.Provider.HasGmailExtensions() {
		return gmailChunkSize
	}
	return genericChunkSize
}

func (m *remoteMailbox) Close() error {
	return m.pool.close()
}

// loadFolders lists the account's folders once and caches the result for
// the mailbox lifetime. Failures are not cached; the next call retries.
func (m *remoteMailbox) loadFolders(ctx context.Context) ([]folderInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.folders, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "remoteMailbox.loadFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, m.account.ID)

	conn, err := m.pool.lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer conn.Release()

	folders, err := conn.listFolders()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	m.folders = folders
	m.loaded = true
	span.LogKV("folder.count", len(folders))
	return folders, nil
}

// ClientFactory builds one pooled RemoteMailbox per account.
type ClientFactory struct {
	log      logger.Logger
	tokens   interfaces.TokenProvider
	poolSize int
}

func NewClientFactory(log logger.Logger, tokens interfaces.TokenProvider, poolSize int) *ClientFactory {
	return &ClientFactory{
		log:      log,
		tokens:   tokens,
		poolSize: poolSize,
	}
}

func (f *ClientFactory) ForAccount(ctx context.Context, account *models.Account) (interfaces.RemoteMailbox, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}
	if account.ImapServer == "" || account.ImapPort == 0 {
		return nil, fmt.Errorf("account %s has no imap endpoint configured", account.ID)
	}

	auth := &authenticator{tokens: f.tokens}
	pool := newConnPool(account, auth, f.log, f.poolSize)
	return &remoteMailbox{
		account: account,
		pool:    pool,
		log:     f.log,
	}, nil
}
