package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
)

// connPool caps the number of live IMAP sessions per account. Providers
// throttle per-account connections aggressively, so folder workers lease
// from a small fixed pool instead of dialing on demand.
type connPool struct {
	account *models.Account
	auth    *authenticator
	log     logger.Logger

	sem chan struct{}

	mu     sync.Mutex
	idle   []*imapConnection
	closed bool
}

func newConnPool(account *models.Account, auth *authenticator, log logger.Logger, size int) *connPool {
	if size < 1 {
		size = 1
	}
	return &connPool{
		account: account,
		auth:    auth,
		log:     log,
		sem:     make(chan struct{}, size),
	}
}

// lease blocks until a pool slot frees up or ctx is done, then hands out a
// healthy session. Idle sessions are health-checked with NOOP before reuse;
// dead ones are discarded and replaced with a fresh dial.
func (p *connPool) lease(ctx context.Context) (*imapConnection, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			<-p.sem
			return nil, errors.ErrPoolClosed
		}
		var conn *imapConnection
		if n := len(p.idle); n > 0 {
			conn = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if conn == nil {
			break
		}

		conn.client.Timeout = 10 * time.Second
		err := conn.client.Noop()
		conn.client.Timeout = 0
		if err == nil {
			return conn, nil
		}
		p.log.Warnf("discarding dead imap connection for account %s: %v", p.account.ID, err)
		logout(conn.client)
	}

	c, err := dial(ctx, p.account)
	if err != nil {
		<-p.sem
		return nil, err
	}
	if err := p.auth.login(ctx, c, p.account); err != nil {
		logout(c)
		<-p.sem
		return nil, err
	}

	return &imapConnection{pool: p, client: c, account: p.account}, nil
}

// release returns a session to the idle list. After close, returned
// sessions are logged out instead.
func (p *connPool) release(conn *imapConnection) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		logout(conn.client)
		<-p.sem
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	<-p.sem
}

// close logs out every idle session and fails all future leases. Sessions
// leased at the time of the call are logged out on release.
func (p *connPool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		logout(conn.client)
	}
	return nil
}

// logout ends a session without letting a wedged server hold us up.
func logout(c *client.Client) {
	c.Timeout = 5 * time.Second
	_ = c.Logout()
}
