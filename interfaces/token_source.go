package interfaces

import (
	"context"
	"time"

	"github.com/inboxline/mailsync/internal/models"
)

// Token is a minted OAuth access token with its expiry.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// TokenSource mints fresh access tokens for an account and scope. The
// credential store behind it is external; invalid grants come back as
// non-retriable errors and mark the account invalid upstream.
type TokenSource interface {
	NewToken(ctx context.Context, account *models.Account, scope string) (*Token, error)
}

// TokenProvider serves tokens with caching on top of a TokenSource.
type TokenProvider interface {
	// Token returns a cached token while it is still valid, minting a
	// new one otherwise.
	Token(ctx context.Context, account *models.Account, scope string) (string, error)
	// ForceRefresh discards any cached token and mints a new one.
	ForceRefresh(ctx context.Context, account *models.Account, scope string) (string, error)
	// PurgeExpired drops cache entries past their expiry.
	PurgeExpired()
	// ClearAccount drops every cached token for one account.
	ClearAccount(accountID string)
}
