package oauth

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

var _ interfaces.TokenProvider = (*TokenManager)(nil)

type tokenKey struct {
	accountID string
	scope     string
}

type cachedToken struct {
	value  string
	expiry time.Time
}

func (t cachedToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiry)
}

// TokenManager caches access tokens per (account, scope) so every pooled
// IMAP login does not round-trip to the credential service. Tokens are
// served until expiry; the source already shaves slack off expires_in.
type TokenManager struct {
	source interfaces.TokenSource
	log    logger.Logger

	mu     sync.RWMutex
	tokens map[tokenKey]cachedToken
}

func NewTokenManager(source interfaces.TokenSource, log logger.Logger) *TokenManager {
	return &TokenManager{
		source: source,
		log:    log,
		tokens: make(map[tokenKey]cachedToken),
	}
}

func (m *TokenManager) Token(ctx context.Context, account *models.Account, scope string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.Token")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("scope", scope)

	key := tokenKey{accountID: account.ID, scope: scope}

	m.mu.RLock()
	cached, ok := m.tokens[key]
	m.mu.RUnlock()

	if ok && cached.valid(utils.Now()) {
		span.SetTag("cache.hit", true)
		return cached.value, nil
	}

	token, err := m.mint(ctx, account, scope)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return token, nil
}

func (m *TokenManager) ForceRefresh(ctx context.Context, account *models.Account, scope string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "TokenManager.ForceRefresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("scope", scope)

	m.mu.Lock()
	delete(m.tokens, tokenKey{accountID: account.ID, scope: scope})
	m.mu.Unlock()

	token, err := m.mint(ctx, account, scope)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return token, nil
}

// PurgeExpired drops cache entries past their expiry. Run periodically so
// stopped accounts do not pin dead tokens in memory.
func (m *TokenManager) PurgeExpired() {
	now := utils.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cached := range m.tokens {
		if !cached.valid(now) {
			delete(m.tokens, key)
		}
	}
}

// ClearAccount drops every cached token for one account, e.g. when its
// sync stops or its credentials are revoked.
func (m *TokenManager) ClearAccount(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.tokens {
		if key.accountID == accountID {
			delete(m.tokens, key)
		}
	}
}

func (m *TokenManager) mint(ctx context.Context, account *models.Account, scope string) (string, error) {
	if m.source == nil {
		return "", errors.New("no token source configured")
	}

	token, err := m.source.NewToken(ctx, account, scope)
	if err != nil {
		return "", errors.Wrapf(err, "failed to mint token for account %s", account.ID)
	}

	m.mu.Lock()
	m.tokens[tokenKey{accountID: account.ID, scope: scope}] = cachedToken{
		value:  token.AccessToken,
		expiry: token.Expiry,
	}
	m.mu.Unlock()

	return token.AccessToken, nil
}
