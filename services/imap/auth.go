package imap

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// mailScope is the OAuth scope minted for IMAP access.
const mailScope = "https://mail.google.com/"

type authenticator struct {
	tokens interfaces.TokenProvider
}

// login authenticates a freshly dialed client, with SASL OAUTHBEARER for
// OAuth accounts and LOGIN otherwise. A failed OAuth attempt is retried once
// with a force-refreshed token before giving up.
func (a *authenticator) login(ctx context.Context, c *client.Client, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "authenticator.login")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("oauth", account.UseOAuth)

	if !account.UseOAuth {
		if err := c.Login(account.ImapUsername, account.ImapPassword); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to login as %s: %w", account.ImapUsername, err)
		}
		return nil
	}

	if a.tokens == nil {
		err := fmt.Errorf("account %s requires OAuth but no token provider is configured", account.ID)
		tracing.TraceErr(span, err)
		return err
	}

	token, err := a.tokens.Token(ctx, account, mailScope)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to get access token: %w", err)
	}

	if err = c.Authenticate(oauthClient(account, token)); err == nil {
		return nil
	}

	// Cached token may have been revoked server-side; mint a fresh one.
	token, refreshErr := a.tokens.ForceRefresh(ctx, account, mailScope)
	if refreshErr != nil {
		tracing.TraceErr(span, refreshErr)
		return fmt.Errorf("failed to refresh access token: %w", refreshErr)
	}
	if err = c.Authenticate(oauthClient(account, token)); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to authenticate as %s: %w", account.ImapUsername, err)
	}
	return nil
}

func oauthClient(account *models.Account, token string) sasl.Client {
	return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: account.ImapUsername,
		Token:    token,
	})
}
