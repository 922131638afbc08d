package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/interfaces"
	er "github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

// expirySlack is shaved off expires_in so a token is refreshed before the
// backend would reject it mid-command.
const expirySlack = 2 * time.Minute

// httpTokenSource mints access tokens from the credential service holding
// the account's OAuth grant. The refresh token never reaches this process.
type httpTokenSource struct {
	serverLoc string
	log       logger.Logger
	client    *http.Client
}

func NewHTTPTokenSource(serverLoc string, log logger.Logger) interfaces.TokenSource {
	return &httpTokenSource{
		serverLoc: serverLoc,
		log:       log,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenRequest struct {
	AccountID string `json:"account_id"`
	Scope     string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *httpTokenSource) NewToken(ctx context.Context, account *models.Account, scope string) (*interfaces.Token, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "httpTokenSource.NewToken")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("scope", scope)

	requestData, err := json.Marshal(tokenRequest{AccountID: account.ID, Scope: scope})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.serverLoc+"/v1/tokens", bytes.NewBuffer(requestData))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to reach credential service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("credential service returned %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode < http.StatusInternalServerError {
			// a 4xx means the grant itself is bad, not the service
			err = errors.Wrap(er.ErrTokenInvalid, err.Error())
		}
		tracing.TraceErr(span, err)
		return nil, err
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to decode token response")
	}
	if token.AccessToken == "" {
		err := errors.New("credential service returned an empty access token")
		tracing.TraceErr(span, err)
		return nil, err
	}

	expiresIn := time.Duration(token.ExpiresIn) * time.Second
	if expiresIn > expirySlack {
		expiresIn -= expirySlack
	}

	return &interfaces.Token{
		AccessToken: token.AccessToken,
		Expiry:      utils.Now().Add(expiresIn),
	}, nil
}
