package indexer

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
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/tracing"
)

// searchIndexNotifier POSTs freshly committed message ids to the search
// server so indexing can start without polling the database. It is a
// best-effort side channel: sync outcomes never depend on it.
type searchIndexNotifier struct {
	serverLoc string
	log       logger.Logger
	client    *http.Client
}

func NewSearchIndexNotifier(serverLoc string, log logger.Logger) interfaces.SearchIndexNotifier {
	return &searchIndexNotifier{
		serverLoc: serverLoc,
		log:       log,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *searchIndexNotifier) Enabled() bool {
	return s.serverLoc != ""
}

type indexRequest struct {
	AccountID  string   `json:"account_id"`
	MessageIDs []string `json:"message_ids"`
}

func (s *searchIndexNotifier) NotifyNewMessages(ctx context.Context, accountID string, messageIDs []string) error {
	if !s.Enabled() || len(messageIDs) == 0 {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "searchIndexNotifier.NotifyNewMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.LogKV("message.count", len(messageIDs))

	requestData, err := json.Marshal(indexRequest{
		AccountID:  accountID,
		MessageIDs: messageIDs,
	})
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "failed to marshal request body"))
		return fmt.Errorf("failed to marshal request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.serverLoc+"/v1/index", bytes.NewBuffer(requestData))
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "failed to create HTTP request"))
		return fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "failed to reach search server"))
		return fmt.Errorf("failed to reach search server: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("search server returned %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return err
	}

	return nil
}
