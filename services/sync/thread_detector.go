package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// ThreadDetector serializes thread resolution for one account. Folder
// workers download concurrently, but every batch funnels through the single
// run loop, so (account, provider thrid) never races into duplicate thread
// rows no matter how many folders carry the same conversation.
//
// Messages are stamped with their thread id in place; callers commit them
// after Process returns.
type ThreadDetector struct {
	accountID string
	threads   interfaces.ThreadRepository
	log       logger.Logger

	inbox   chan threadBatch
	stopped chan struct{}
}

type threadBatch struct {
	messages []*models.Message
	done     chan error
}

func newThreadDetector(accountID string, threads interfaces.ThreadRepository, log logger.Logger, queueSize int) *ThreadDetector {
	if queueSize < 1 {
		queueSize = 1
	}
	return &ThreadDetector{
		accountID: accountID,
		threads:   threads,
		log:       log,
		inbox:     make(chan threadBatch, queueSize),
		stopped:   make(chan struct{}),
	}
}

// Process hands one download batch to the detector and blocks until every
// message carries a thread id, or until ctx ends.
func (d *ThreadDetector) Process(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch := threadBatch{messages: messages, done: make(chan error, 1)}
	select {
	case d.inbox <- batch:
	case <-d.stopped:
		return errors.New("thread detector is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-batch.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single consumer loop. It exits when ctx ends.
func (d *ThreadDetector) run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case batch := <-d.inbox:
			err := d.processBatch(ctx, batch.messages)
			if err != nil {
				d.log.Errorf("thread detection failed for account %s: %v", d.accountID, err)
			}
			batch.done <- err
		case <-ctx.Done():
			return
		}
	}
}

// processBatch resolves a thread for every message. The cache is batch
// local: within one batch a thrid is looked up at most once, across batches
// the store is the source of truth.
func (d *ThreadDetector) processBatch(ctx context.Context, messages []*models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ThreadDetector.processBatch")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, d.accountID)
	span.LogKV("message.count", len(messages))

	cache := make(map[uint64]*models.Thread)
	dirty := make(map[string]*models.Thread)

	for _, msg := range messages {
		if msg.ProviderThrID == nil {
			// no provider thread id: each message becomes its own thread
			thread := &models.Thread{AccountID: d.accountID}
			thread.UpdateFromMessage(msg)
			if err := d.threads.Create(ctx, thread); err != nil {
				tracing.TraceErr(span, err)
				return err
			}
			msg.ThreadID = thread.ID
			continue
		}

		thrid := *msg.ProviderThrID
		thread, ok := cache[thrid]
		if !ok {
			existing, err := d.threads.GetByProviderThrID(ctx, d.accountID, thrid)
			if err != nil {
				tracing.TraceErr(span, err)
				return err
			}
			if existing == nil {
				thread = &models.Thread{AccountID: d.accountID, ProviderThrID: &thrid}
				thread.UpdateFromMessage(msg)
				if err := d.threads.Create(ctx, thread); err != nil {
					tracing.TraceErr(span, err)
					return err
				}
				cache[thrid] = thread
				msg.ThreadID = thread.ID
				continue
			}
			thread = existing
			cache[thrid] = thread
		}

		thread.UpdateFromMessage(msg)
		dirty[thread.ID] = thread
		msg.ThreadID = thread.ID
	}

	for _, thread := range dirty {
		if err := d.threads.Update(ctx, thread); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}
