package sync

import (
	"context"
	"sort"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/inboxline/mailsync/dto"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// deduplicateDownload partitions uids by whether their provider msgid is
// already stored for the account. Known msgids only need a folder item in
// the selected folder, created here; the returned uids need the full
// download. On plain IMAP msgids are always zero and everything downloads.
func (w *FolderSyncWorker) deduplicateDownload(ctx context.Context, conn interfaces.RemoteConnection, metadata remoteMetadata, uids []uint32) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.deduplicateDownload")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)
	span.LogKV("candidate.count", len(uids))

	msgids := make([]uint64, 0, len(uids))
	for _, uid := range uids {
		if meta, ok := metadata[uid]; ok && meta.MsgID != 0 {
			msgids = append(msgids, meta.MsgID)
		}
	}

	localMsgIDs := make(map[uint64]bool)
	if len(msgids) > 0 {
		local, err := w.deps.Messages.GetByProviderMsgIDs(ctx, w.account.ID, msgids)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		for _, msg := range local {
			if msg.ProviderMsgID != nil {
				localMsgIDs[*msg.ProviderMsgID] = true
			}
		}
	}

	sorted := append([]uint32{}, uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var fullDownload, itemOnly []uint32
	for _, uid := range sorted {
		if meta, ok := metadata[uid]; ok && meta.MsgID != 0 && localMsgIDs[meta.MsgID] {
			itemOnly = append(itemOnly, uid)
		} else {
			fullDownload = append(fullDownload, uid)
		}
	}

	w.log.Infof("skipping %d uids already downloaded for %s/%s", len(itemOnly), w.account.Email, w.folderName)
	if len(itemOnly) > 0 {
		if err := w.addKnownFolderItems(ctx, conn, metadata, itemOnly); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	return fullDownload, nil
}

// addKnownFolderItems creates folder items in the currently selected folder
// for uids whose message is already stored. Thread-priority downloads may
// have created some of these rows already; those uids are skipped.
func (w *FolderSyncWorker) addKnownFolderItems(ctx context.Context, conn interfaces.RemoteConnection, metadata remoteMetadata, uids []uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.addKnownFolderItems")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)

	folderName := conn.SelectedFolderName()
	tracing.TagFolder(span, folderName)

	existing, err := w.deps.FolderItems.GetByUIDs(ctx, w.account.ID, folderName, uids)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	existingSet := make(map[uint32]bool, len(existing))
	for _, item := range existing {
		existingSet[item.UID] = true
	}
	missing := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if !existingSet[uid] {
			missing = append(missing, uid)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	flags, err := conn.FetchFlags(ctx, missing)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	msgids := make([]uint64, 0, len(missing))
	for _, uid := range missing {
		if meta, ok := metadata[uid]; ok && meta.MsgID != 0 {
			msgids = append(msgids, meta.MsgID)
		}
	}
	local, err := w.deps.Messages.GetByProviderMsgIDs(ctx, w.account.ID, msgids)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	messageFor := make(map[uint64]*models.Message, len(local))
	for _, msg := range local {
		if msg.ProviderMsgID != nil {
			messageFor[*msg.ProviderMsgID] = msg
		}
	}

	items := make([]*models.FolderItem, 0, len(missing))
	for _, uid := range missing {
		meta, ok := metadata[uid]
		if !ok {
			continue
		}
		msg := messageFor[meta.MsgID]
		if msg == nil {
			// raced away since the dedup check; the uid downloads in full
			// on the next pass
			continue
		}
		item := &models.FolderItem{
			AccountID:  w.account.ID,
			FolderName: folderName,
			UID:        uid,
			MessageID:  msg.ID,
		}
		if fs, ok := flags[uid]; ok {
			item.Flags = fs.Flags
			item.Labels = fs.Labels
		}
		items = append(items, item)
	}
	span.LogKV("item.count", len(items))
	return w.deps.FolderItems.CreateInBatch(ctx, items)
}

// downloadNewMessages fetches uids in full into the currently selected
// folder. Part blobs upload in parallel and must all land before anything
// commits: a blob failure aborts the chunk, and the restarted sync replays
// it. The batch then flows through the account's thread detector, commits,
// and only after the commit do the event and index side channels fire.
func (w *FolderSyncWorker) downloadNewMessages(ctx context.Context, conn interfaces.RemoteConnection, uids []uint32) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.downloadNewMessages")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	span.LogKV("uid.count", len(uids))

	raws, err := conn.FetchMessages(ctx, uids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if len(raws) == 0 {
		return nil, nil
	}

	folderName := conn.SelectedFolderName()
	batch := make([]*materialized, 0, len(raws))
	for _, raw := range raws {
		batch = append(batch, materializeMessage(w.account, folderName, raw))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range batch {
		for _, blob := range m.blobs {
			blob := blob
			g.Go(func() error {
				return w.deps.Blobs.Put(gctx, blob.key, blob.data, blob.contentType)
			})
		}
	}
	if err := g.Wait(); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "could not save message parts to blob store")
	}

	messages := make([]*models.Message, 0, len(batch))
	items := make([]*models.FolderItem, 0, len(batch))
	for _, m := range batch {
		messages = append(messages, m.message)
		items = append(items, m.item)
	}

	if err := w.detector.Process(ctx, messages); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := w.deps.Messages.CreateInBatch(ctx, messages); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := w.deps.FolderItems.CreateInBatch(ctx, items); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	ids := messageIDs(messages)
	if w.deps.Events != nil {
		event := dto.MessagesStored{AccountID: w.account.ID, FolderName: folderName, MessageIDs: ids}
		if err := w.deps.Events.PublishMessagesStored(ctx, event); err != nil {
			w.log.Warnf("failed to publish messages-stored event for %s/%s: %v", w.account.Email, folderName, err)
		}
	}
	if w.deps.Indexer != nil && w.deps.Indexer.Enabled() {
		if err := w.deps.Indexer.NotifyNewMessages(ctx, w.account.ID, ids); err != nil {
			w.log.Warnf("failed to notify search index for %s: %v", w.account.Email, err)
		}
	}
	return messages, nil
}
