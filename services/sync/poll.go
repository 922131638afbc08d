package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

// poll runs one steady-state cycle: a cheap STATUS probe, a MODSEQ delta
// only when the server moved, then a status heartbeat and the poll sleep.
// The connection lease never spans the sleep.
func (w *FolderSyncWorker) poll(ctx context.Context) (enum.SyncState, error) {
	w.log.Infof("polling %s %s", w.account.Email, w.folderName)

	if err := w.pollPass(ctx); err != nil {
		return "", err
	}

	w.publishStatus(statusPoll, utils.NowISO8601())
	if err := sleepContext(ctx, w.cfg.PollFrequency); err != nil {
		return "", err
	}
	return enum.SyncStatePoll, nil
}

// pollPass leases a connection, probes the folder, and applies the delta if
// HIGHESTMODSEQ advanced past the checkpoint. STATUS is used for the probe
// because it is much cheaper than committing to a SELECT.
func (w *FolderSyncWorker) pollPass(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.pollPass")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	checkpoint, err := w.deps.Checkpoints.Get(ctx, w.account.ID, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	var cachedModSeq uint64
	if checkpoint != nil {
		cachedModSeq = checkpoint.HighestModSeq
	}

	conn, err := w.remote.Lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer conn.Release()

	status, err := conn.FolderStatus(ctx, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if checkpoint != nil && status.HighestModSeq <= cachedModSeq {
		return nil
	}

	if _, err := conn.SelectFolder(ctx, w.folderName, w.uidValidityCallback(ctx)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := w.applyModSeqDelta(ctx, conn, cachedModSeq); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// applyModSeqDelta reconciles everything that changed since sinceModSeq on
// the selected folder: new messages download (deduplicated), updated
// messages get their flags refreshed, deleted UIDs drop their items, and
// the checkpoint advances to the just-negotiated values, even when nothing
// changed.
func (w *FolderSyncWorker) applyModSeqDelta(ctx context.Context, conn interfaces.RemoteConnection, sinceModSeq uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.applyModSeqDelta")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	newValidity := conn.SelectedUIDValidity()
	newModSeq := conn.SelectedHighestModSeq()
	w.log.Infof("starting modseq update on %s/%s (current HIGHESTMODSEQ: %d)",
		w.account.Email, w.folderName, newModSeq)

	localUIDs, err := w.deps.FolderItems.GetUIDs(ctx, w.account.ID, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	changed, err := conn.NewAndUpdatedUIDs(ctx, sinceModSeq)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	remoteUIDs, err := conn.AllUIDs(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if len(changed) == 0 {
		w.log.Infof("no new or updated messages on %s/%s", w.account.Email, w.folderName)
		if _, err := w.removeDeletedMessages(ctx, localUIDs, remoteUIDs); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return w.saveCheckpoint(ctx, newValidity, newModSeq)
	}

	newUIDs, updated := partitionUIDs(changed, localUIDs)
	w.log.Infof("%d new and %d updated UIDs for %s/%s", len(newUIDs), len(updated), w.account.Email, w.folderName)
	span.LogKV("new.count", len(newUIDs), "updated.count", len(updated))

	folderUIDs := append(append([]uint32{}, localUIDs...), newUIDs...)
	removed, err := w.removeDeletedMessages(ctx, folderUIDs, remoteUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	folderUIDs = subtractUIDs(folderUIDs, removed)

	metadata, err := w.localGMetadata(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	fetched, err := conn.FetchGMetadata(ctx, newUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	metadata.merge(fetched)

	expand, err := w.usesThreadExpansion(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if expand {
		// flags first: expansion leaves All Mail selected and the updated
		// uids belong to this folder
		for _, chunkUIDs := range utils.ChunkUint32(updated, 5*w.remote.ChunkSize()) {
			if err := w.refreshFlags(ctx, conn, chunkUIDs); err != nil {
				tracing.TraceErr(span, err)
				return err
			}
		}
		flags, err := conn.FetchFlags(ctx, folderUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if err := w.downloadExpandedThreads(ctx, conn, metadata, folderUIDs, flags); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	} else {
		fullDownload, err := w.deduplicateDownload(ctx, conn, metadata, newUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		downloaded := 0
		total := len(fullDownload)
		for _, chunkUIDs := range utils.ChunkUint32(fullDownload, w.remote.ChunkSize()) {
			committed, err := w.downloadNewMessages(ctx, conn, chunkUIDs)
			if err != nil {
				tracing.TraceErr(span, err)
				return err
			}
			downloaded += len(committed)
			percent := percentDone(downloaded, total)
			w.publishStatus(statusInitial, percent)
			w.log.Infof("syncing %s/%s -- %.2f%% (%d/%d)",
				w.account.Email, w.folderName, percent, downloaded, total)
		}
		for _, chunkUIDs := range utils.ChunkUint32(updated, 5*w.remote.ChunkSize()) {
			if err := w.refreshFlags(ctx, conn, chunkUIDs); err != nil {
				tracing.TraceErr(span, err)
				return err
			}
		}
	}

	return w.saveCheckpoint(ctx, newValidity, newModSeq)
}

// localGMetadata rebuilds this folder's uid → provider-id map out of the
// store. Only label-model accounts carry provider ids worth reconstructing;
// plain IMAP yields an empty map and every new uid downloads in full.
func (w *FolderSyncWorker) localGMetadata(ctx context.Context) (remoteMetadata, error) {
	metadata := make(remoteMetadata)
	if !w.account.Provider.HasGmailExtensions() {
		return metadata, nil
	}

	items, err := w.deps.FolderItems.GetForFolder(ctx, w.account.ID, w.folderName)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return metadata, nil
	}

	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item.MessageID] {
			seen[item.MessageID] = true
			ids = append(ids, item.MessageID)
		}
	}
	messages, err := w.deps.Messages.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*interfaces.GMetadata, len(messages))
	for _, msg := range messages {
		if msg.ProviderMsgID == nil {
			continue
		}
		meta := &interfaces.GMetadata{MsgID: *msg.ProviderMsgID}
		if msg.ProviderThrID != nil {
			meta.ThrID = *msg.ProviderThrID
		}
		byID[msg.ID] = meta
	}
	for _, item := range items {
		if meta := byID[item.MessageID]; meta != nil {
			metadata[item.UID] = *meta
		}
	}
	return metadata, nil
}
