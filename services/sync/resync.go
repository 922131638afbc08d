package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/tracing"
)

// resyncUIDs repairs the folder after a UIDVALIDITY change. Every remote
// UID is re-matched to a stored message by provider msgid and the folder
// items are re-keyed in place; no message bodies are downloaded again.
// Items with no counterpart under the new validity are dropped. Plain IMAP
// has no msgid to match on, so everything drops and the returned state
// re-downloads into existing messages' folder items from scratch.
func (w *FolderSyncWorker) resyncUIDs(ctx context.Context, returnTo enum.SyncState) (enum.SyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.resyncUIDs")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	w.log.Infof("uidvalidity changed on %s/%s, resyncing uids", w.account.Email, w.folderName)

	conn, err := w.remote.Lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	defer conn.Release()

	// no validity callback: accepting the new validity is the point
	if _, err := conn.SelectFolder(ctx, w.folderName, nil); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	remoteUIDs, err := conn.AllUIDs(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	fetched, err := conn.FetchGMetadata(ctx, remoteUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	uidForMsgid := make(map[uint64]uint32, len(fetched))
	for uid, meta := range fetched {
		if meta.MsgID != 0 {
			uidForMsgid[meta.MsgID] = uid
		}
	}

	items, err := w.deps.FolderItems.GetForFolder(ctx, w.account.ID, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
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
		tracing.TraceErr(span, err)
		return "", err
	}
	msgidFor := make(map[string]uint64, len(messages))
	for _, msg := range messages {
		if msg.ProviderMsgID != nil {
			msgidFor[msg.ID] = *msg.ProviderMsgID
		}
	}

	rewritten, dropped := 0, 0
	consumed := make(map[uint32]bool, len(items))
	for _, item := range items {
		msgid, hasMsgid := msgidFor[item.MessageID]
		newUID, found := uidForMsgid[msgid]
		if !hasMsgid || !found || consumed[newUID] {
			if err := w.deps.FolderItems.Delete(ctx, item.ID); err != nil {
				tracing.TraceErr(span, err)
				return "", err
			}
			dropped++
			continue
		}
		consumed[newUID] = true
		if newUID == item.UID {
			continue
		}
		if err := w.deps.FolderItems.UpdateUID(ctx, item.ID, newUID); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		rewritten++
	}
	w.log.Infof("uid resync on %s/%s rewrote %d items and dropped %d",
		w.account.Email, w.folderName, rewritten, dropped)
	span.LogKV("rewritten.count", rewritten, "dropped.count", dropped)

	// a cached metadata map from an interrupted initial sync is keyed by
	// dead uids now
	if err := w.deps.Cache.Remove(ctx, w.metadataCacheKey()); err != nil {
		w.log.Warnf("failed to drop metadata cache for %s/%s: %v", w.account.Email, w.folderName, err)
	}

	// the checkpoint takes the new validity but a zero modseq: the next
	// pass then replays the folder's full delta and downloads messages
	// that only ever existed under the new validity
	if err := w.saveCheckpoint(ctx, conn.SelectedUIDValidity(), 0); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return returnTo, nil
}
