package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

// initialSync downloads the folder's entire backlog. It is resumable at two
// granularities: the remote metadata map is cached across runs, and every
// download chunk commits independently, so a restart skips everything
// already stored and continues from the first missing message.
func (w *FolderSyncWorker) initialSync(ctx context.Context) (enum.SyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.initialSync")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	w.log.Infof("starting initial sync for %s/%s", w.account.Email, w.folderName)

	localUIDs, err := w.deps.FolderItems.GetUIDs(ctx, w.account.ID, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	conn, err := w.remote.Lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	defer conn.Release()

	if _, err := conn.SelectFolder(ctx, w.folderName, w.uidValidityCallback(ctx)); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	metadata, err := w.loadRemoteMetadata(ctx, conn, localUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	remoteUIDs := metadata.uids()
	w.log.Infof("found %d UIDs for %s/%s, already have %d",
		len(remoteUIDs), w.account.Email, w.folderName, len(localUIDs))
	span.LogKV("remote.count", len(remoteUIDs), "local.count", len(localUIDs))

	removed, err := w.removeDeletedMessages(ctx, localUIDs, remoteUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	localUIDs = subtractUIDs(localUIDs, removed)

	unknownUIDs := subtractUIDs(remoteUIDs, localUIDs)

	expand, err := w.usesThreadExpansion(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if expand {
		flags, err := conn.FetchFlags(ctx, remoteUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if err := w.downloadExpandedThreads(ctx, conn, metadata, remoteUIDs, flags); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
	} else {
		// plain IMAP and the All Mail superset download directly
		fullDownload, err := w.deduplicateDownload(ctx, conn, metadata, unknownUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		w.log.Infof("%d uids left to fetch for %s/%s", len(fullDownload), w.account.Email, w.folderName)

		if len(fullDownload) > 0 {
			chunkSize := w.remote.ChunkSize()
			w.log.Infof("starting download for %s/%s with chunks of size %d",
				w.account.Email, w.folderName, chunkSize)

			// reverse-UID order puts recent messages first
			utils.SortUint32Desc(fullDownload)
			downloaded := len(localUIDs)
			total := len(remoteUIDs)
			for _, chunkUIDs := range utils.ChunkUint32(fullDownload, chunkSize) {
				committed, err := w.downloadNewMessages(ctx, conn, chunkUIDs)
				if err != nil {
					tracing.TraceErr(span, err)
					return "", err
				}
				downloaded += len(committed)
				percent := percentDone(downloaded, total)
				w.publishStatus(statusInitial, percent)
				w.log.Infof("syncing %s/%s -- %.2f%% (%d/%d)",
					w.account.Email, w.folderName, percent, downloaded, total)
			}
			w.log.Infof("saved all messages and metadata on %s/%s to UIDVALIDITY %d / HIGHESTMODSEQ %d",
				w.account.Email, w.folderName, conn.SelectedUIDValidity(), conn.SelectedHighestModSeq())
		}
	}

	// the complete msgid map is only needed while the backlog downloads
	if err := w.deps.Cache.Remove(ctx, w.metadataCacheKey()); err != nil {
		w.log.Warnf("failed to drop metadata cache for %s/%s: %v", w.account.Email, w.folderName, err)
	}

	w.log.Infof("finished initial sync of %s/%s", w.account.Email, w.folderName)

	pollable, err := w.remote.PollFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	for _, name := range pollable {
		if name == w.folderName {
			return enum.SyncStatePoll, nil
		}
	}
	return enum.SyncStateFinish, nil
}

// loadRemoteMetadata returns the folder's full UID → provider-id map. A map
// cached by an earlier interrupted run is reused after folding in changes
// since its checkpoint; otherwise everything is fetched fresh, cached, and
// checkpointed.
func (w *FolderSyncWorker) loadRemoteMetadata(ctx context.Context, conn interfaces.RemoteConnection, localUIDs []uint32) (remoteMetadata, error) {
	checkpoint, err := w.deps.Checkpoints.Get(ctx, w.account.ID, w.folderName)
	if err != nil {
		return nil, err
	}
	if checkpoint != nil {
		// a checkpoint means an earlier run got as far as selecting
		cached, err := w.cachedRemoteMetadata(ctx, conn, localUIDs, checkpoint)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	uids, err := conn.AllUIDs(ctx)
	if err != nil {
		return nil, err
	}
	fetched, err := conn.FetchGMetadata(ctx, uids)
	if err != nil {
		return nil, err
	}
	metadata := remoteMetadata(fetched)
	if err := w.deps.Cache.Set(ctx, w.metadataCacheKey(), metadata); err != nil {
		return nil, err
	}
	if err := w.saveCheckpoint(ctx, conn.SelectedUIDValidity(), conn.SelectedHighestModSeq()); err != nil {
		return nil, err
	}
	return metadata, nil
}

// cachedRemoteMetadata loads the cached map and brings it up to date when
// the server moved past the checkpointed HIGHESTMODSEQ. Returns nil when no
// usable cache exists.
func (w *FolderSyncWorker) cachedRemoteMetadata(ctx context.Context, conn interfaces.RemoteConnection, localUIDs []uint32, checkpoint *models.UIDValidityCheckpoint) (remoteMetadata, error) {
	w.log.Infof("attempting to retrieve remote metadata from cache for %s/%s", w.account.Email, w.folderName)

	metadata := make(remoteMetadata)
	found, err := w.deps.Cache.Get(ctx, w.metadataCacheKey(), &metadata)
	if err != nil {
		w.log.Warnf("failed to read metadata cache for %s/%s: %v", w.account.Email, w.folderName, err)
		return nil, nil
	}
	if !found {
		w.log.Infof("no cached metadata found for %s/%s", w.account.Email, w.folderName)
		return nil, nil
	}

	w.log.Infof("successfully retrieved remote metadata cache for %s/%s", w.account.Email, w.folderName)
	if conn.SelectedHighestModSeq() > checkpoint.HighestModSeq {
		if err := w.refreshRemoteMetadata(ctx, conn, metadata, localUIDs, checkpoint.HighestModSeq); err != nil {
			return nil, err
		}
	}
	return metadata, nil
}

// refreshRemoteMetadata folds everything that changed since sinceModSeq into
// the cached map: metadata for new UIDs, eviction of UIDs gone remotely, and
// a flag refresh for the updated partition. New UIDs download as usual later.
func (w *FolderSyncWorker) refreshRemoteMetadata(ctx context.Context, conn interfaces.RemoteConnection, metadata remoteMetadata, localUIDs []uint32, sinceModSeq uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.refreshRemoteMetadata")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	w.log.Infof("updating metadata cache for %s/%s with changes since modseq %d",
		w.account.Email, w.folderName, sinceModSeq)

	changed, err := conn.NewAndUpdatedUIDs(ctx, sinceModSeq)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	newUIDs, updated := partitionUIDs(changed, localUIDs)
	w.log.Infof("%d new and %d updated UIDs for %s/%s", len(newUIDs), len(updated), w.account.Email, w.folderName)

	fetched, err := conn.FetchGMetadata(ctx, newUIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	metadata.merge(fetched)

	// evict entries for messages that disappeared while we were away
	remoteUIDs, err := conn.AllUIDs(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	remoteSet := make(map[uint32]bool, len(remoteUIDs))
	for _, uid := range remoteUIDs {
		remoteSet[uid] = true
	}
	for uid := range metadata {
		if !remoteSet[uid] {
			delete(metadata, uid)
		}
	}

	if err := w.deps.Cache.Set(ctx, w.metadataCacheKey(), metadata); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	// updated messages just need their flags brought over; bigger chunks
	// since the payloads are tiny
	for _, chunkUIDs := range utils.ChunkUint32(updated, 5*w.remote.ChunkSize()) {
		if err := w.refreshFlags(ctx, conn, chunkUIDs); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}
