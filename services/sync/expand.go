package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/internal/utils"
)

// downloadExpandedThreads downloads messages for this folder by whole
// conversations: every thrid seen in the folder is expanded against All
// Mail, so sibling messages living only there come down too. uids, meta,
// and flags describe the folder being expanded, not All Mail.
//
// Threads come down most-recent-thread-first, newest-to-oldest inside a
// thread. All Mail stays selected on return; selection is expensive and the
// caller decides what it needs next.
func (w *FolderSyncWorker) downloadExpandedThreads(ctx context.Context, conn interfaces.RemoteConnection, folderMeta remoteMetadata, uids []uint32, flags map[uint32]interfaces.FlagSet) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.downloadExpandedThreads")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)

	if !w.account.Provider.HasGmailExtensions() {
		return errors.New("thread expansion requires gmail extensions")
	}
	for _, uid := range uids {
		if _, ok := flags[uid]; !ok {
			return errors.Errorf("no flags fetched for uid %d in %s", uid, w.folderName)
		}
	}

	// messages already stored under another folder only need an item here;
	// bind them while this folder is still selected
	localUIDs, err := w.deps.FolderItems.GetUIDs(ctx, w.account.ID, w.folderName)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if candidates := subtractUIDs(uids, localUIDs); len(candidates) > 0 {
		if _, err := w.deduplicateDownload(ctx, conn, folderMeta, candidates); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}

	names, err := w.remote.FolderNames(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	allMail, ok := names[interfaces.FolderRoleAll]
	if !ok {
		return errors.Errorf("account %s has no all-mail folder to expand threads against", w.account.Email)
	}
	if _, err := conn.SelectFolder(ctx, allMail, w.uidValidityCallback(ctx)); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	w.log.Infof("expanding threads and downloading messages for %s/%s", w.account.Email, w.folderName)

	// X-GM-THRID is roughly ascending over time, so sort most-recent first
	thridSet := make(map[uint64]bool)
	originalUIDFor := make(map[uint64]uint32)
	folderMsgids := make(map[uint64]bool)
	for _, uid := range uids {
		meta, ok := folderMeta[uid]
		if !ok {
			continue
		}
		thridSet[meta.ThrID] = true
		originalUIDFor[meta.MsgID] = uid
		folderMsgids[meta.MsgID] = true
	}
	allThrids := make([]uint64, 0, len(thridSet))
	for thrid := range thridSet {
		allThrids = append(allThrids, thrid)
	}
	utils.SortUint64Desc(allThrids)

	w.log.Infof("%d threads to download for %s/%s", len(allThrids), w.account.Email, w.folderName)
	span.LogKV("thread.count", len(allThrids))

	// thread completeness is unknowable before expansion, so the count
	// starts at zero every run and already-stored messages skip along
	// the way
	downloadedThreads := 0
	totalThreads := len(allThrids)
	for _, thridChunk := range utils.ChunkUint64(allThrids, w.cfg.ThreadExpansionChunk) {
		threadUIDs, err := conn.ExpandThreads(ctx, thridChunk)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		// msgid dedupes the download, thrid groups it
		fetched, err := conn.FetchGMetadata(ctx, threadUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		threadMeta := remoteMetadata(fetched)
		toDownload, err := w.deduplicateDownload(ctx, conn, threadMeta, threadUIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		w.log.Infof("need to get %d deduplicated messages", len(toDownload))

		uidsFor := make(map[uint64][]uint32)
		for _, uid := range toDownload {
			thrid := threadMeta[uid].ThrID
			uidsFor[thrid] = append(uidsFor[thrid], uid)
		}
		w.log.Infof("%d threads after deduplication", len(uidsFor))

		downloadThrids := make([]uint64, 0, len(uidsFor))
		for thrid := range uidsFor {
			downloadThrids = append(downloadThrids, thrid)
		}
		utils.SortUint64Desc(downloadThrids)

		for _, thrid := range downloadThrids {
			threadDownload := uidsFor[thrid]
			utils.SortUint32Desc(threadDownload)
			w.log.Infof("downloading thread %d with %d messages", thrid, len(threadDownload))

			committed, err := w.downloadNewMessages(ctx, conn, threadDownload)
			if err != nil {
				tracing.TraceErr(span, err)
				return err
			}

			// rebind messages that live in the expanded folder under their
			// original uid and flags
			items := make([]*models.FolderItem, 0, len(committed))
			for _, msg := range committed {
				if msg.ProviderMsgID == nil || !folderMsgids[*msg.ProviderMsgID] {
					continue
				}
				originalUID := originalUIDFor[*msg.ProviderMsgID]
				item := &models.FolderItem{
					AccountID:  w.account.ID,
					FolderName: w.folderName,
					UID:        originalUID,
					MessageID:  msg.ID,
				}
				if fs, ok := flags[originalUID]; ok {
					item.Flags = fs.Flags
					item.Labels = fs.Labels
				}
				items = append(items, item)
			}
			if err := w.deps.FolderItems.CreateInBatch(ctx, items); err != nil {
				tracing.TraceErr(span, err)
				return err
			}

			downloadedThreads++
			percent := percentDone(downloadedThreads, totalThreads)
			w.publishStatus(statusInitial, percent)
			w.log.Infof("syncing %s/%s -- %.2f%% (%d/%d threads)",
				w.account.Email, w.folderName, percent, downloadedThreads, totalThreads)
		}
	}
	return nil
}
