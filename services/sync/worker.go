package sync

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/enum"
	er "github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
	"github.com/inboxline/mailsync/services/imap"
)

// FolderSyncWorker drives the persisted state machine for one
// (account, folder). Handlers are written to be idempotent: the worker may
// die between a handler finishing and the state committing, and replaying
// the handler converges on the same store contents.
type FolderSyncWorker struct {
	account    *models.Account
	folderName string
	remote     interfaces.RemoteMailbox
	detector   *ThreadDetector
	deps       Dependencies
	cfg        *config.SyncConfig
	status     StatusCallback
	log        logger.Logger

	mu    sync.RWMutex
	state enum.SyncState

	done chan struct{}
}

func newFolderSyncWorker(
	account *models.Account,
	folderName string,
	remote interfaces.RemoteMailbox,
	detector *ThreadDetector,
	deps Dependencies,
	cfg *config.SyncConfig,
	status StatusCallback,
) *FolderSyncWorker {
	return &FolderSyncWorker{
		account:    account,
		folderName: folderName,
		remote:     remote,
		detector:   detector,
		deps:       deps,
		cfg:        cfg,
		status:     status,
		log:        deps.Log,
		done:       make(chan struct{}),
	}
}

func (w *FolderSyncWorker) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *FolderSyncWorker) run(ctx context.Context) {
	defer close(w.done)
	if err := w.loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Errorf("folder sync stopped for %s/%s: %v", w.account.Email, w.folderName, err)
	}
}

// loop resumes from the persisted state and keeps dispatching until the
// folder finishes, the context ends, or a handler fails fatally. Every
// transition is committed before the next handler runs.
func (w *FolderSyncWorker) loop(ctx context.Context) error {
	progress, err := w.deps.FolderSync.Get(ctx, w.account.ID, w.folderName)
	if err != nil {
		return err
	}
	if progress == nil {
		progress = &models.FolderSyncProgress{
			AccountID:  w.account.ID,
			FolderName: w.folderName,
			State:      enum.SyncStateInitial,
		}
		if err := w.deps.FolderSync.Save(ctx, progress); err != nil {
			return err
		}
	}
	if !progress.State.IsValid() {
		// A state written by a different build would wedge the folder;
		// restart it from scratch instead.
		w.log.Warnf("unknown persisted sync state %q for %s/%s, restarting from initial", progress.State, w.account.Email, w.folderName)
		if err := w.deps.FolderSync.SaveState(ctx, w.account.ID, w.folderName, enum.SyncStateInitial); err != nil {
			return err
		}
		progress.State = enum.SyncStateInitial
	}
	w.setState(progress.State)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		state := w.State()
		if state.Terminal() {
			return nil
		}

		next, err := w.dispatch(ctx, state)
		if err != nil {
			if !errors.Is(err, er.ErrUIDValidityChanged) {
				return err
			}
			next = uidInvalidStateFor(state)
		}
		if err := w.deps.FolderSync.SaveState(ctx, w.account.ID, w.folderName, next); err != nil {
			return err
		}
		w.setState(next)
	}
}

func (w *FolderSyncWorker) dispatch(ctx context.Context, state enum.SyncState) (enum.SyncState, error) {
	switch state {
	case enum.SyncStateInitial:
		return w.withRetry(ctx, "initial sync", w.initialSync)
	case enum.SyncStateInitialUIDInvalid:
		return w.withRetry(ctx, "uid resync", func(ctx context.Context) (enum.SyncState, error) {
			return w.resyncUIDs(ctx, enum.SyncStateInitial)
		})
	case enum.SyncStatePoll:
		return w.withRetry(ctx, "poll", w.poll)
	case enum.SyncStatePollUIDInvalid:
		return w.withRetry(ctx, "uid resync", func(ctx context.Context) (enum.SyncState, error) {
			return w.resyncUIDs(ctx, enum.SyncStatePoll)
		})
	default:
		return "", errors.Errorf("unknown sync state %q for %s/%s", state, w.account.ID, w.folderName)
	}
}

// uidInvalidStateFor maps a running state onto its recovery state.
func uidInvalidStateFor(state enum.SyncState) enum.SyncState {
	switch state {
	case enum.SyncStateInitial:
		return enum.SyncStateInitialUIDInvalid
	case enum.SyncStatePoll:
		return enum.SyncStatePollUIDInvalid
	default:
		return state
	}
}

const (
	retryBackoffInitial = time.Second
	retryBackoffMax     = 2 * time.Minute
)

// withRetry replays a handler on transient connection failures, backing off
// multiplicatively. UIDVALIDITY changes and context ends are never retried;
// they carry control flow, not flakiness.
func (w *FolderSyncWorker) withRetry(ctx context.Context, what string, handler func(context.Context) (enum.SyncState, error)) (enum.SyncState, error) {
	backoff := retryBackoffInitial
	for attempt := 1; ; attempt++ {
		next, err := handler(ctx)
		if err == nil || errors.Is(err, er.ErrUIDValidityChanged) {
			return next, err
		}
		if !imap.IsTransient(err) || attempt >= w.cfg.MaxAttempts {
			return next, err
		}
		w.log.Warnf("%s failed for %s/%s (attempt %d/%d), retrying in %s: %v",
			what, w.account.Email, w.folderName, attempt, w.cfg.MaxAttempts, backoff, err)
		if err := sleepContext(ctx, backoff); err != nil {
			return next, err
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > retryBackoffMax {
			backoff = retryBackoffMax
		}
	}
}

func (w *FolderSyncWorker) setState(state enum.SyncState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// State is the in-memory state machine position, safe for supervisor reads.
func (w *FolderSyncWorker) State() enum.SyncState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// polling reports whether the folder has left initial sync.
func (w *FolderSyncWorker) polling() bool {
	state := w.State()
	return state == enum.SyncStatePoll || state == enum.SyncStatePollUIDInvalid
}

// stopped reports whether the run loop has exited, cleanly or not.
func (w *FolderSyncWorker) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *FolderSyncWorker) publishStatus(state string, progress interface{}) {
	if w.status == nil {
		return
	}
	w.status(w.account.ID, state, w.folderName, progress)
}

// uidValidityCallback builds the selection guard: a fresh SELECT whose
// UIDVALIDITY disagrees with the folder's stored checkpoint aborts with
// ErrUIDValidityChanged. Folders without a checkpoint accept anything.
func (w *FolderSyncWorker) uidValidityCallback(ctx context.Context) interfaces.UIDValidityCallback {
	return func(folderName string, info *interfaces.SelectInfo) error {
		checkpoint, err := w.deps.Checkpoints.Get(ctx, w.account.ID, folderName)
		if err != nil {
			return err
		}
		if checkpoint != nil && checkpoint.UIDValidity != info.UIDValidity {
			w.log.Warnf("uidvalidity changed on %s/%s: remote %d, cached %d",
				w.account.Email, folderName, info.UIDValidity, checkpoint.UIDValidity)
			return er.ErrUIDValidityChanged
		}
		return nil
	}
}

// saveCheckpoint upserts this folder's (UIDVALIDITY, HIGHESTMODSEQ) pair.
func (w *FolderSyncWorker) saveCheckpoint(ctx context.Context, uidValidity uint32, highestModSeq uint64) error {
	return w.deps.Checkpoints.Save(ctx, &models.UIDValidityCheckpoint{
		AccountID:     w.account.ID,
		FolderName:    w.folderName,
		UIDValidity:   uidValidity,
		HighestModSeq: highestModSeq,
	})
}

// metadataCacheKey is where the remote uid → provider-id map parks between
// interrupted initial sync runs.
func (w *FolderSyncWorker) metadataCacheKey() string {
	return w.account.ID + "/" + w.folderName + "/remote_g_metadata"
}

// usesThreadExpansion reports whether this folder syncs through expanded
// threads: label-model folders do, except All Mail, which is the superset
// the expansion reads from.
func (w *FolderSyncWorker) usesThreadExpansion(ctx context.Context) (bool, error) {
	if !w.account.Provider.HasGmailExtensions() {
		return false, nil
	}
	names, err := w.remote.FolderNames(ctx)
	if err != nil {
		return false, err
	}
	return names[interfaces.FolderRoleAll] != w.folderName, nil
}

// removeDeletedMessages drops folder items whose UID no longer exists
// remotely. Messages stay put: items in other folders may still point at
// them. Returns the removed UIDs.
func (w *FolderSyncWorker) removeDeletedMessages(ctx context.Context, localUIDs, remoteUIDs []uint32) ([]uint32, error) {
	toDelete := subtractUIDs(localUIDs, remoteUIDs)
	if len(toDelete) == 0 {
		return nil, nil
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderSyncWorker.removeDeletedMessages")
	defer span.Finish()
	tracing.SetDefaultSyncWorkerSpanTags(ctx, span)
	tracing.TagAccount(span, w.account.ID)
	tracing.TagFolder(span, w.folderName)
	span.LogKV("delete.count", len(toDelete))

	if err := w.deps.FolderItems.DeleteByUIDs(ctx, w.account.ID, w.folderName, toDelete); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	w.log.Infof("deleted %d removed messages from %s/%s", len(toDelete), w.account.Email, w.folderName)
	return toDelete, nil
}

// refreshFlags re-fetches flag state for uids and applies it to this
// folder's items. The caller must have the worker's folder selected.
func (w *FolderSyncWorker) refreshFlags(ctx context.Context, conn interfaces.RemoteConnection, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	flags, err := conn.FetchFlags(ctx, uids)
	if err != nil {
		return err
	}
	for uid, fs := range flags {
		if err := w.deps.FolderItems.UpdateFlags(ctx, w.account.ID, w.folderName, uid, fs.Flags, fs.Labels); err != nil {
			return err
		}
	}
	return nil
}
