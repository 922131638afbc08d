package sync

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/interfaces"
	er "github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// AccountSupervisor owns everything that runs for one account: the thread
// detector, one worker per folder, and the shutdown choreography. Workers
// stop first, then the detector, then the connection pool, so nothing
// writes through a collaborator that is already gone.
type AccountSupervisor struct {
	account  *models.Account
	remote   interfaces.RemoteMailbox
	deps     Dependencies
	cfg      *config.SyncConfig
	status   StatusCallback
	log      logger.Logger
	detector *ThreadDetector

	cancel       context.CancelFunc
	stopDetector context.CancelFunc
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu      sync.Mutex
	workers map[string]*FolderSyncWorker

	// written once before done closes
	runErr error
}

func newAccountSupervisor(account *models.Account, remote interfaces.RemoteMailbox, deps Dependencies, cfg *config.SyncConfig, status StatusCallback) *AccountSupervisor {
	return &AccountSupervisor{
		account:  account,
		remote:   remote,
		deps:     deps,
		cfg:      cfg,
		status:   status,
		log:      deps.Log,
		detector: newThreadDetector(account.ID, deps.Threads, deps.Log, cfg.DetectorQueueSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		workers:  make(map[string]*FolderSyncWorker),
	}
}

// Start launches the detector and the supervising loop. Call once.
func (s *AccountSupervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// the detector outlives the workers during shutdown so no batch is
	// left waiting on a consumer that already exited
	detectorCtx, stopDetector := context.WithCancel(context.Background())
	s.stopDetector = stopDetector
	go s.detector.run(detectorCtx)

	go s.run(ctx)
}

// Shutdown stops the account's sync and blocks until every worker, the
// sync task, and the detector have exited. Safe to call more than once.
func (s *AccountSupervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
	<-s.done
}

// Err reports why the supervisor died, nil while it is still running or
// after a clean shutdown.
func (s *AccountSupervisor) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

func (s *AccountSupervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.stopDetector()
	defer func() {
		if err := s.remote.Close(); err != nil {
			s.log.Warnf("failed to close remote mailbox for %s: %v", s.account.Email, err)
		}
	}()

	syncDone := make(chan error, 1)
	go func() { syncDone <- s.sync(ctx) }()

	select {
	case <-s.shutdown:
		s.log.Infof("stopping sync for account %s", s.account.Email)
		s.cancel()
		<-syncDone
		s.waitForWorkers()
	case err := <-syncDone:
		if ctx.Err() != nil {
			s.waitForWorkers()
			return
		}
		// the sync task parks forever once workers are up; any return
		// while the context is alive is a defect
		if err == nil {
			err = er.ErrSyncTaskReturned
		}
		s.runErr = err
		s.log.Errorf("sync for account %s died: %v", s.account.Email, err)
		s.cancel()
		s.waitForWorkers()
	}
}

// sync brings up the folder workers and then parks until cancelled.
func (s *AccountSupervisor) sync(ctx context.Context) error {
	if err := s.spawnWorkers(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// spawnWorkers starts one worker per sync folder, in the order the remote
// lists them. Initial syncs serialize: the next worker starts only once the
// current one is polling or finished, so one account saturates at most one
// backlog download at a time.
func (s *AccountSupervisor) spawnWorkers(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountSupervisor.spawnWorkers")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	progress, err := s.deps.FolderSync.GetForAccount(ctx, s.account.ID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	states := make(map[string]bool, len(progress))
	for _, p := range progress {
		states[p.FolderName] = p.State.Terminal()
	}

	folders, err := s.remote.SyncFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("folder.count", len(folders))

	for _, folderName := range folders {
		if ctx.Err() != nil {
			return nil
		}
		if states[folderName] {
			s.log.Infof("folder sync for %s/%s already finished", s.account.Email, folderName)
			continue
		}
		s.log.Infof("initializing folder sync for %s/%s", s.account.Email, folderName)

		worker := newFolderSyncWorker(s.account, folderName, s.remote, s.detector, s.deps, s.cfg, s.status)
		s.addWorker(folderName, worker)
		worker.start(ctx)

		for !worker.polling() && !worker.stopped() {
			if err := sleepContext(ctx, s.cfg.Heartbeat); err != nil {
				return nil
			}
		}
		if worker.State().Terminal() {
			s.log.Infof("folder sync for %s/%s done", s.account.Email, folderName)
			s.removeWorker(folderName)
		}
	}
	return nil
}

func (s *AccountSupervisor) addWorker(folderName string, w *FolderSyncWorker) {
	s.mu.Lock()
	s.workers[folderName] = w
	s.mu.Unlock()
}

func (s *AccountSupervisor) removeWorker(folderName string) {
	s.mu.Lock()
	delete(s.workers, folderName)
	s.mu.Unlock()
}

func (s *AccountSupervisor) waitForWorkers() {
	s.mu.Lock()
	workers := make([]*FolderSyncWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()
	for _, w := range workers {
		<-w.done
	}
}
