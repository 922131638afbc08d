package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/opentracing/opentracing-go"

	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/dto"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

// Service is the process-wide sync control plane: one supervisor per
// account owned by this host, plus the status registry their workers report
// into. Ownership is arbitrated through accounts.sync_host so two hosts
// never sync the same account.
type Service struct {
	cfg  *config.SyncConfig
	fqdn string
	log  logger.Logger
	deps Dependencies

	mu       sync.RWMutex
	monitors map[string]*AccountSupervisor

	statuses *statusRegistry
}

var _ interfaces.SyncService = (*Service)(nil)

func NewSyncService(cfg *config.SyncConfig, fqdn string, deps Dependencies) *Service {
	return &Service{
		cfg:      cfg,
		fqdn:     fqdn,
		log:      deps.Log,
		deps:     deps,
		monitors: make(map[string]*AccountSupervisor),
		statuses: newStatusRegistry(),
	}
}

func (s *Service) StartSync(ctx context.Context, emailAddress string) map[string]string {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.StartSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	results := make(map[string]string)
	if emailAddress != "" {
		account, err := s.deps.Accounts.GetByEmail(ctx, emailAddress)
		if err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("failed to load account %s: %v", emailAddress, err)
			results[emailAddress] = dto.SyncResultError
			return results
		}
		if account == nil {
			results[emailAddress] = dto.SyncResultNoSuchUser
			return results
		}
		results[emailAddress] = s.startAccount(ctx, account)
		return results
	}

	accounts, err := s.deps.Accounts.GetSyncActive(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("failed to list sync-active accounts: %v", err)
		return results
	}
	for _, account := range accounts {
		results[account.Email] = s.startAccount(ctx, account)
	}
	return results
}

func (s *Service) StopSync(ctx context.Context, emailAddress string) map[string]string {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.StopSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	results := make(map[string]string)
	if emailAddress != "" {
		account, err := s.deps.Accounts.GetByEmail(ctx, emailAddress)
		if err != nil {
			tracing.TraceErr(span, err)
			s.log.Errorf("failed to load account %s: %v", emailAddress, err)
			results[emailAddress] = dto.SyncResultError
			return results
		}
		if account == nil {
			results[emailAddress] = dto.SyncResultNoSuchUser
			return results
		}
		results[emailAddress] = s.stopAccount(ctx, account)
		return results
	}

	for _, supervisor := range s.snapshotMonitors() {
		account := supervisor.account
		results[account.Email] = s.stopAccount(ctx, account)
	}
	return results
}

// SyncStatus returns one account's folder statuses, nil when this host
// knows nothing about the account.
func (s *Service) SyncStatus(ctx context.Context, accountID string) dto.AccountSyncStatus {
	return s.statuses.account(accountID)
}

// Status returns the statuses of every account running on this host.
func (s *Service) Status(ctx context.Context) map[string]dto.AccountSyncStatus {
	return s.statuses.all()
}

// Rehydrate restarts sync for every account this host owned before a
// restart. Accounts claimed by other hosts are left alone.
func (s *Service) Rehydrate(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.Rehydrate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.deps.Accounts.GetWithSyncHost(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	for _, account := range accounts {
		if account.SyncHost == nil || *account.SyncHost != s.fqdn {
			continue
		}
		result := s.startAccount(ctx, account)
		s.log.Infof("rehydrated sync for %s: %s", account.Email, result)
	}
	return nil
}

// Shutdown stops every local supervisor and blocks until they are gone.
// sync_host stays claimed so the next boot rehydrates the same accounts.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	monitors := make([]*AccountSupervisor, 0, len(s.monitors))
	for _, supervisor := range s.monitors {
		monitors = append(monitors, supervisor)
	}
	s.monitors = make(map[string]*AccountSupervisor)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, supervisor := range monitors {
		wg.Add(1)
		go func(supervisor *AccountSupervisor) {
			defer wg.Done()
			supervisor.Shutdown()
		}(supervisor)
	}
	wg.Wait()
	s.log.Infof("stopped sync for %d accounts on %s", len(monitors), s.fqdn)
}

func (s *Service) startAccount(ctx context.Context, account *models.Account) string {
	s.log.Infof("starting sync for account %s", account.Email)

	if account.SyncHost != nil && *account.SyncHost != s.fqdn {
		return fmt.Sprintf("Account %s is syncing on host %s", account.Email, *account.SyncHost)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[account.ID]; ok {
		return dto.SyncResultAlreadyStarted
	}

	claimed, err := s.deps.Accounts.ClaimSyncHost(ctx, account.ID, s.fqdn)
	if err != nil {
		s.log.Errorf("failed to claim account %s for host %s: %v", account.Email, s.fqdn, err)
		return dto.SyncResultError
	}
	if !claimed {
		// another host won the claim since we loaded the row
		fresh, err := s.deps.Accounts.GetByID(ctx, account.ID)
		if err == nil && fresh != nil && fresh.SyncHost != nil {
			return fmt.Sprintf("Account %s is syncing on host %s", account.Email, *fresh.SyncHost)
		}
		return dto.SyncResultError
	}

	remote, err := s.deps.Remotes.ForAccount(ctx, account)
	if err != nil {
		s.log.Errorf("failed to build remote mailbox for %s: %v", account.Email, err)
		if releaseErr := s.deps.Accounts.ReleaseSyncHost(ctx, account.ID, s.fqdn); releaseErr != nil {
			s.log.Errorf("failed to release sync host for %s: %v", account.Email, releaseErr)
		}
		return dto.SyncResultError
	}

	supervisor := newAccountSupervisor(account, remote, s.deps, s.cfg, s.statuses.set)
	supervisor.Start()
	s.monitors[account.ID] = supervisor

	if s.deps.Events != nil {
		if err := s.deps.Events.PublishSyncStarted(ctx, account.ID, s.fqdn); err != nil {
			s.log.Warnf("failed to publish sync-started event for %s: %v", account.Email, err)
		}
	}
	return dto.SyncResultStarted
}

func (s *Service) stopAccount(ctx context.Context, account *models.Account) string {
	s.mu.Lock()
	supervisor, ok := s.monitors[account.ID]
	if ok {
		delete(s.monitors, account.ID)
	}
	s.mu.Unlock()
	if !ok {
		return dto.SyncResultStoppedAlready
	}

	supervisor.Shutdown()
	s.statuses.remove(account.ID)
	if s.deps.Tokens != nil {
		s.deps.Tokens.ClearAccount(account.ID)
	}

	if err := s.deps.Accounts.ReleaseSyncHost(ctx, account.ID, s.fqdn); err != nil {
		s.log.Errorf("failed to release sync host for %s: %v", account.Email, err)
		return dto.SyncResultError
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.PublishSyncStopped(ctx, account.ID, s.fqdn); err != nil {
			s.log.Warnf("failed to publish sync-stopped event for %s: %v", account.Email, err)
		}
	}
	return dto.SyncResultStopped
}

func (s *Service) snapshotMonitors() []*AccountSupervisor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	monitors := make([]*AccountSupervisor, 0, len(s.monitors))
	for _, supervisor := range s.monitors {
		monitors = append(monitors, supervisor)
	}
	return monitors
}
