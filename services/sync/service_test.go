package sync

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxline/mailsync/dto"
	"github.com/inboxline/mailsync/internal/enum"
	"github.com/inboxline/mailsync/internal/models"
)

func newTestService(env *testEnv, fqdn string) *Service {
	return NewSyncService(testSyncConfig(), fqdn, env.deps())
}

// registerAccount creates a sync-active account backed by a fresh generic
// remote per start, so stop-then-start cycles get a live pool again.
func registerAccount(env *testEnv, email string, msgs int) *models.Account {
	account := &models.Account{
		Email:      email,
		Provider:   enum.ProviderGeneric,
		SyncActive: true,
	}
	env.accounts.add(account)
	env.remotes.register(account.ID, func() *fakeRemote { return genericRemote(msgs) })
	return account
}

func TestSyncService_StartStopLifecycle(t *testing.T) {
	// Arrange
	env := newTestEnv()
	account := registerAccount(env, "user@example.test", 2)
	svc := newTestService(env, "host-a")
	ctx := context.Background()
	t.Cleanup(func() { svc.Shutdown(ctx) })

	// Act
	res := svc.StartSync(ctx, account.Email)

	// Assert
	assert.Equal(t, map[string]string{account.Email: dto.SyncResultStarted}, res)
	host := env.accounts.syncHost(account.ID)
	require.NotNil(t, host)
	assert.Equal(t, "host-a", *host)
	assert.Contains(t, env.events.startedAccounts(), account.ID)

	res = svc.StartSync(ctx, account.Email)
	assert.Equal(t, dto.SyncResultAlreadyStarted, res[account.Email])

	require.Eventually(t, func() bool {
		folder, ok := svc.SyncStatus(ctx, account.ID)["INBOX"]
		return ok && folder.State == statusPoll
	}, time.Second, time.Millisecond)
	assert.Contains(t, svc.Status(ctx), account.ID)
	assert.Equal(t, 2, env.messages.count())

	res = svc.StopSync(ctx, account.Email)
	assert.Equal(t, dto.SyncResultStopped, res[account.Email])
	assert.Nil(t, env.accounts.syncHost(account.ID))
	assert.Contains(t, env.events.stoppedAccounts(), account.ID)
	assert.Contains(t, env.tokens.clearedAccounts(), account.ID)
	assert.Nil(t, svc.SyncStatus(ctx, account.ID))
	assert.True(t, env.remotes.lastBuilt(account.ID).isClosed())

	res = svc.StopSync(ctx, account.Email)
	assert.Equal(t, dto.SyncResultStoppedAlready, res[account.Email])
}

func TestSyncService_UnknownEmail(t *testing.T) {
	env := newTestEnv()
	svc := newTestService(env, "host-a")
	ctx := context.Background()

	assert.Equal(t, dto.SyncResultNoSuchUser, svc.StartSync(ctx, "ghost@nowhere.test")["ghost@nowhere.test"])
	assert.Equal(t, dto.SyncResultNoSuchUser, svc.StopSync(ctx, "ghost@nowhere.test")["ghost@nowhere.test"])
}

func TestSyncService_StartRefusedWhenAnotherHostOwnsAccount(t *testing.T) {
	// Arrange
	env := newTestEnv()
	account := registerAccount(env, "claimed@example.test", 1)
	other := "host-b"
	account.SyncHost = &other
	svc := newTestService(env, "host-a")

	// Act
	res := svc.StartSync(context.Background(), account.Email)

	// Assert
	assert.Equal(t, "Account claimed@example.test is syncing on host host-b", res[account.Email])
}

func TestSyncService_StartFailsWhenClaimIsDenied(t *testing.T) {
	env := newTestEnv()
	env.accounts.denyClaim = true
	account := registerAccount(env, "denied@example.test", 1)
	svc := newTestService(env, "host-a")

	res := svc.StartSync(context.Background(), account.Email)

	assert.Equal(t, dto.SyncResultError, res[account.Email])
	assert.Nil(t, env.accounts.syncHost(account.ID))
}

func TestSyncService_StartReleasesClaimWhenRemoteFails(t *testing.T) {
	// Arrange
	env := newTestEnv()
	account := registerAccount(env, "unreachable@example.test", 1)
	env.remotes.failFor[account.ID] = errors.New("imap dial failed")
	svc := newTestService(env, "host-a")

	// Act
	res := svc.StartSync(context.Background(), account.Email)

	// Assert: the claim does not leak when no supervisor came up
	assert.Equal(t, dto.SyncResultError, res[account.Email])
	assert.Nil(t, env.accounts.syncHost(account.ID))
}

func TestSyncService_StartAllCoversSyncActiveAccounts(t *testing.T) {
	// Arrange
	env := newTestEnv()
	registerAccount(env, "a@example.test", 1)
	registerAccount(env, "b@example.test", 1)
	inactive := &models.Account{Email: "c@example.test", Provider: enum.ProviderGeneric}
	env.accounts.add(inactive)
	svc := newTestService(env, "host-a")
	ctx := context.Background()
	t.Cleanup(func() { svc.Shutdown(ctx) })

	// Act
	res := svc.StartSync(ctx, "")

	// Assert
	assert.Equal(t, map[string]string{
		"a@example.test": dto.SyncResultStarted,
		"b@example.test": dto.SyncResultStarted,
	}, res)
}

func TestSyncService_StopAllStopsEveryLocalAccount(t *testing.T) {
	// Arrange
	env := newTestEnv()
	a := registerAccount(env, "a@example.test", 1)
	b := registerAccount(env, "b@example.test", 1)
	svc := newTestService(env, "host-a")
	ctx := context.Background()
	svc.StartSync(ctx, "")

	// Act
	res := svc.StopSync(ctx, "")

	// Assert
	assert.Equal(t, map[string]string{
		a.Email: dto.SyncResultStopped,
		b.Email: dto.SyncResultStopped,
	}, res)
	assert.Nil(t, env.accounts.syncHost(a.ID))
	assert.Nil(t, env.accounts.syncHost(b.ID))
}

func TestSyncService_RehydrateRestartsOnlyOwnAccounts(t *testing.T) {
	// Arrange: a is ours, b belongs to another host, c is unclaimed
	env := newTestEnv()
	hostA, hostB := "host-a", "host-b"
	a := registerAccount(env, "a@example.test", 1)
	a.SyncHost = &hostA
	b := registerAccount(env, "b@example.test", 1)
	b.SyncHost = &hostB
	c := registerAccount(env, "c@example.test", 1)
	svc := newTestService(env, "host-a")
	ctx := context.Background()
	t.Cleanup(func() { svc.Shutdown(ctx) })

	// Act
	require.NoError(t, svc.Rehydrate(ctx))

	// Assert
	assert.Equal(t, dto.SyncResultAlreadyStarted, svc.StartSync(ctx, a.Email)[a.Email])
	assert.Equal(t, "Account b@example.test is syncing on host host-b", svc.StartSync(ctx, b.Email)[b.Email])
	assert.Equal(t, dto.SyncResultStarted, svc.StartSync(ctx, c.Email)[c.Email])
}

func TestSyncService_ShutdownKeepsClaimsForNextBoot(t *testing.T) {
	// Arrange
	env := newTestEnv()
	account := registerAccount(env, "restart@example.test", 1)
	svc := newTestService(env, "host-a")
	ctx := context.Background()
	svc.StartSync(ctx, account.Email)
	require.Eventually(t, func() bool {
		folder, ok := svc.SyncStatus(ctx, account.ID)["INBOX"]
		return ok && folder.State == statusPoll
	}, time.Second, time.Millisecond)
	firstRemote := env.remotes.lastBuilt(account.ID)

	// Act
	svc.Shutdown(ctx)

	// Assert: supervisors are gone but the host claim stays
	assert.True(t, firstRemote.isClosed())
	host := env.accounts.syncHost(account.ID)
	require.NotNil(t, host)
	assert.Equal(t, "host-a", *host)

	// a new process on the same host picks the account back up
	svc2 := newTestService(env, "host-a")
	t.Cleanup(func() { svc2.Shutdown(ctx) })
	require.NoError(t, svc2.Rehydrate(ctx))
	assert.Equal(t, dto.SyncResultAlreadyStarted, svc2.StartSync(ctx, account.Email)[account.Email])
	secondRemote := env.remotes.lastBuilt(account.ID)
	assert.NotSame(t, firstRemote, secondRemote)
	assert.False(t, secondRemote.isClosed())
}

func TestStatusRegistry(t *testing.T) {
	r := newStatusRegistry()
	assert.Nil(t, r.account("missing"))

	r.set("acct_1", statusInitial, "INBOX", float64(40))
	r.set("acct_1", statusPoll, "Sent", "2023-01-02T15:04:05Z")
	r.set("acct_2", statusInitial, "INBOX", float64(10))

	one := r.account("acct_1")
	require.Len(t, one, 2)
	assert.Equal(t, dto.FolderSyncStatus{State: statusInitial, Progress: float64(40)}, one["INBOX"])
	assert.Len(t, r.all(), 2)

	r.remove("acct_1")
	assert.Nil(t, r.account("acct_1"))
	assert.NotNil(t, r.account("acct_2"))
}
