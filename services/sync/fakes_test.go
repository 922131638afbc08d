package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/config"
	"github.com/inboxline/mailsync/dto"
	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/enum"
	er "github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/logger"
	"github.com/inboxline/mailsync/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PollFrequency:        5 * time.Millisecond,
		Heartbeat:            time.Millisecond,
		MaxAttempts:          3,
		ConnectionPoolSize:   2,
		ThreadExpansionChunk: 100,
		DetectorQueueSize:    4,
	}
}

func genericAccount() *models.Account {
	return &models.Account{
		ID:         "acct_generic",
		Email:      "user@generic.test",
		Provider:   enum.ProviderGeneric,
		SyncActive: true,
	}
}

func gmailAccount() *models.Account {
	return &models.Account{
		ID:         "acct_gmail",
		Email:      "user@gmail.test",
		Provider:   enum.ProviderGmail,
		SyncActive: true,
	}
}

// plainBody renders a minimal single-part RFC822 message.
func plainBody(from, to, subject, messageID string) []byte {
	lines := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"Message-Id: <" + messageID + ">",
		"Date: Mon, 02 Jan 2023 15:04:05 +0000",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"body of " + messageID,
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func testBody(n int) []byte {
	return plainBody(
		fmt.Sprintf("Sender %d <sender%d@example.com>", n, n),
		"rcpt@example.com",
		fmt.Sprintf("Message %d", n),
		fmt.Sprintf("msg-%d@example.com", n),
	)
}

// ---------------------------------------------------------------------------
// remote mailbox fakes

// fakeFolder is one server-side folder. Every mutation bumps the folder's
// HIGHESTMODSEQ and stamps the touched uid, the way CONDSTORE servers do.
type fakeFolder struct {
	uidValidity   uint32
	highestModSeq uint64
	metadata      map[uint32]interfaces.GMetadata
	flags         map[uint32]interfaces.FlagSet
	bodies        map[uint32][]byte
	modseq        map[uint32]uint64
}

func newFakeFolder(uidValidity uint32) *fakeFolder {
	return &fakeFolder{
		uidValidity: uidValidity,
		metadata:    make(map[uint32]interfaces.GMetadata),
		flags:       make(map[uint32]interfaces.FlagSet),
		bodies:      make(map[uint32][]byte),
		modseq:      make(map[uint32]uint64),
	}
}

func (f *fakeFolder) add(uid uint32, msgid, thrid uint64, fs interfaces.FlagSet, body []byte) {
	f.highestModSeq++
	f.metadata[uid] = interfaces.GMetadata{MsgID: msgid, ThrID: thrid}
	f.flags[uid] = fs
	if body != nil {
		f.bodies[uid] = body
	}
	f.modseq[uid] = f.highestModSeq
}

func (f *fakeFolder) setFlags(uid uint32, flags ...string) {
	f.highestModSeq++
	fs := f.flags[uid]
	fs.Flags = flags
	f.flags[uid] = fs
	f.modseq[uid] = f.highestModSeq
}

func (f *fakeFolder) remove(uid uint32) {
	f.highestModSeq++
	delete(f.metadata, uid)
	delete(f.flags, uid)
	delete(f.bodies, uid)
	delete(f.modseq, uid)
}

// fakeRemote implements interfaces.RemoteMailbox over in-memory folders and
// records what the engine asked for, so tests can assert on traffic, not
// just on store contents.
type fakeRemote struct {
	mu          sync.Mutex
	folders     map[string]*fakeFolder
	syncFolders []string
	pollFolders []string
	names       map[string]string
	chunkSize   int

	leases      int
	releases    int
	selects     map[string]int
	bodyFetches map[string][]uint32
	gmetaCalls  map[string][][]uint32
	closed      bool

	selectGate map[string]chan struct{}
}

func newFakeRemote(chunkSize int) *fakeRemote {
	return &fakeRemote{
		folders:     make(map[string]*fakeFolder),
		names:       make(map[string]string),
		chunkSize:   chunkSize,
		selects:     make(map[string]int),
		bodyFetches: make(map[string][]uint32),
		gmetaCalls:  make(map[string][][]uint32),
		selectGate:  make(map[string]chan struct{}),
	}
}

func (r *fakeRemote) addFolder(name string, f *fakeFolder, poll bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[name] = f
	r.syncFolders = append(r.syncFolders, name)
	if poll {
		r.pollFolders = append(r.pollFolders, name)
	}
}

func (r *fakeRemote) replaceFolder(name string, f *fakeFolder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folders[name] = f
}

// gateSelect makes SelectFolder on name block until the returned channel is
// closed. Set up before any worker runs.
func (r *fakeRemote) gateSelect(name string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate := make(chan struct{})
	r.selectGate[name] = gate
	return gate
}

func (r *fakeRemote) selectCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selects[name]
}

func (r *fakeRemote) fetchedBodies(name string) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32{}, r.bodyFetches[name]...)
}

func (r *fakeRemote) gmetadataCalls(name string) [][]uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]uint32, 0, len(r.gmetaCalls[name]))
	for _, call := range r.gmetaCalls[name] {
		out = append(out, append([]uint32{}, call...))
	}
	return out
}

func (r *fakeRemote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRemote) leaseBalance() (leases, releases int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leases, r.releases
}

func (r *fakeRemote) Lease(ctx context.Context) (interfaces.RemoteConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, er.ErrPoolClosed
	}
	r.leases++
	return &fakeConn{remote: r}, nil
}

func (r *fakeRemote) SyncFolders(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.syncFolders...), nil
}

func (r *fakeRemote) PollFolders(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.pollFolders...), nil
}

func (r *fakeRemote) FolderNames(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.names))
	for role, name := range r.names {
		out[role] = name
	}
	return out, nil
}

func (r *fakeRemote) ChunkSize() int {
	return r.chunkSize
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeConn struct {
	remote           *fakeRemote
	selected         *fakeFolder
	selectedName     string
	selectedValidity uint32
	selectedModSeq   uint64
}

func (c *fakeConn) SelectFolder(ctx context.Context, name string, cb interfaces.UIDValidityCallback) (*interfaces.SelectInfo, error) {
	c.remote.mu.Lock()
	folder, ok := c.remote.folders[name]
	gate := c.remote.selectGate[name]
	c.remote.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no such folder %s", name)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.remote.mu.Lock()
	info := &interfaces.SelectInfo{
		FolderName:    name,
		UIDValidity:   folder.uidValidity,
		HighestModSeq: folder.highestModSeq,
		Exists:        uint32(len(folder.metadata)),
	}
	c.remote.mu.Unlock()

	if cb != nil {
		if err := cb(name, info); err != nil {
			return nil, err
		}
	}

	c.remote.mu.Lock()
	c.remote.selects[name]++
	c.remote.mu.Unlock()

	c.selected = folder
	c.selectedName = name
	c.selectedValidity = info.UIDValidity
	c.selectedModSeq = info.HighestModSeq
	return info, nil
}

func (c *fakeConn) FolderStatus(ctx context.Context, name string) (*interfaces.FolderStatus, error) {
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	folder, ok := c.remote.folders[name]
	if !ok {
		return nil, errors.Errorf("no such folder %s", name)
	}
	return &interfaces.FolderStatus{
		UIDValidity:   folder.uidValidity,
		HighestModSeq: folder.highestModSeq,
		Messages:      uint32(len(folder.metadata)),
	}, nil
}

func (c *fakeConn) AllUIDs(ctx context.Context) ([]uint32, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	uids := make([]uint32, 0, len(c.selected.metadata))
	for uid := range c.selected.metadata {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *fakeConn) FetchMessages(ctx context.Context, uids []uint32) ([]*interfaces.RawMessage, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.bodyFetches[c.selectedName] = append(c.remote.bodyFetches[c.selectedName], uids...)

	raws := make([]*interfaces.RawMessage, 0, len(uids))
	for _, uid := range uids {
		body, ok := c.selected.bodies[uid]
		if !ok {
			continue
		}
		meta := c.selected.metadata[uid]
		fs := c.selected.flags[uid]
		raws = append(raws, &interfaces.RawMessage{
			UID:    uid,
			Flags:  append([]string{}, fs.Flags...),
			Labels: append([]string{}, fs.Labels...),
			Body:   body,
			GMsgID: meta.MsgID,
			GThrID: meta.ThrID,
		})
	}
	return raws, nil
}

func (c *fakeConn) FetchFlags(ctx context.Context, uids []uint32) (map[uint32]interfaces.FlagSet, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	out := make(map[uint32]interfaces.FlagSet)
	for _, uid := range uids {
		if fs, ok := c.selected.flags[uid]; ok {
			out[uid] = fs
		}
	}
	return out, nil
}

func (c *fakeConn) FetchGMetadata(ctx context.Context, uids []uint32) (map[uint32]interfaces.GMetadata, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	c.remote.gmetaCalls[c.selectedName] = append(c.remote.gmetaCalls[c.selectedName], append([]uint32{}, uids...))

	out := make(map[uint32]interfaces.GMetadata)
	for _, uid := range uids {
		if meta, ok := c.selected.metadata[uid]; ok {
			out[uid] = meta
		}
	}
	return out, nil
}

func (c *fakeConn) NewAndUpdatedUIDs(ctx context.Context, sinceModSeq uint64) ([]uint32, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	uids := make([]uint32, 0)
	for uid, seq := range c.selected.modseq {
		if seq > sinceModSeq {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *fakeConn) ExpandThreads(ctx context.Context, thrids []uint64) ([]uint32, error) {
	if c.selected == nil {
		return nil, er.ErrFolderNotSelected
	}
	c.remote.mu.Lock()
	defer c.remote.mu.Unlock()
	wanted := make(map[uint64]bool, len(thrids))
	for _, thrid := range thrids {
		wanted[thrid] = true
	}
	uids := make([]uint32, 0)
	for uid, meta := range c.selected.metadata {
		if wanted[meta.ThrID] {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *fakeConn) SelectedFolderName() string {
	return c.selectedName
}

func (c *fakeConn) SelectedUIDValidity() uint32 {
	return c.selectedValidity
}

func (c *fakeConn) SelectedHighestModSeq() uint64 {
	return c.selectedModSeq
}

func (c *fakeConn) Release() {
	c.remote.mu.Lock()
	c.remote.releases++
	c.remote.mu.Unlock()
}

// fakeRemoteFactory builds a fresh fakeRemote per ForAccount call, so a
// stopped-then-restarted account gets a live pool again.
type fakeRemoteFactory struct {
	mu       sync.Mutex
	builders map[string]func() *fakeRemote
	built    map[string][]*fakeRemote
	failFor  map[string]error
}

func newFakeRemoteFactory() *fakeRemoteFactory {
	return &fakeRemoteFactory{
		builders: make(map[string]func() *fakeRemote),
		built:    make(map[string][]*fakeRemote),
		failFor:  make(map[string]error),
	}
}

func (f *fakeRemoteFactory) register(accountID string, builder func() *fakeRemote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[accountID] = builder
}

func (f *fakeRemoteFactory) lastBuilt(accountID string) *fakeRemote {
	f.mu.Lock()
	defer f.mu.Unlock()
	remotes := f.built[accountID]
	if len(remotes) == 0 {
		return nil
	}
	return remotes[len(remotes)-1]
}

func (f *fakeRemoteFactory) ForAccount(ctx context.Context, account *models.Account) (interfaces.RemoteMailbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[account.ID]; err != nil {
		return nil, err
	}
	builder, ok := f.builders[account.ID]
	if !ok {
		return nil, errors.Errorf("no fake remote registered for %s", account.ID)
	}
	remote := builder()
	f.built[account.ID] = append(f.built[account.ID], remote)
	return remote, nil
}

// ---------------------------------------------------------------------------
// repository fakes

var fakeIDSeq int64

func nextFakeID(prefix string) string {
	return fmt.Sprintf("%s_%06d", prefix, atomic.AddInt64(&fakeIDSeq, 1))
}

type fakeAccountRepo struct {
	mu        sync.Mutex
	accounts  map[string]*models.Account
	denyClaim bool
	claimErr  error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.Account)}
}

func (r *fakeAccountRepo) add(account *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == "" {
		account.ID = nextFakeID("acct")
	}
	r.accounts[account.ID] = account
}

func (r *fakeAccountRepo) syncHost(accountID string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[accountID]
	if account == nil || account.SyncHost == nil {
		return nil
	}
	host := *account.SyncHost
	return &host
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error {
	r.add(account)
	return nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id], nil
}

func (r *fakeAccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email {
			return account, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) GetSyncActive(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Account, 0)
	for _, account := range r.accounts {
		if account.SyncActive {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) GetWithSyncHost(ctx context.Context) ([]*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Account, 0)
	for _, account := range r.accounts {
		if account.SyncHost != nil {
			out = append(out, account)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ClaimSyncHost(ctx context.Context, accountID, host string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	if r.denyClaim {
		return false, nil
	}
	account := r.accounts[accountID]
	if account == nil {
		return false, nil
	}
	if account.SyncHost != nil && *account.SyncHost != host {
		return false, nil
	}
	h := host
	account.SyncHost = &h
	return true, nil
}

func (r *fakeAccountRepo) ReleaseSyncHost(ctx context.Context, accountID, host string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account := r.accounts[accountID]
	if account != nil && account.SyncHost != nil && *account.SyncHost == host {
		account.SyncHost = nil
	}
	return nil
}

type fakeFolderSyncRepo struct {
	mu               sync.Mutex
	rows             map[string]*models.FolderSyncProgress
	history          map[string][]enum.SyncState
	getForAccountErr error
}

func newFakeFolderSyncRepo() *fakeFolderSyncRepo {
	return &fakeFolderSyncRepo{
		rows:    make(map[string]*models.FolderSyncProgress),
		history: make(map[string][]enum.SyncState),
	}
}

func progressKey(accountID, folderName string) string {
	return accountID + "|" + folderName
}

func (r *fakeFolderSyncRepo) stateHistory(accountID, folderName string) []enum.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enum.SyncState{}, r.history[progressKey(accountID, folderName)]...)
}

func (r *fakeFolderSyncRepo) Get(ctx context.Context, accountID, folderName string) (*models.FolderSyncProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[progressKey(accountID, folderName)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *fakeFolderSyncRepo) GetForAccount(ctx context.Context, accountID string) ([]*models.FolderSyncProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getForAccountErr != nil {
		return nil, r.getForAccountErr
	}
	out := make([]*models.FolderSyncProgress, 0)
	for _, row := range r.rows {
		if row.AccountID == accountID {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeFolderSyncRepo) Save(ctx context.Context, progress *models.FolderSyncProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := progressKey(progress.AccountID, progress.FolderName)
	if existing, ok := r.rows[key]; ok {
		progress.ID = existing.ID
	} else if progress.ID == "" {
		progress.ID = nextFakeID("fldr")
	}
	copied := *progress
	r.rows[key] = &copied
	r.history[key] = append(r.history[key], progress.State)
	return nil
}

func (r *fakeFolderSyncRepo) SaveState(ctx context.Context, accountID, folderName string, state enum.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := progressKey(accountID, folderName)
	row, ok := r.rows[key]
	if !ok {
		return errors.Errorf("no folder sync row for %s", key)
	}
	row.State = state
	r.history[key] = append(r.history[key], state)
	return nil
}

func (r *fakeFolderSyncRepo) Delete(ctx context.Context, accountID, folderName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, progressKey(accountID, folderName))
	return nil
}

type fakeCheckpointRepo struct {
	mu   sync.Mutex
	rows map[string]*models.UIDValidityCheckpoint
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{rows: make(map[string]*models.UIDValidityCheckpoint)}
}

func (r *fakeCheckpointRepo) seed(accountID, folderName string, uidValidity uint32, highestModSeq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[progressKey(accountID, folderName)] = &models.UIDValidityCheckpoint{
		ID:            nextFakeID("ckpt"),
		AccountID:     accountID,
		FolderName:    folderName,
		UIDValidity:   uidValidity,
		HighestModSeq: highestModSeq,
	}
}

func (r *fakeCheckpointRepo) Get(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[progressKey(accountID, folderName)]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *fakeCheckpointRepo) Save(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := progressKey(checkpoint.AccountID, checkpoint.FolderName)
	if existing, ok := r.rows[key]; ok {
		checkpoint.ID = existing.ID
	} else if checkpoint.ID == "" {
		checkpoint.ID = nextFakeID("ckpt")
	}
	copied := *checkpoint
	r.rows[key] = &copied
	return nil
}

type fakeMessageRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Message
	creates int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: make(map[string]*models.Message)}
}

func (r *fakeMessageRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *fakeMessageRepo) byProviderMsgID(msgid uint64) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range r.rows {
		if msg.ProviderMsgID != nil && *msg.ProviderMsgID == msgid {
			return msg
		}
	}
	return nil
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == "" {
		message.ID = nextFakeID("msg")
	}
	if _, ok := r.rows[message.ID]; ok {
		return errors.Errorf("duplicate message id %s", message.ID)
	}
	r.rows[message.ID] = message
	r.creates++
	return nil
}

func (r *fakeMessageRepo) CreateInBatch(ctx context.Context, messages []*models.Message) error {
	for _, msg := range messages {
		if err := r.Create(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *fakeMessageRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := r.rows[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) GetByProviderMsgIDs(ctx context.Context, accountID string, msgids []uint64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uint64]bool, len(msgids))
	for _, msgid := range msgids {
		wanted[msgid] = true
	}
	out := make([]*models.Message, 0)
	for _, msg := range r.rows {
		if msg.AccountID == accountID && msg.ProviderMsgID != nil && wanted[*msg.ProviderMsgID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

type fakeFolderItemRepo struct {
	mu     sync.Mutex
	rows   map[string]*models.FolderItem
	unique map[string]string
}

func newFakeFolderItemRepo() *fakeFolderItemRepo {
	return &fakeFolderItemRepo{
		rows:   make(map[string]*models.FolderItem),
		unique: make(map[string]string),
	}
}

func itemKey(accountID, folderName string, uid uint32) string {
	return fmt.Sprintf("%s|%s|%d", accountID, folderName, uid)
}

func (r *fakeFolderItemRepo) itemFor(accountID, folderName string, uid uint32) *models.FolderItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.unique[itemKey(accountID, folderName, uid)]
	if !ok {
		return nil
	}
	return r.rows[id]
}

func (r *fakeFolderItemRepo) Create(ctx context.Context, item *models.FolderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := itemKey(item.AccountID, item.FolderName, item.UID)
	if _, ok := r.unique[key]; ok {
		return errors.Errorf("duplicate folder item %s", key)
	}
	if item.ID == "" {
		item.ID = nextFakeID("item")
	}
	r.rows[item.ID] = item
	r.unique[key] = item.ID
	return nil
}

func (r *fakeFolderItemRepo) CreateInBatch(ctx context.Context, items []*models.FolderItem) error {
	for _, item := range items {
		if err := r.Create(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeFolderItemRepo) GetUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]uint32, 0)
	for _, item := range r.rows {
		if item.AccountID == accountID && item.FolderName == folderName {
			uids = append(uids, item.UID)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (r *fakeFolderItemRepo) GetForFolder(ctx context.Context, accountID, folderName string) ([]*models.FolderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FolderItem, 0)
	for _, item := range r.rows {
		if item.AccountID == accountID && item.FolderName == folderName {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *fakeFolderItemRepo) GetByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) ([]*models.FolderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.FolderItem, 0)
	for _, uid := range uids {
		if id, ok := r.unique[itemKey(accountID, folderName, uid)]; ok {
			out = append(out, r.rows[id])
		}
	}
	return out, nil
}

func (r *fakeFolderItemRepo) DeleteByUIDs(ctx context.Context, accountID, folderName string, uids []uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range uids {
		key := itemKey(accountID, folderName, uid)
		if id, ok := r.unique[key]; ok {
			delete(r.rows, id)
			delete(r.unique, key)
		}
	}
	return nil
}

func (r *fakeFolderItemRepo) UpdateFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.unique[itemKey(accountID, folderName, uid)]
	if !ok {
		return nil
	}
	item := r.rows[id]
	item.Flags = flags
	item.Labels = labels
	return nil
}

func (r *fakeFolderItemRepo) UpdateUID(ctx context.Context, itemID string, uid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.rows[itemID]
	if !ok {
		return errors.Errorf("no folder item %s", itemID)
	}
	newKey := itemKey(item.AccountID, item.FolderName, uid)
	if other, ok := r.unique[newKey]; ok && other != itemID {
		return errors.Errorf("duplicate folder item %s", newKey)
	}
	delete(r.unique, itemKey(item.AccountID, item.FolderName, item.UID))
	item.UID = uid
	r.unique[newKey] = itemID
	return nil
}

func (r *fakeFolderItemRepo) Delete(ctx context.Context, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.rows[itemID]
	if !ok {
		return nil
	}
	delete(r.unique, itemKey(item.AccountID, item.FolderName, item.UID))
	delete(r.rows, itemID)
	return nil
}

type fakeThreadRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Thread
	creates int
	updates int
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{rows: make(map[string]*models.Thread)}
}

func (r *fakeThreadRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *fakeThreadRepo) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates
}

func (r *fakeThreadRepo) byProviderThrID(thrid uint64) *models.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, thread := range r.rows {
		if thread.ProviderThrID != nil && *thread.ProviderThrID == thrid {
			copied := *thread
			return &copied
		}
	}
	return nil
}

func (r *fakeThreadRepo) Create(ctx context.Context, thread *models.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if thread.ID == "" {
		thread.ID = nextFakeID("thrd")
	}
	copied := *thread
	r.rows[thread.ID] = &copied
	r.creates++
	return nil
}

func (r *fakeThreadRepo) GetByID(ctx context.Context, id string) (*models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	copied := *thread
	return &copied, nil
}

func (r *fakeThreadRepo) GetByProviderThrID(ctx context.Context, accountID string, thrid uint64) (*models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, thread := range r.rows {
		if thread.AccountID == accountID && thread.ProviderThrID != nil && *thread.ProviderThrID == thrid {
			copied := *thread
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeThreadRepo) Update(ctx context.Context, thread *models.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[thread.ID]; !ok {
		return errors.Errorf("no thread %s", thread.ID)
	}
	copied := *thread
	r.rows[thread.ID] = &copied
	r.updates++
	return nil
}

// ---------------------------------------------------------------------------
// cache, blob store, and side channel fakes

// fakeMetaCache round-trips values through JSON the way the real cache does,
// so serialization of the metadata map is exercised too.
type fakeMetaCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newFakeMetaCache() *fakeMetaCache {
	return &fakeMetaCache{data: make(map[string][]byte)}
}

func (c *fakeMetaCache) seed(key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *fakeMetaCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func (c *fakeMetaCache) Get(ctx context.Context, key string, value interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, c.getErr
	}
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, value)
}

func (c *fakeMetaCache) Set(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *fakeMetaCache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	puts    int
	failAll bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (s *fakeBlobStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("blob store unavailable")
	}
	s.data[key] = data
	s.puts++
	return nil
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[key]
	if !ok {
		return nil, errors.Errorf("no blob %s", key)
	}
	return b, nil
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type fakeEventPublisher struct {
	mu      sync.Mutex
	started []string
	stopped []string
	stored  []dto.MessagesStored
}

func newFakeEventPublisher() *fakeEventPublisher {
	return &fakeEventPublisher{}
}

func (p *fakeEventPublisher) startedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.started...)
}

func (p *fakeEventPublisher) stoppedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.stopped...)
}

func (p *fakeEventPublisher) storedEvents() []dto.MessagesStored {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dto.MessagesStored{}, p.stored...)
}

func (p *fakeEventPublisher) PublishSyncStarted(ctx context.Context, accountID string, host string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, accountID)
	return nil
}

func (p *fakeEventPublisher) PublishSyncStopped(ctx context.Context, accountID string, host string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, accountID)
	return nil
}

func (p *fakeEventPublisher) PublishMessagesStored(ctx context.Context, event dto.MessagesStored) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored = append(p.stored, event)
	return nil
}

func (p *fakeEventPublisher) Close() error {
	return nil
}

type fakeIndexer struct {
	mu       sync.Mutex
	enabled  bool
	notified [][]string
}

func (i *fakeIndexer) Enabled() bool {
	return i.enabled
}

func (i *fakeIndexer) NotifyNewMessages(ctx context.Context, accountID string, messageIDs []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notified = append(i.notified, messageIDs)
	return nil
}

type fakeTokenProvider struct {
	mu      sync.Mutex
	cleared []string
}

func (p *fakeTokenProvider) Token(ctx context.Context, account *models.Account, scope string) (string, error) {
	return "tok-" + account.ID, nil
}

func (p *fakeTokenProvider) ForceRefresh(ctx context.Context, account *models.Account, scope string) (string, error) {
	return "tok-" + account.ID, nil
}

func (p *fakeTokenProvider) PurgeExpired() {}

func (p *fakeTokenProvider) ClearAccount(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, accountID)
}

func (p *fakeTokenProvider) clearedAccounts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.cleared...)
}

// ---------------------------------------------------------------------------
// status recording and the assembled environment

type statusUpdate struct {
	accountID  string
	state      string
	folderName string
	progress   interface{}
}

type statusRecorder struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (r *statusRecorder) record(accountID, state, folderName string, progress interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{
		accountID:  accountID,
		state:      state,
		folderName: folderName,
		progress:   progress,
	})
}

func (r *statusRecorder) last() *statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return nil
	}
	update := r.updates[len(r.updates)-1]
	return &update
}

func (r *statusRecorder) all() []statusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusUpdate{}, r.updates...)
}

type testEnv struct {
	log         logger.Logger
	accounts    *fakeAccountRepo
	folderSync  *fakeFolderSyncRepo
	checkpoints *fakeCheckpointRepo
	messages    *fakeMessageRepo
	items       *fakeFolderItemRepo
	threads     *fakeThreadRepo
	remotes     *fakeRemoteFactory
	blobs       *fakeBlobStore
	cache       *fakeMetaCache
	events      *fakeEventPublisher
	indexer     *fakeIndexer
	tokens      *fakeTokenProvider
	statusRec   *statusRecorder
}

func newTestEnv() *testEnv {
	return &testEnv{
		log:         getLogger(),
		accounts:    newFakeAccountRepo(),
		folderSync:  newFakeFolderSyncRepo(),
		checkpoints: newFakeCheckpointRepo(),
		messages:    newFakeMessageRepo(),
		items:       newFakeFolderItemRepo(),
		threads:     newFakeThreadRepo(),
		remotes:     newFakeRemoteFactory(),
		blobs:       newFakeBlobStore(),
		cache:       newFakeMetaCache(),
		events:      newFakeEventPublisher(),
		indexer:     &fakeIndexer{},
		tokens:      &fakeTokenProvider{},
		statusRec:   &statusRecorder{},
	}
}

func (e *testEnv) deps() Dependencies {
	return Dependencies{
		Log:         e.log,
		Accounts:    e.accounts,
		FolderSync:  e.folderSync,
		Checkpoints: e.checkpoints,
		Messages:    e.messages,
		FolderItems: e.items,
		Threads:     e.threads,
		Remotes:     e.remotes,
		Blobs:       e.blobs,
		Cache:       e.cache,
		Events:      e.events,
		Indexer:     e.indexer,
		Tokens:      e.tokens,
	}
}
