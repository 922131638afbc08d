package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/inboxline/mailsync/interfaces"
	er "github.com/inboxline/mailsync/internal/errors"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second

	fetchItemGmailMsgID  = imap.FetchItem("X-GM-MSGID")
	fetchItemGmailThrID  = imap.FetchItem("X-GM-THRID")
	fetchItemGmailLabels = imap.FetchItem("X-GM-LABELS")

	statusHighestModSeq = imap.StatusItem("HIGHESTMODSEQ")
)

// dial establishes a TLS or plaintext connection to the account's IMAP
// server. Login is the authenticator's job.
func dial(ctx context.Context, account *models.Account) (*client.Client, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imap.dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("tls", account.ImapTLS)

	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if account.ImapTLS {
		tlsConfig := &tls.Config{
			ServerName: account.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}

	if err != nil {
		tracing.TraceErr(span, err)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errors.Wrapf(er.ErrConnectionTimeout, "failed to connect to %s", serverAddr)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}
	return c, nil
}

// imapConnection is one pooled IMAP session. It remembers the most recent
// successful selection so callers can read back the negotiated UIDVALIDITY
// and HIGHESTMODSEQ without re-selecting.
type imapConnection struct {
	pool    *connPool
	client  *client.Client
	account *models.Account

	selectedFolder   string
	selectedValidity uint32
	selectedModSeq   uint64
}

func (c *imapConnection) SelectFolder(ctx context.Context, name string, cb interfaces.UIDValidityCallback) (*interfaces.SelectInfo, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.SelectFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, name)

	// STATUS before SELECT: it is the only portable way to learn
	// HIGHESTMODSEQ with this client, and per RFC 7162 it also enables
	// CONDSTORE for the session. Reading the value before selecting is
	// safe; a slightly stale checkpoint only widens the next MODSEQ
	// window.
	var modSeq uint64
	if c.account.Provider.SupportsCondstore() {
		status, err := c.folderStatus(name)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		modSeq = status.HighestModSeq
	}

	c.client.Timeout = commandTimeout
	mbox, err := c.client.Select(name, true)
	c.client.Timeout = 0
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to select folder %s: %w", name, err)
	}

	info := &interfaces.SelectInfo{
		FolderName:    name,
		UIDValidity:   mbox.UidValidity,
		HighestModSeq: modSeq,
		Exists:        mbox.Messages,
	}

	c.selectedFolder = name
	c.selectedValidity = info.UIDValidity
	c.selectedModSeq = info.HighestModSeq
	span.SetTag("uidvalidity", info.UIDValidity)
	span.SetTag("highestmodseq", info.HighestModSeq)

	if cb != nil {
		if err := cb(name, info); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	return info, nil
}

func (c *imapConnection) FolderStatus(ctx context.Context, name string) (*interfaces.FolderStatus, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.FolderStatus")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, name)

	status, err := c.folderStatus(name)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return status, err
}

func (c *imapConnection) folderStatus(name string) (*interfaces.FolderStatus, error) {
	items := []imap.StatusItem{imap.StatusMessages, imap.StatusUidValidity}
	if c.account.Provider.SupportsCondstore() {
		items = append(items, statusHighestModSeq)
	}

	c.client.Timeout = commandTimeout
	mbox, err := c.client.Status(name, items)
	c.client.Timeout = 0
	if err != nil {
		return nil, fmt.Errorf("failed to get status of folder %s: %w", name, err)
	}

	return &interfaces.FolderStatus{
		UIDValidity:   mbox.UidValidity,
		HighestModSeq: fieldUint64(mbox.Items[statusHighestModSeq]),
		Messages:      mbox.Messages,
	}, nil
}

func (c *imapConnection) AllUIDs(ctx context.Context) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.AllUIDs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}

	c.client.Timeout = commandTimeout
	uids, err := c.client.UidSearch(criteria)
	c.client.Timeout = 0
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to search folder %s: %w", c.selectedFolder, err)
	}
	span.LogKV("count", len(uids))
	return uids, nil
}

func (c *imapConnection) FetchMessages(ctx context.Context, uids []uint32) ([]*interfaces.RawMessage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.FetchMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)
	span.LogKV("count", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
		section.FetchItem(),
	}
	if c.account.Provider.HasGmailExtensions() {
		items = append(items, fetchItemGmailMsgID, fetchItemGmailThrID, fetchItemGmailLabels)
	}

	byUID := make(map[uint32]*interfaces.RawMessage, len(uids))
	err := c.uidFetch(uids, items, fetchTimeout, func(msg *imap.Message) error {
		raw := &interfaces.RawMessage{
			UID:          msg.Uid,
			Flags:        msg.Flags,
			Labels:       fieldStrings(msg.Items[fetchItemGmailLabels]),
			InternalDate: msg.InternalDate,
			GMsgID:       fieldUint64(msg.Items[fetchItemGmailMsgID]),
			GThrID:       fieldUint64(msg.Items[fetchItemGmailThrID]),
		}
		if literal := msg.GetBody(section); literal != nil {
			body, err := io.ReadAll(literal)
			if err != nil {
				return fmt.Errorf("failed to read body of uid %d: %w", msg.Uid, err)
			}
			raw.Body = body
		}
		byUID[raw.UID] = raw
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// Preserve the caller's download order; fetch responses arrive in
	// mailbox order.
	out := make([]*interfaces.RawMessage, 0, len(byUID))
	for _, uid := range uids {
		if raw, ok := byUID[uid]; ok {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (c *imapConnection) FetchFlags(ctx context.Context, uids []uint32) (map[uint32]interfaces.FlagSet, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.FetchFlags")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)
	span.LogKV("count", len(uids))

	if len(uids) == 0 {
		return map[uint32]interfaces.FlagSet{}, nil
	}

	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}
	if c.account.Provider.HasGmailExtensions() {
		items = append(items, fetchItemGmailLabels)
	}

	flags := make(map[uint32]interfaces.FlagSet, len(uids))
	err := c.uidFetch(uids, items, commandTimeout, func(msg *imap.Message) error {
		flags[msg.Uid] = interfaces.FlagSet{
			Flags:  msg.Flags,
			Labels: fieldStrings(msg.Items[fetchItemGmailLabels]),
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return flags, nil
}

func (c *imapConnection) FetchGMetadata(ctx context.Context, uids []uint32) (map[uint32]interfaces.GMetadata, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.FetchGMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)
	span.LogKV("count", len(uids))

	if len(uids) == 0 {
		return map[uint32]interfaces.GMetadata{}, nil
	}

	items := []imap.FetchItem{imap.FetchUid}
	if c.account.Provider.HasGmailExtensions() {
		items = append(items, fetchItemGmailMsgID, fetchItemGmailThrID)
	}

	metadata := make(map[uint32]interfaces.GMetadata, len(uids))
	err := c.uidFetch(uids, items, commandTimeout, func(msg *imap.Message) error {
		metadata[msg.Uid] = interfaces.GMetadata{
			MsgID: fieldUint64(msg.Items[fetchItemGmailMsgID]),
			ThrID: fieldUint64(msg.Items[fetchItemGmailThrID]),
		}
		return nil
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return metadata, nil
}

func (c *imapConnection) NewAndUpdatedUIDs(ctx context.Context, sinceModSeq uint64) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.NewAndUpdatedUIDs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)
	span.SetTag("since.modseq", sinceModSeq)

	uids, err := c.uidSearchRaw(&searchModSeqCommand{since: sinceModSeq})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to search folder %s by modseq: %w", c.selectedFolder, err)
	}
	span.LogKV("count", len(uids))
	return uids, nil
}

func (c *imapConnection) ExpandThreads(ctx context.Context, thrids []uint64) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapConnection.ExpandThreads")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	tracing.TagFolder(span, c.selectedFolder)
	span.LogKV("thread.count", len(thrids))

	if len(thrids) == 0 {
		return nil, nil
	}

	uids, err := c.uidSearchRaw(&searchThreadsCommand{thrids: thrids})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to expand threads: %w", err)
	}
	span.LogKV("uid.count", len(uids))
	return uids, nil
}

func (c *imapConnection) SelectedFolderName() string {
	return c.selectedFolder
}

func (c *imapConnection) SelectedUIDValidity() uint32 {
	return c.selectedValidity
}

func (c *imapConnection) SelectedHighestModSeq() uint64 {
	return c.selectedModSeq
}

func (c *imapConnection) Release() {
	if c.pool != nil {
		c.pool.release(c)
	}
}

// uidFetch runs one UID FETCH and feeds each message to visit while the
// response is still streaming.
func (c *imapConnection) uidFetch(uids []uint32, items []imap.FetchItem, timeout time.Duration, visit func(*imap.Message) error) error {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	c.client.Timeout = timeout
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var visitErr error
	for msg := range messages {
		if visitErr != nil {
			continue // drain the channel so the goroutine can finish
		}
		visitErr = visit(msg)
	}

	err := <-done
	c.client.Timeout = 0
	if err != nil {
		return fmt.Errorf("failed to fetch from folder %s: %w", c.selectedFolder, err)
	}
	return visitErr
}

// uidSearchRaw runs a UID SEARCH that the structured criteria type cannot
// express.
func (c *imapConnection) uidSearchRaw(cmdr imap.Commander) ([]uint32, error) {
	cmd := &commands.Uid{Cmd: cmdr}
	res := new(responses.Search)

	c.client.Timeout = commandTimeout
	status, err := c.client.Execute(cmd, res)
	c.client.Timeout = 0
	if err != nil {
		return nil, err
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	return res.Ids, nil
}

// searchModSeqCommand is SEARCH MODSEQ n, valid on any CONDSTORE session.
type searchModSeqCommand struct {
	since uint64
}

func (cmd *searchModSeqCommand) Command() *imap.Command {
	return &imap.Command{
		Name: "SEARCH",
		Arguments: []interface{}{
			imap.RawString("MODSEQ"),
			imap.RawString(strconv.FormatUint(cmd.since, 10)),
		},
	}
}

// searchThreadsCommand is SEARCH NOT DELETED OR ... X-GM-THRID t1
// X-GM-THRID t2 ..., the prefix form the OR key requires.
type searchThreadsCommand struct {
	thrids []uint64
}

func (cmd *searchThreadsCommand) Command() *imap.Command {
	args := []interface{}{imap.RawString("NOT"), imap.RawString("DELETED")}
	for i := 0; i < len(cmd.thrids)-1; i++ {
		args = append(args, imap.RawString("OR"))
	}
	for _, thrid := range cmd.thrids {
		args = append(args,
			imap.RawString("X-GM-THRID"),
			imap.RawString(strconv.FormatUint(thrid, 10)),
		)
	}
	return &imap.Command{Name: "SEARCH", Arguments: args}
}

// fieldUint64 coerces an extension attribute into a uint64. Values arrive
// untyped from the wire.
func fieldUint64(v interface{}) uint64 {
	switch val := v.(type) {
	case uint64:
		return val
	case uint32:
		return uint64(val)
	case int64:
		if val < 0 {
			return 0
		}
		return uint64(val)
	case int:
		if val < 0 {
			return 0
		}
		return uint64(val)
	case string:
		n, _ := strconv.ParseUint(val, 10, 64)
		return n
	case imap.RawString:
		n, _ := strconv.ParseUint(string(val), 10, 64)
		return n
	default:
		return 0
	}
}

// fieldStrings coerces a list attribute into a string slice.
func fieldStrings(v interface{}) []string {
	fields, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		switch val := f.(type) {
		case string:
			out = append(out, val)
		case imap.RawString:
			out = append(out, string(val))
		}
	}
	return out
}
