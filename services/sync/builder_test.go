package sync

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxline/mailsync/interfaces"
)

func multipartBody() []byte {
	lines := []string{
		"From: Alice Smith <alice@example.com>",
		"To: bob@example.com, Carol <carol@example.com>",
		"Cc: dave@example.com",
		"Subject: Re: Hello",
		"Message-Id: <m1@example.com>",
		"In-Reply-To: <m0@example.com>",
		"References: <m-1@example.com> <m0@example.com>",
		"Date: Mon, 02 Jan 2023 15:04:05 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="MIXED"`,
		"",
		"--MIXED",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello there",
		"--MIXED",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="doc.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--MIXED--",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func TestMaterializeMessage_ParsesMultipart(t *testing.T) {
	// Arrange
	account := gmailAccount()
	body := multipartBody()
	internal := time.Date(2022, 12, 31, 8, 0, 0, 0, time.UTC)
	raw := &interfaces.RawMessage{
		UID:          42,
		Flags:        []string{"\\Seen"},
		Labels:       []string{"\\Important"},
		Body:         body,
		GMsgID:       1001,
		GThrID:       91,
		InternalDate: internal,
	}

	// Act
	m := materializeMessage(account, "INBOX", raw)

	// Assert
	msg := m.message
	assert.True(t, strings.HasPrefix(msg.ID, "msg_"))
	assert.Equal(t, account.ID, msg.AccountID)
	require.NotNil(t, msg.ProviderMsgID)
	assert.Equal(t, uint64(1001), *msg.ProviderMsgID)
	require.NotNil(t, msg.ProviderThrID)
	assert.Equal(t, uint64(91), *msg.ProviderThrID)

	assert.Equal(t, "Re: Hello", msg.Subject)
	assert.Equal(t, "m1@example.com", msg.MessageID)
	assert.Equal(t, "m0@example.com", msg.InReplyTo)
	assert.Equal(t, []string{"m-1@example.com", "m0@example.com"}, []string(msg.References))
	assert.Equal(t, "alice@example.com", msg.FromAddress)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, []string(msg.ToAddresses))
	assert.Equal(t, []string{"dave@example.com"}, []string(msg.CcAddresses))
	assert.NotEmpty(t, msg.RawHeaders)
	assert.Equal(t, len(body), msg.Size)

	// the Date header wins over the fetched internal date
	require.NotNil(t, msg.SentAt)
	assert.Equal(t, time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC), msg.SentAt.UTC())

	require.Len(t, msg.Parts, 2)
	text := msg.Parts[0]
	assert.Equal(t, 0, text.PartIndex)
	assert.Equal(t, "text/plain; charset=utf-8", text.ContentType)
	assert.Equal(t, msg.ID, text.MessageID)
	attachment := msg.Parts[1]
	assert.Equal(t, 1, attachment.PartIndex)
	assert.Equal(t, "application/pdf", attachment.ContentType)
	assert.Equal(t, "doc.pdf", attachment.FileName)

	// blobs address by content hash and line up with the parts
	require.Len(t, m.blobs, 2)
	assert.Equal(t, blobKey([]byte("Hello there")), text.BlobKey)
	assert.Equal(t, text.BlobKey, m.blobs[0].key)
	assert.Equal(t, []byte("Hello there"), m.blobs[0].data)
	assert.Equal(t, blobKey([]byte("%PDF-1.4\n")), attachment.BlobKey)
	assert.Equal(t, []byte("%PDF-1.4\n"), m.blobs[1].data)
	assert.Equal(t, len("%PDF-1.4\n"), attachment.Size)

	item := m.item
	assert.Equal(t, "INBOX", item.FolderName)
	assert.Equal(t, uint32(42), item.UID)
	assert.Equal(t, msg.ID, item.MessageID)
	assert.Equal(t, []string{"\\Seen"}, []string(item.Flags))
	assert.Equal(t, []string{"\\Important"}, []string(item.Labels))
}

func TestMaterializeMessage_UnparseableBodyDegradesToSinglePart(t *testing.T) {
	// Arrange
	account := genericAccount()
	raw := &interfaces.RawMessage{
		UID:  7,
		Body: []byte("\x00\x01\x02 not a mime message"),
	}

	// Act
	m := materializeMessage(account, "INBOX", raw)

	// Assert
	require.Len(t, m.message.Parts, 1)
	part := m.message.Parts[0]
	assert.Equal(t, "message/rfc822", part.ContentType)
	assert.Equal(t, len(raw.Body), part.Size)
	require.Len(t, m.blobs, 1)
	assert.Equal(t, raw.Body, m.blobs[0].data)
	assert.Equal(t, blobKey(raw.Body), part.BlobKey)
	assert.Empty(t, m.message.Subject)
}

func TestMaterializeMessage_PlainIMAPLeavesProviderIDsNil(t *testing.T) {
	account := genericAccount()
	raw := &interfaces.RawMessage{UID: 1, Body: testBody(1)}

	m := materializeMessage(account, "INBOX", raw)

	assert.Nil(t, m.message.ProviderMsgID)
	assert.Nil(t, m.message.ProviderThrID)
	assert.Equal(t, "Message 1", m.message.Subject)
	assert.Equal(t, "msg-1@example.com", m.message.MessageID)
}
