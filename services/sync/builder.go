package sync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/lib/pq"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
	"github.com/inboxline/mailsync/internal/utils"
)

// blobUpload is one part payload headed for the blob store.
type blobUpload struct {
	key         string
	contentType string
	data        []byte
}

// materialized is one fetched message turned into rows plus pending blob
// uploads. Nothing is persisted yet; the download path uploads blobs first
// and commits rows after thread detection.
type materialized struct {
	message *models.Message
	item    *models.FolderItem
	blobs   []blobUpload
}

// materializeMessage parses one raw RFC822 message into a Message, its
// folder item for folderName, and the part payloads to upload. The message
// id is assigned here so parts and items can reference it before insert.
// Unparseable bodies degrade to a single message/rfc822 part.
func materializeMessage(account *models.Account, folderName string, raw *interfaces.RawMessage) *materialized {
	msg := &models.Message{
		ID:        utils.GenerateNanoIDWithPrefix("msg", 24),
		AccountID: account.ID,
		Size:      len(raw.Body),
	}
	if raw.GMsgID != 0 {
		msgid := raw.GMsgID
		msg.ProviderMsgID = &msgid
	}
	if raw.GThrID != 0 {
		thrid := raw.GThrID
		msg.ProviderThrID = &thrid
	}
	if !raw.InternalDate.IsZero() {
		internal := raw.InternalDate
		msg.SentAt = &internal
	}

	item := &models.FolderItem{
		AccountID:  account.ID,
		FolderName: folderName,
		UID:        raw.UID,
		MessageID:  msg.ID,
		Flags:      pq.StringArray(raw.Flags),
		Labels:     pq.StringArray(raw.Labels),
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil || envelope == nil {
		blobs := appendBodyPart(msg, nil, raw.Body, "message/rfc822", "")
		return &materialized{message: msg, item: item, blobs: blobs}
	}

	fillHeaders(msg, envelope)

	var blobs []blobUpload
	if envelope.Text != "" {
		blobs = appendBodyPart(msg, blobs, []byte(envelope.Text), "text/plain; charset=utf-8", "")
	}
	if envelope.HTML != "" {
		blobs = appendBodyPart(msg, blobs, []byte(envelope.HTML), "text/html; charset=utf-8", "")
	}
	for _, part := range envelope.Attachments {
		blobs = appendBodyPart(msg, blobs, part.Content, part.ContentType, part.FileName)
	}
	for _, part := range envelope.Inlines {
		blobs = appendBodyPart(msg, blobs, part.Content, part.ContentType, part.FileName)
	}
	if len(msg.Parts) == 0 && len(raw.Body) > 0 {
		blobs = appendBodyPart(msg, blobs, raw.Body, "message/rfc822", "")
	}

	return &materialized{message: msg, item: item, blobs: blobs}
}

func fillHeaders(msg *models.Message, envelope *enmime.Envelope) {
	headers := make(map[string]interface{})
	for _, key := range envelope.GetHeaderKeys() {
		values := envelope.GetHeaderValues(key)
		if len(values) > 0 {
			headers[key] = values
		}
	}
	msg.RawHeaders = models.JSONMap(headers)

	msg.Subject = envelope.GetHeader("Subject")
	msg.MessageID = utils.NormalizeMessageID(envelope.GetHeader("Message-Id"))
	msg.InReplyTo = utils.NormalizeMessageID(envelope.GetHeader("In-Reply-To"))

	var references []string
	for _, value := range envelope.GetHeaderValues("References") {
		for _, ref := range strings.Fields(value) {
			references = append(references, utils.NormalizeMessageID(ref))
		}
	}
	msg.References = pq.StringArray(references)

	msg.FromAddress = envelope.GetHeader("From")
	if addrs, err := envelope.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.FromAddress = addrs[0].Address
	}
	msg.ToAddresses = pq.StringArray(addressList(envelope, "To"))
	msg.CcAddresses = pq.StringArray(addressList(envelope, "Cc"))

	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		sent := date.UTC()
		msg.SentAt = &sent
	}
}

func addressList(envelope *enmime.Envelope, key string) []string {
	addrs, err := envelope.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Address)
	}
	return out
}

// appendBodyPart registers one MIME part on the message and queues its
// payload. Keys are the sha256 of the content, so identical payloads share
// one blob.
func appendBodyPart(msg *models.Message, blobs []blobUpload, content []byte, contentType, fileName string) []blobUpload {
	if len(content) == 0 {
		return blobs
	}
	key := blobKey(content)
	msg.Parts = append(msg.Parts, models.MessagePart{
		MessageID:   msg.ID,
		PartIndex:   len(msg.Parts),
		ContentType: contentType,
		FileName:    fileName,
		Size:        len(content),
		BlobKey:     key,
	})
	return append(blobs, blobUpload{key: key, contentType: contentType, data: content})
}

func blobKey(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
