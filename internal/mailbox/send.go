package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/shineum/maildeck/internal/apperr"
	"github.com/shineum/maildeck/internal/email"
)

// Boundary is the multipart boundary of every message built by Send.
const Boundary = "----=_MailDeck_Part_0001"

// rawContentType is the content type stored with persisted messages.
const rawContentType = "message/rfc822"

// PersistWarning is reported when a message was dispatched but its copy
// could not be written to the sent folder.
const PersistWarning = "message was sent but could not be saved to the sent folder"

// SendRequest is a compose request. To, Cc and Bcc accept comma separated
// address lists.
type SendRequest struct {
	From        string
	To          string
	Cc          string
	Bcc         string
	Subject     string
	HtmlBody    string
	Attachments []email.Attachment
}

// SendResult reports a dispatched message. Persisted is false when the copy
// in the sent folder could not be written; the send itself still succeeded.
type SendResult struct {
	MessageID string
	Persisted bool
	Warning   string
}

// Send validates req, checks the sender against the sender policy, builds
// the MIME message, dispatches it once and stores the exact bytes under
// sent/<message id>.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	msg, err := composeEmail(req)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := s.callContext(ctx)
	allowed, err := s.senders.Allowed(checkCtx, msg.Sender)
	cancel()
	if err != nil {
		return nil, apperr.Upstreamf(err, "failed to resolve allowed senders")
	}
	if !allowed {
		return nil, apperr.Permissionf("sender %s is not allowed", msg.Sender)
	}

	raw, err := BuildRawMessage(msg, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	sendCtx, cancel := s.callContext(ctx)
	messageID, err := s.provider.Send(sendCtx, msg, raw)
	cancel()
	if err != nil {
		return nil, apperr.Upstreamf(err, "failed to send email via %s: %v", s.provider.Name(), err)
	}

	slog.Info("email sent",
		"provider", s.provider.Name(),
		"message_id", messageID,
		"sender", msg.Sender,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)

	result := &SendResult{MessageID: messageID, Persisted: true}

	putCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.store.Put(putCtx, Sent.Key(messageID), raw, rawContentType); err != nil {
		slog.Error("failed to persist sent message",
			"message_id", messageID,
			"error", err,
		)
		result.Persisted = false
		result.Warning = PersistWarning
	}

	return result, nil
}

// composeEmail validates req and converts it into the message to send.
func composeEmail(req SendRequest) (*email.Email, error) {
	var missing []string
	if strings.TrimSpace(req.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(req.To) == "" {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(req.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(req.HtmlBody) == "" {
		missing = append(missing, "html")
	}
	if len(missing) > 0 {
		return nil, apperr.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}

	from, err := mail.ParseAddress(strings.TrimSpace(req.From))
	if err != nil {
		return nil, apperr.Validationf("invalid from address %q", req.From)
	}

	to, err := parseAddressList("to", req.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseAddressList("cc", req.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddressList("bcc", req.Bcc)
	if err != nil {
		return nil, err
	}

	for i, att := range req.Attachments {
		if strings.TrimSpace(att.Filename) == "" {
			return nil, apperr.Validationf("attachment %d has no filename", i)
		}
	}

	return &email.Email{
		From:        formatAddress(from),
		Sender:      from.Address,
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Subject:     strings.TrimSpace(req.Subject),
		HtmlBody:    req.HtmlBody,
		Attachments: req.Attachments,
	}, nil
}

// parseAddressList parses a comma separated list into bare addresses.
func parseAddressList(field, value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	list, err := mail.ParseAddressList(value)
	if err != nil {
		return nil, apperr.Validationf("invalid %s address list %q", field, value)
	}

	result := make([]string, 0, len(list))
	for _, addr := range list {
		result = append(result, addr.Address)
	}
	return result, nil
}

func formatAddress(addr *mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return addr.String()
}

// BuildRawMessage constructs the multipart/mixed MIME message for msg: one
// quoted-printable HTML part followed by the attachments, base64 encoded in
// the given order. Bcc recipients are never written to the headers.
func BuildRawMessage(msg *email.Email, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	if msg.Sender != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", email.SenderHeader, msg.Sender)
	}
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", Boundary)

	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(Boundary); err != nil {
		return nil, fmt.Errorf("failed to set boundary: %w", err)
	}

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	bodyHeader.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(msg.HtmlBody)); err != nil {
		return nil, fmt.Errorf("failed to write body part: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write body part: %w", err)
	}

	for _, att := range msg.Attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", attachmentContentType(att))
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

func attachmentContentType(att email.Attachment) string {
	contentType := att.ContentType
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	} else {
		contentType = "application/octet-stream"
	}

	formatted := mime.FormatMediaType(contentType, map[string]string{"name": att.Filename})
	if formatted == "" {
		return mime.FormatMediaType("application/octet-stream", map[string]string{"name": att.Filename})
	}
	return formatted
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line
// breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
