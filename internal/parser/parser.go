// Package parser provides RFC 5322 email message parsing with MIME multipart
// support and the summary derivation used by mailbox listings.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/maildeck/internal/email"
)

// DefaultSubject is used when a message carries no Subject header.
const DefaultSubject = "(No Subject)"

// Parse parses a raw RFC 5322 email message into an Email struct.
//
// Parts are visited depth-first in encoding order. Attachments are collected
// in the order they are encountered, so the same bytes always produce the same
// attachment indices. The first text/plain and text/html inline parts become
// the message bodies.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		if mr == nil || !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		slog.Warn("unknown charset in message header", "error", err)
	}

	result := &email.Email{
		RawHeaders: make(map[string][]string),
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		value, textErr := fields.Text()
		if textErr != nil {
			value = fields.Value()
		}
		result.RawHeaders[key] = append(result.RawHeaders[key], value)
	}

	result.From = formatFirstAddress(&mr.Header, "From")
	result.Sender = ResolveSender(&mr.Header)
	result.To = addressList(&mr.Header, "To")
	result.Cc = addressList(&mr.Header, "Cc")
	result.Bcc = addressList(&mr.Header, "Bcc")

	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	} else {
		result.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		result.Date = date
	}
	if id, err := mr.Header.MessageID(); err == nil {
		result.MessageID = id
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if part == nil || !message.IsUnknownCharset(err) {
				return nil, fmt.Errorf("failed to read next part: %w", err)
			}
			slog.Warn("unknown charset in MIME part", "error", err)
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("failed to read part content", "error", err)
			continue
		}

		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			mediaType, params, _ := h.ContentType()
			filename, _ := h.Filename()
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    fallbackFilename(filename, params, mediaType),
				ContentType: mediaTypeOrDefault(mediaType),
				Content:     content,
			})

		case *mail.InlineHeader:
			mediaType, params, err := h.ContentType()
			if err != nil || mediaType == "" {
				mediaType = "text/plain"
			}

			switch mediaType {
			case "text/plain":
				if result.TextBody == "" {
					result.TextBody = string(content)
				}
			case "text/html":
				if result.HtmlBody == "" {
					result.HtmlBody = string(content)
				}
			default:
				// Inline parts with a filename (embedded images and the like)
				// are addressable as attachments too.
				_, dispParams, _ := h.ContentDisposition()
				filename := dispParams["filename"]
				if filename == "" {
					filename = params["name"]
				}
				if filename == "" {
					slog.Debug("unrecognized MIME part, skipping", "content_type", mediaType)
					continue
				}
				result.Attachments = append(result.Attachments, email.Attachment{
					Filename:    filename,
					ContentType: mediaType,
					Content:     content,
				})
			}
		}
	}

	return result, nil
}

// Summarize parses raw and derives the listing entry for the object stored
// under key. lastModified is used when the message has no usable Date header.
func Summarize(key string, raw []byte, lastModified time.Time) (*email.Summary, error) {
	msg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	date := msg.Date
	if date.IsZero() {
		date = lastModified
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	infos := make([]email.AttachmentInfo, 0, len(msg.Attachments))
	for i, att := range msg.Attachments {
		infos = append(infos, email.AttachmentInfo{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        len(att.Content),
			Index:       i,
		})
	}

	return &email.Summary{
		ID:             key,
		From:           msg.From,
		To:             strings.Join(msg.To, ", "),
		Sender:         msg.Sender,
		Subject:        subject,
		Date:           date,
		Snippet:        Snippet(msg.TextBody, msg.HtmlBody),
		HtmlBody:       msg.HtmlBody,
		HasAttachments: len(infos) > 0,
		Attachments:    infos,
	}, nil
}

// ResolveSender returns the logical sender of a message: the SenderHeader
// value when present, otherwise the structural From address.
func ResolveSender(h *mail.Header) string {
	if v, err := h.Text(email.SenderHeader); err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(h.Get(email.SenderHeader)); v != "" {
		return v
	}
	return formatFirstAddress(h, "From")
}

// formatFirstAddress returns the first address of the given header formatted
// for display, falling back to the decoded raw header value.
func formatFirstAddress(h *mail.Header, key string) string {
	if list, err := h.AddressList(key); err == nil && len(list) > 0 {
		if list[0].Name == "" {
			return list[0].Address
		}
		return list[0].String()
	}
	if v, err := h.Text(key); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(h.Get(key))
}

// addressList extracts the bare addresses of a header. Unparseable lists fall
// back to a simple comma split.
func addressList(h *mail.Header, key string) []string {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addresses, err := h.AddressList(key)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}

// fallbackFilename picks a filename for an attachment, checking the
// Content-Type "name" parameter and finally deriving one from the media type.
func fallbackFilename(filename string, params map[string]string, mediaType string) string {
	if filename != "" {
		return filename
	}
	if name := params["name"]; name != "" {
		if decoded, err := new(mime.WordDecoder).DecodeHeader(name); err == nil {
			return decoded
		}
		return name
	}
	if parts := strings.SplitN(mediaType, "/", 2); len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}

func mediaTypeOrDefault(mediaType string) string {
	if mediaType == "" {
		return "application/octet-stream"
	}
	return mediaType
}
