// Package email defines the mail data model shared by the parser, the
// mailbox service and the HTTP layer.
package email

import "time"

// SenderHeader records the logical sender identity on messages built by the
// send pipeline. Outbound providers may rewrite the envelope From, so the
// parser prefers this header when resolving the sender.
const SenderHeader = "X-MailDeck-Sender"

// Email represents a fully parsed email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Sender      string
	Subject     string
	Date        time.Time
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AttachmentInfo describes an attachment without its content. Index is the
// zero-based position of the attachment in the parsed MIME structure and is
// the only handle used for later retrieval.
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Index       int    `json:"index"`
}

// Summary is the per-message entry of a mailbox view.
type Summary struct {
	ID             string           `json:"id"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Sender         string           `json:"sender"`
	Subject        string           `json:"subject"`
	Date           time.Time        `json:"date"`
	Snippet        string           `json:"snippet"`
	HtmlBody       string           `json:"htmlBody"`
	HasAttachments bool             `json:"hasAttachments"`
	Attachments    []AttachmentInfo `json:"attachments"`

	// Error is set on placeholder entries for objects that could not be
	// fetched or parsed.
	Error string `json:"error,omitempty"`
}

// MailboxView is the listing of one folder.
type MailboxView struct {
	Emails     []Summary `json:"emails"`
	TotalCount int       `json:"totalCount"`
}
