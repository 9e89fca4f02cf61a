package mailbox

import (
	"strings"

	"github.com/shineum/maildeck/internal/apperr"
)

// Folder is a logical mailbox folder. Membership is encoded purely by key
// prefix: inbox messages live at root keys, the others under "<name>/".
type Folder string

const (
	Inbox Folder = "inbox"
	Sent  Folder = "sent"
	Trash Folder = "trash"
)

// Folders lists every folder in display order.
var Folders = []Folder{Inbox, Sent, Trash}

// ParseFolder maps a folder name onto a Folder.
func ParseFolder(name string) (Folder, error) {
	switch f := Folder(strings.ToLower(strings.TrimSpace(name))); f {
	case Inbox, Sent, Trash:
		return f, nil
	default:
		return "", apperr.Validationf("unknown folder %q", name)
	}
}

// Prefix returns the key prefix of the folder.
func (f Folder) Prefix() string {
	if f == Inbox {
		return ""
	}
	return string(f) + "/"
}

// delimiter returns the listing delimiter. The inbox lists only root keys so
// sub-folder keys are excluded.
func (f Folder) delimiter() string {
	if f == Inbox {
		return "/"
	}
	return ""
}

// Key returns the key for name inside the folder.
func (f Folder) Key(name string) string {
	return f.Prefix() + name
}
