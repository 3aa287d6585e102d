package imap

import (
	"strings"
)

// ListData is the mailbox data returned by a LIST command.
type ListData struct {
	Attrs []MailboxAttr
	// Hierarchy delimiter, zero if the server has none
	Delim   rune
	Mailbox string
}

// HasAttr checks whether the mailbox has the given attribute.
// Attributes are compared case-insensitively.
func (data *ListData) HasAttr(attr MailboxAttr) bool {
	for _, a := range data.Attrs {
		if strings.EqualFold(string(a), string(attr)) {
			return true
		}
	}
	return false
}
