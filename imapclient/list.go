package imapclient

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// List sends a LIST command.
//
// The reference name and the pattern are sent as-is, the pattern may contain
// the "*" and "%" wildcards.
func (c *Client) List(ref, pattern string) ([]imap.ListData, error) {
	var l []imap.ListData
	_, err := c.execute("LIST", func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(ref).SP().String(pattern)
	}, func(resp *response) (bool, error) {
		if resp.name != "LIST" {
			return false, nil
		}
		if !resp.dec.ExpectSP() {
			return true, resp.dec.Err()
		}
		data, err := readList(resp.dec)
		if err != nil {
			return true, fmt.Errorf("in LIST: %v", err)
		}
		l = append(l, *data)
		return true, nil
	})
	return l, err
}

func readList(dec *imapwire.Decoder) (*imap.ListData, error) {
	var data imap.ListData

	err := dec.ExpectList(func() error {
		attr, err := internal.ExpectFlag(dec)
		if err != nil {
			return err
		}
		data.Attrs = append(data.Attrs, imap.MailboxAttr(attr))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("in mbx-list-flags: %w", err)
	}

	if !dec.ExpectSP() {
		return nil, dec.Err()
	}

	data.Delim, err = readDelim(dec)
	if err != nil {
		return nil, err
	}

	if !dec.ExpectSP() || !dec.ExpectMailbox(&data.Mailbox) {
		return nil, dec.Err()
	}

	// Extended data items aren't requested, skip them if any
	if dec.SP() && !dec.DiscardValue() {
		return nil, dec.Err()
	}

	return &data, nil
}

func readDelim(dec *imapwire.Decoder) (rune, error) {
	var delimStr string
	if dec.Quoted(&delimStr) {
		delim, size := utf8.DecodeRuneInString(delimStr)
		if delim == utf8.RuneError || size != len(delimStr) {
			return 0, fmt.Errorf("mailbox delimiter must be a single rune")
		}
		return delim, nil
	}

	var atom string
	if !dec.ExpectAtom(&atom) {
		return 0, dec.Err()
	} else if !strings.EqualFold(atom, "NIL") {
		return 0, fmt.Errorf("expected NIL, got %q", atom)
	}
	return 0, nil
}
