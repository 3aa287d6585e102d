package imapclient

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

func statusItems(options *imap.StatusOptions) []string {
	m := []struct {
		enabled bool
		item    string
	}{
		{options.NumMessages, "MESSAGES"},
		{options.UIDNext, "UIDNEXT"},
		{options.UIDValidity, "UIDVALIDITY"},
		{options.NumUnseen, "UNSEEN"},
	}

	var l []string
	for _, entry := range m {
		if entry.enabled {
			l = append(l, entry.item)
		}
	}
	return l
}

// Status sends a STATUS command.
//
// A nil options pointer is equivalent to requesting the number of messages.
func (c *Client) Status(mailbox string, options *imap.StatusOptions) (*imap.StatusData, error) {
	if options == nil {
		options = &imap.StatusOptions{NumMessages: true}
	}
	items := statusItems(options)
	if len(items) == 0 {
		return nil, fmt.Errorf("imapclient: no STATUS item requested")
	}

	var data *imap.StatusData
	_, err := c.execute("STATUS", func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(mailbox).SP().List(len(items), func(i int) {
			enc.Atom(items[i])
		})
	}, func(resp *response) (bool, error) {
		if resp.name != "STATUS" {
			return false, nil
		}
		d, err := readStatus(resp.dec)
		if err != nil {
			return true, err
		}
		data = d
		return true, nil
	})
	if err != nil {
		return nil, err
	} else if data == nil {
		return nil, fmt.Errorf("imapclient: server didn't send STATUS data for %q", mailbox)
	}
	return data, nil
}

func readStatus(dec *imapwire.Decoder) (*imap.StatusData, error) {
	var data imap.StatusData
	if !dec.ExpectSP() || !dec.ExpectMailbox(&data.Mailbox) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	err := dec.ExpectList(func() error {
		var name string
		if !dec.ExpectAtom(&name) || !dec.ExpectSP() {
			return dec.Err()
		}

		var num uint32
		if !dec.ExpectNumber(&num) {
			return dec.Err()
		}

		switch strings.ToUpper(name) {
		case "MESSAGES":
			data.NumMessages = &num
		case "UIDNEXT":
			data.UIDNext = imap.UID(num)
		case "UIDVALIDITY":
			data.UIDValidity = num
		case "UNSEEN":
			data.NumUnseen = &num
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("in status-att-list: %w", err)
	}
	return &data, nil
}
