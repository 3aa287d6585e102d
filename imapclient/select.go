package imapclient

import (
	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Select sends a SELECT or EXAMINE command.
//
// A nil options pointer is equivalent to a zero options value.
func (c *Client) Select(mailbox string, options *imap.SelectOptions) (*imap.SelectData, error) {
	cmdName := "SELECT"
	if options != nil && options.ReadOnly {
		cmdName = "EXAMINE"
	}

	var data imap.SelectData
	completion, err := c.execute(cmdName, func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(mailbox)
	}, func(resp *response) (bool, error) {
		switch resp.name {
		case "FLAGS":
			if !resp.dec.ExpectSP() {
				return true, resp.dec.Err()
			}
			flags, err := internal.ExpectFlagList(resp.dec)
			data.Flags = flags
			return true, err
		case "EXISTS":
			data.NumMessages = resp.num
			return true, nil
		case "RECENT":
			return true, nil
		case "OK":
			if resp.status == nil {
				return false, nil
			}
			switch resp.status.Code {
			case imap.ResponseCodePermanentFlags:
				data.PermanentFlags = resp.codeFlags
			case imap.ResponseCodeUIDNext:
				data.UIDNext = imap.UID(resp.codeNum)
			case imap.ResponseCodeUIDValidity:
				data.UIDValidity = resp.codeNum
			default:
				return false, nil
			}
			return true, nil
		}
		return false, nil
	})

	// A failed SELECT leaves the client without any selected mailbox
	c.mailbox = nil
	if c.state == imap.ConnStateSelected {
		c.state = imap.ConnStateAuthenticated
	}
	if err != nil {
		return nil, err
	}

	data.ReadOnly = completion.status.Code == imap.ResponseCodeReadOnly || cmdName == "EXAMINE"
	c.state = imap.ConnStateSelected
	c.mailbox = &SelectedMailbox{
		Name:           mailbox,
		NumMessages:    data.NumMessages,
		Flags:          data.Flags,
		PermanentFlags: data.PermanentFlags,
		ReadOnly:       data.ReadOnly,
	}
	return &data, nil
}

// Unselect sends an UNSELECT command.
//
// This command requires support for IMAP4rev2 or the UNSELECT extension.
func (c *Client) Unselect() error {
	if _, err := c.execute("UNSELECT", nil, nil); err != nil {
		return err
	}
	c.mailbox = nil
	c.state = imap.ConnStateAuthenticated
	return nil
}
