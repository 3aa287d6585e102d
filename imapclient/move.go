package imapclient

import (
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Move sends a MOVE command for a single message, identified by its sequence
// number.
//
// This command requires support for IMAP4rev2 or the MOVE extension.
func (c *Client) Move(seqNum uint32, mailbox string) error {
	_, err := c.execute("MOVE", func(enc *imapwire.Encoder) {
		enc.SP().Number(seqNum).SP().Mailbox(mailbox)
	}, func(resp *response) (bool, error) {
		if resp.name != "EXPUNGE" || resp.num != seqNum {
			return false, nil
		}
		c.handleExpunge()
		return true, nil
	})
	return err
}

