package imapclient

import (
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Copy sends a COPY command for a single message, identified by its sequence
// number.
func (c *Client) Copy(seqNum uint32, mailbox string) error {
	_, err := c.execute("COPY", func(enc *imapwire.Encoder) {
		enc.SP().Number(seqNum).SP().Mailbox(mailbox)
	}, nil)
	return err
}
