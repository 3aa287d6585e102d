package imapclient

import (
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Create sends a CREATE command.
func (c *Client) Create(mailbox string) error {
	return c.mailboxCommand("CREATE", mailbox)
}

// Delete sends a DELETE command.
func (c *Client) Delete(mailbox string) error {
	return c.mailboxCommand("DELETE", mailbox)
}

// Subscribe sends a SUBSCRIBE command.
func (c *Client) Subscribe(mailbox string) error {
	return c.mailboxCommand("SUBSCRIBE", mailbox)
}

// Unsubscribe sends an UNSUBSCRIBE command.
func (c *Client) Unsubscribe(mailbox string) error {
	return c.mailboxCommand("UNSUBSCRIBE", mailbox)
}

// Rename sends a RENAME command.
func (c *Client) Rename(mailbox, newName string) error {
	_, err := c.execute("RENAME", func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(mailbox).SP().Mailbox(newName)
	}, nil)
	return err
}

func (c *Client) mailboxCommand(name, mailbox string) error {
	_, err := c.execute(name, func(enc *imapwire.Encoder) {
		enc.SP().Mailbox(mailbox)
	}, nil)
	return err
}
