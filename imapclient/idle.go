package imapclient

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap-idle"
)

// Idle sends an IDLE command.
//
// Unlike other commands, this method only blocks until the server
// acknowledges IDLE with a continuation request. On success, the IDLE command
// is running and other commands cannot be sent. Server updates can be read
// with ReadLine. The caller must invoke IdleCommand.Close to stop IDLE.
//
// This command requires support for IMAP4rev2 or the IDLE extension.
func (c *Client) Idle() (*IdleCommand, error) {
	c.setDeadline(c.options.commandTimeout())
	defer c.setDeadline(0)

	tag, _, err := c.beginCommand("IDLE", nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.waitResponse(tag, nil)
	if err != nil {
		return nil, err
	} else if resp.tag == tag {
		if err := statusError(resp.status); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("imapclient: IDLE completed before it was acknowledged")
	}

	cmd := &IdleCommand{client: c, tag: tag}
	c.idle = cmd
	return cmd, nil
}

// IdleCommand is an IDLE command.
//
// Initially, the IDLE command is running. The server may send unilateral
// data. The client cannot send any command while IDLE is running.
//
// Close must be called to stop the IDLE command.
type IdleCommand struct {
	client *Client
	tag    string
	closed bool
	done   bool
	err    error
}

// Close stops the IDLE command.
//
// This method blocks until the command to stop IDLE is written, but doesn't
// wait for the server to respond. Callers can use Wait for this purpose, the
// next command waits implicitly.
func (cmd *IdleCommand) Close() error {
	if cmd.closed {
		return fmt.Errorf("imapclient: IDLE command closed twice")
	}
	cmd.closed = true
	if cmd.done {
		return cmd.err
	}

	c := cmd.client
	if err := c.usable(); err != nil {
		return err
	}
	c.conn.SetWriteDeadline(deadline(c.options.commandTimeout()))
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.bw.WriteString("DONE\r\n"); err != nil {
		return c.fail(err)
	}
	if err := c.bw.Flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

// Wait blocks until the IDLE command has completed.
//
// Wait can only be called after Close.
func (cmd *IdleCommand) Wait() error {
	if !cmd.closed {
		return fmt.Errorf("imapclient: IdleCommand.Close must be called before Wait")
	}
	if cmd.done {
		return cmd.err
	}

	c := cmd.client
	for !cmd.done {
		resp, err := c.waitResponse(cmd.tag, nil)
		if err != nil {
			return err
		}
		if resp.tag == cmd.tag {
			cmd.complete(resp.status)
		}
	}
	return cmd.err
}

func (cmd *IdleCommand) complete(status *imap.StatusResponse) {
	cmd.done = true
	cmd.err = statusError(status)
	if cmd.client.idle == cmd {
		cmd.client.idle = nil
	}
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

// ReadLine returns the next response sent by the server, without the
// trailing CRLF.
//
// Unilateral responses queued while previous commands were running are
// returned first. Otherwise ReadLine blocks for at most wait, then returns
// ErrTimeout. A zero or negative wait blocks until a response is received.
// Timeouts don't break the connection: a partially received response is
// completed by the next call.
//
// ReadLine is typically used while IDLE is running.
func (c *Client) ReadLine(wait time.Duration) (string, error) {
	if len(c.unilateral) > 0 {
		line := c.unilateral[0]
		c.unilateral = c.unilateral[1:]
		return line, nil
	}

	if err := c.WaitGreeting(); err != nil {
		return "", err
	}
	if err := c.usable(); err != nil {
		return "", err
	}

	c.conn.SetReadDeadline(deadline(wait))
	defer c.conn.SetReadDeadline(time.Time{})

	raw, err := c.readRaw()
	if isTimeout(err) {
		return "", ErrTimeout
	} else if err != nil {
		return "", c.fail(err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return "", fmt.Errorf("imapclient: malformed response %q: %v", string(raw), err)
	}

	switch resp.tag {
	case "", "+":
		if resp.tag == "" {
			if err := c.handleUntagged(resp, false); err != nil {
				return "", fmt.Errorf("imapclient: malformed response %q: %v", resp.raw, err)
			}
		}
	default:
		c.applyCode(resp)
		if c.idle != nil && resp.tag == c.idle.tag {
			c.idle.complete(resp.status)
		}
	}
	return resp.raw, nil
}
