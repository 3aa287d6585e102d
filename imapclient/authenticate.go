package imapclient

import (
	"fmt"

	"github.com/emersion/go-sasl"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Login sends a LOGIN command.
func (c *Client) Login(username, password string) error {
	c.caps = nil // capabilities may change after authentication
	_, err := c.execute("LOGIN", func(enc *imapwire.Encoder) {
		enc.SP().String(username).SP().String(password)
	}, nil)
	if err != nil {
		return err
	}
	c.state = imap.ConnStateAuthenticated
	return nil
}

// Authenticate sends an AUTHENTICATE command.
//
// This method blocks until the SASL exchange completes.
func (c *Client) Authenticate(saslClient sasl.Client) error {
	mech, initialResp, err := saslClient.Start()
	if err != nil {
		return err
	}

	// c.Caps may send a CAPABILITY command, so check it before beginCommand
	var hasSASLIR bool
	if initialResp != nil {
		caps, err := c.Caps()
		if err != nil {
			return err
		}
		hasSASLIR = caps.Has(imap.CapSASLIR)
	}

	c.setDeadline(c.options.commandTimeout())
	defer c.setDeadline(0)

	c.caps = nil
	tag, _, err := c.beginCommand("AUTHENTICATE", func(enc *imapwire.Encoder) {
		enc.SP().Atom(mech)
		if initialResp != nil && hasSASLIR {
			enc.SP().Atom(internal.EncodeSASL(initialResp))
			initialResp = nil
		}
	}, nil)
	if err != nil {
		return err
	}

	var saslErr error
	for {
		resp, err := c.waitResponse(tag, nil)
		if err != nil {
			return err
		}
		if resp.tag == tag {
			if saslErr != nil {
				return saslErr
			}
			if err := statusError(resp.status); err != nil {
				return err
			}
			c.state = imap.ConnStateAuthenticated
			return nil
		}

		var out []byte
		if resp.text == "" {
			if initialResp == nil {
				// Abort the exchange, the server answers with a tagged BAD
				saslErr = fmt.Errorf("imapclient: server requested SASL initial response, but we don't have one")
				if err := c.writeSASLLine("*"); err != nil {
					return err
				}
				continue
			}
			out, initialResp = initialResp, nil
		} else {
			challenge, err := internal.DecodeSASL(resp.text)
			if err != nil {
				err = fmt.Errorf("imapclient: invalid SASL challenge: %w", err)
			} else {
				out, err = saslClient.Next(challenge)
			}
			if err != nil {
				saslErr = err
				if err := c.writeSASLLine("*"); err != nil {
					return err
				}
				continue
			}
		}

		if err := c.writeSASLLine(internal.EncodeSASL(out)); err != nil {
			return err
		}
	}
}

func (c *Client) writeSASLLine(s string) error {
	if _, err := c.bw.WriteString(s + "\r\n"); err != nil {
		return c.fail(err)
	}
	if err := c.bw.Flush(); err != nil {
		return c.fail(err)
	}
	return nil
}
