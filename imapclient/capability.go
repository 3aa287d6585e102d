package imapclient

import (
	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

// Capability sends a CAPABILITY command.
func (c *Client) Capability() (imap.CapSet, error) {
	var caps imap.CapSet
	_, err := c.execute("CAPABILITY", nil, func(resp *response) (bool, error) {
		if resp.name != "CAPABILITY" {
			return false, nil
		}
		var err error
		caps, err = readCapabilities(resp.dec)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if caps == nil {
		caps = imap.CapSet{}
	}
	c.caps = caps
	return caps, nil
}

// Caps returns the capabilities advertised by the server.
//
// When the server has sent an unsolicited capability list, this method
// returns it. Otherwise a CAPABILITY command is sent.
func (c *Client) Caps() (imap.CapSet, error) {
	if err := c.WaitGreeting(); err != nil {
		return nil, err
	}
	if c.caps != nil {
		return c.caps, nil
	}
	return c.Capability()
}

func readCapabilities(dec *imapwire.Decoder) (imap.CapSet, error) {
	caps := make(imap.CapSet)
	for dec.SP() {
		var name string
		if !dec.ExpectAtom(&name) {
			return caps, dec.Err()
		}
		caps[imap.Cap(name)] = struct{}{}
	}
	return caps, nil
}
