package imapclient

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"

	"github.com/emersion/go-imap-idle"
)

// Dialer opens authenticated connections to an IMAP server.
//
// A Dialer holds everything needed to open additional connections with the
// same settings, e.g. a dedicated connection for IDLE.
type Dialer struct {
	// Address of the server, as "host:port"
	Addr string
	// TLS enables implicit TLS
	TLS       bool
	TLSConfig *tls.Config

	// Credentials. If Username is empty, no authentication is performed.
	Username string
	Password string

	// Client identification sent with the ID command after authentication,
	// if set and supported by the server
	ID map[string]string

	// Options for new clients. May be nil.
	Options *Options

	// NetDial replaces net.Dial for unencrypted connections, if set
	NetDial func(network, addr string) (net.Conn, error)
}

// Dial opens a new connection, waits for the greeting and authenticates.
//
// AUTHENTICATE PLAIN is used when the server advertises it, LOGIN otherwise.
func (d *Dialer) Dial() (*Client, error) {
	conn, err := d.dialConn()
	if err != nil {
		return nil, fmt.Errorf("imapclient: dial %v: %w", d.Addr, err)
	}

	c := New(conn, d.Options)
	if err := c.WaitGreeting(); err != nil {
		c.Close()
		return nil, err
	}
	if c.State() == imap.ConnStateNotAuthenticated && d.Username != "" {
		if err := d.authenticate(c); err != nil {
			c.Close()
			return nil, err
		}
	}
	if d.ID != nil {
		if err := d.sendID(c); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (d *Dialer) authenticate(c *Client) error {
	caps, err := c.Caps()
	if err != nil {
		return err
	}
	if caps.Has(imap.CapAuthPlain) {
		return c.Authenticate(sasl.NewPlainClient("", d.Username, d.Password))
	} else if !caps.Has(imap.CapLoginDisabled) {
		return c.Login(d.Username, d.Password)
	}
	return fmt.Errorf("imapclient: no supported authentication mechanism")
}

func (d *Dialer) sendID(c *Client) error {
	caps, err := c.Caps()
	if err != nil {
		return err
	}
	if !caps.Has(imap.CapID) {
		return nil
	}
	_, err = c.ID(d.ID)
	return err
}

func (d *Dialer) dialConn() (net.Conn, error) {
	if d.TLS {
		return tls.Dial("tcp", d.Addr, d.TLSConfig)
	}
	dial := d.NetDial
	if dial == nil {
		dial = net.Dial
	}
	return dial("tcp", d.Addr)
}
