package imapidle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapclient"
)

// Transport is a dedicated connection used by a single session.
//
// Close may be called from another goroutine to interrupt a blocked ReadLine.
// All other methods are only called by the session owning the connection.
type Transport interface {
	// Select opens a mailbox.
	Select(mailbox string, readOnly bool) error
	// Selected returns the name of the selected mailbox, or "" if none.
	Selected() string
	// Idle sends IDLE and returns once the server has acknowledged it.
	Idle() error
	// Done sends DONE to stop IDLE.
	Done() error
	// ReadLine returns the next response line. If nothing was received
	// within wait, an error wrapping imapclient.ErrTimeout is returned.
	ReadLine(wait time.Duration) (string, error)
	// IsConnected reports whether the connection is open.
	IsConnected() bool
	// Fetch resolves a sequence number to a message. If the number no longer
	// maps to a message, the error wraps ErrMessageNotFound.
	Fetch(seqNum uint32) (*imap.Message, error)
	// Close releases the connection.
	Close() error
}

// healthReporter is implemented by transports exposing the state of the
// underlying stream.
type healthReporter interface {
	StreamHealth() imapclient.StreamHealth
}

// Owner opens dedicated connections to the account being monitored.
type Owner interface {
	// Caps returns the capabilities of the server.
	Caps() (imap.CapSet, error)
	// Dial opens a new authenticated connection.
	Dial() (Transport, error)
}

// ClientTransport is a Transport backed by an IMAP client.
type ClientTransport struct {
	client   *imapclient.Client
	idle     *imapclient.IdleCommand
	selected string
}

var _ Transport = (*ClientTransport)(nil)

// NewClientTransport wraps an IMAP client. The client must be authenticated.
func NewClientTransport(client *imapclient.Client) *ClientTransport {
	return &ClientTransport{client: client}
}

// Client returns the underlying IMAP client.
func (t *ClientTransport) Client() *imapclient.Client {
	return t.client
}

// Select opens a mailbox with SELECT, or EXAMINE if readOnly is set.
func (t *ClientTransport) Select(mailbox string, readOnly bool) error {
	t.selected = ""
	if _, err := t.client.Select(mailbox, &imap.SelectOptions{ReadOnly: readOnly}); err != nil {
		return err
	}
	t.selected = mailbox
	return nil
}

// Selected returns the mailbox opened by the last successful Select, or ""
// if none is selected anymore.
func (t *ClientTransport) Selected() string {
	if t.client.Mailbox() == nil {
		return ""
	}
	return t.selected
}

// Idle starts IDLE.
func (t *ClientTransport) Idle() error {
	if t.idle != nil {
		return fmt.Errorf("imapidle: IDLE already running")
	}
	idleCmd, err := t.client.Idle()
	if err != nil {
		return err
	}
	t.idle = idleCmd
	return nil
}

// Done stops IDLE started by Idle.
func (t *ClientTransport) Done() error {
	if t.idle == nil {
		return fmt.Errorf("imapidle: IDLE not running")
	}
	idleCmd := t.idle
	t.idle = nil
	return idleCmd.Close()
}

// ReadLine reads the next response line, waiting at most wait.
func (t *ClientTransport) ReadLine(wait time.Duration) (string, error) {
	return t.client.ReadLine(wait)
}

// IsConnected reports whether the client connection is still open.
func (t *ClientTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// StreamHealth returns the health of the underlying stream.
func (t *ClientTransport) StreamHealth() imapclient.StreamHealth {
	return t.client.StreamHealth()
}

// Fetch fetches a message by sequence number. NO responses and empty
// results are reported as ErrMessageNotFound.
func (t *ClientTransport) Fetch(seqNum uint32) (*imap.Message, error) {
	msg, err := t.client.Fetch(seqNum)
	var imapErr *imap.Error
	if errors.Is(err, imapclient.ErrNoSuchMessage) || errors.As(err, &imapErr) {
		return nil, fmt.Errorf("%w: %v", ErrMessageNotFound, err)
	}
	return msg, err
}

// Close closes the client connection.
func (t *ClientTransport) Close() error {
	return t.client.Close()
}

// DialerOwner is an Owner opening connections with an imapclient.Dialer.
//
// Capabilities are read from Client, the primary connection of the
// application, if set. Otherwise they are fetched once over a short-lived
// connection.
type DialerOwner struct {
	Dialer *imapclient.Dialer
	Client *imapclient.Client

	mu   sync.Mutex
	caps imap.CapSet
}

var _ Owner = (*DialerOwner)(nil)

// NewDialerOwner creates an Owner from a dialer. client may be nil.
func NewDialerOwner(dialer *imapclient.Dialer, client *imapclient.Client) *DialerOwner {
	return &DialerOwner{Dialer: dialer, Client: client}
}

// Caps returns the server capabilities. Without a primary Client, the first
// call dials, reads the capabilities and logs out.
func (o *DialerOwner) Caps() (imap.CapSet, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.Client != nil {
		return o.Client.Caps()
	}
	if o.caps != nil {
		return o.caps, nil
	}

	client, err := o.Dialer.Dial()
	if err != nil {
		return nil, err
	}
	defer client.Logout()
	caps, err := client.Caps()
	if err != nil {
		return nil, err
	}
	o.caps = caps
	return caps, nil
}

// Dial opens a new connection with the dialer.
func (o *DialerOwner) Dial() (Transport, error) {
	client, err := o.Dialer.Dial()
	if err != nil {
		return nil, err
	}
	return NewClientTransport(client), nil
}
