// Package imapclient implements a synchronous IMAP client.
//
// # Commands
//
// Commands are exposed as methods on Client. Each method writes the command,
// then blocks until the server sends the tagged completion response. Errors
// caused by a NO or BAD status response are returned as *imap.Error and leave
// the connection usable. Other errors (I/O errors, malformed responses,
// command timeouts) break the connection.
//
// # Unilateral data
//
// Servers may send mailbox updates (EXISTS, EXPUNGE, RECENT, FETCH) at any
// time. Updates received while a command is running are queued and returned
// first by ReadLine, so that callers monitoring a mailbox don't miss them.
//
// # Concurrency
//
// A Client is not safe for concurrent use, with the exception of Close which
// may be called from any goroutine to interrupt a blocked read.
package imapclient

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/internal"
	"github.com/emersion/go-imap-idle/internal/imapwire"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	defaultMaxLiteralSize = 64 * 1024 * 1024
	defaultMaxUnilateral  = 1024
)

var (
	// ErrTimeout is returned by ReadLine when no data was received before
	// the wait expired. The connection stays usable.
	ErrTimeout = errors.New("imapclient: read timed out")
	// ErrClosed is returned when the client has been closed.
	ErrClosed = errors.New("imapclient: connection closed")
	// ErrIdling is returned when a command is sent while IDLE is running.
	ErrIdling = errors.New("imapclient: IDLE is running")
	// ErrNoSuchMessage is returned by Fetch when the server didn't return
	// the requested message.
	ErrNoSuchMessage = errors.New("imapclient: no such message")
)

// Options contains options for Client.
type Options struct {
	// Raw ingress and egress data will be written to this writer, if any
	DebugWriter io.Writer
	// Logger receives protocol-level diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger
	// TLSConfig is used by DialTLS
	TLSConfig *tls.Config
	// CommandTimeout bounds the time spent writing a command and waiting for
	// its completion. Zero means two minutes, a negative value disables the
	// timeout.
	CommandTimeout time.Duration
	// MaxLiteralSize is the largest literal accepted from the server. Zero
	// means 64 MiB.
	MaxLiteralSize int64
	// MaxUnilateral is the number of queued unilateral responses kept before
	// the oldest ones are dropped. Zero means 1024.
	MaxUnilateral int
}

func (options *Options) wrapReadWriter(rw io.ReadWriter) io.ReadWriter {
	if options.DebugWriter == nil {
		return rw
	}
	return struct {
		io.Reader
		io.Writer
	}{
		Reader: io.TeeReader(rw, options.DebugWriter),
		Writer: io.MultiWriter(rw, options.DebugWriter),
	}
}

func (options *Options) logger() *zerolog.Logger {
	if options.Logger != nil {
		return options.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (options *Options) commandTimeout() time.Duration {
	if options.CommandTimeout == 0 {
		return defaultCommandTimeout
	}
	return options.CommandTimeout
}

func (options *Options) maxLiteralSize() int64 {
	if options.MaxLiteralSize <= 0 {
		return defaultMaxLiteralSize
	}
	return options.MaxLiteralSize
}

func (options *Options) maxUnilateral() int {
	if options.MaxUnilateral <= 0 {
		return defaultMaxUnilateral
	}
	return options.MaxUnilateral
}

// StreamHealth describes the health of the underlying stream.
type StreamHealth struct {
	// TimedOut is set when a command didn't complete before CommandTimeout.
	TimedOut bool
	// EOF is set when the server closed the connection.
	EOF bool
}

// SelectedMailbox contains metadata for the currently selected mailbox.
type SelectedMailbox struct {
	Name           string
	NumMessages    uint32
	Flags          []imap.Flag
	PermanentFlags []imap.Flag
	ReadOnly       bool
}

func (mbox *SelectedMailbox) copy() *SelectedMailbox {
	cp := *mbox
	return &cp
}

// Client is an IMAP client.
type Client struct {
	conn    net.Conn
	options Options
	log     *zerolog.Logger
	br      *bufio.Reader
	bw      *bufio.Writer

	cmdTag     uint64
	greeted    bool
	err        error
	state      imap.ConnState
	caps       imap.CapSet
	mailbox    *SelectedMailbox
	idle       *IdleCommand
	unilateral []string

	// Partially read response, kept across read timeouts
	partial     []byte
	segStart    int
	literalLeft int64

	closed   atomic.Bool
	eof      atomic.Bool
	timedOut atomic.Bool
}

// New creates a new IMAP client.
//
// This function doesn't perform I/O. The server greeting is read by the first
// command, or explicitly with WaitGreeting.
//
// A nil options pointer is equivalent to a zero options value.
func New(conn net.Conn, options *Options) *Client {
	if options == nil {
		options = &Options{}
	}

	rw := options.wrapReadWriter(conn)
	return &Client{
		conn:    conn,
		options: *options,
		log:     options.logger(),
		br:      bufio.NewReader(rw),
		bw:      bufio.NewWriter(rw),
		state:   imap.ConnStateNone,
	}
}

// Dial connects to an IMAP server without encryption.
func Dial(address string, options *Options) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// DialTLS connects to an IMAP server with implicit TLS.
func DialTLS(address string, options *Options) (*Client, error) {
	var tlsConfig *tls.Config
	if options != nil {
		tlsConfig = options.TLSConfig
	}
	conn, err := tls.Dial("tcp", address, tlsConfig)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// Close immediately closes the connection.
//
// Close is safe to call from any goroutine.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// State returns the current connection state.
func (c *Client) State() imap.ConnState {
	return c.state
}

// Mailbox returns the state of the currently selected mailbox.
//
// If there is no currently selected mailbox, nil is returned.
func (c *Client) Mailbox() *SelectedMailbox {
	if c.state != imap.ConnStateSelected || c.mailbox == nil {
		return nil
	}
	return c.mailbox.copy()
}

// IsConnected reports whether the connection is still open.
//
// A connection which has hit EOF or a command timeout is still reported as
// connected, see StreamHealth.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.state != imap.ConnStateLogout
}

// StreamHealth returns the health of the underlying stream.
func (c *Client) StreamHealth() StreamHealth {
	return StreamHealth{
		TimedOut: c.timedOut.Load(),
		EOF:      c.eof.Load(),
	}
}

// fail marks the connection as broken.
func (c *Client) fail(err error) error {
	switch {
	case isTimeout(err):
		c.timedOut.Store(true)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		c.eof.Store(true)
	default:
		c.closed.Store(true)
	}
	if c.err == nil {
		c.err = fmt.Errorf("imapclient: connection broken: %w", err)
	}
	c.conn.Close()
	return c.err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) setDeadline(d time.Duration) {
	c.conn.SetDeadline(deadline(d))
}

func (c *Client) usable() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.err
}

// WaitGreeting waits for the server's initial greeting.
func (c *Client) WaitGreeting() error {
	if c.greeted {
		return nil
	}
	c.setDeadline(c.options.commandTimeout())
	defer c.setDeadline(0)
	return c.waitGreeting()
}

func (c *Client) waitGreeting() error {
	if c.greeted {
		return nil
	}
	if err := c.usable(); err != nil {
		return err
	}

	raw, err := c.readRaw()
	if err != nil {
		return c.fail(err)
	}
	resp, err := parseResponse(raw)
	if err != nil {
		return c.fail(err)
	}
	if resp.tag != "" || resp.status == nil {
		return c.fail(fmt.Errorf("unexpected greeting %q", resp.raw))
	}

	c.greeted = true
	c.applyCode(resp)
	switch resp.status.Type {
	case imap.StatusResponseTypeOK:
		c.state = imap.ConnStateNotAuthenticated
	case imap.StatusResponseTypePreAuth:
		c.state = imap.ConnStateAuthenticated
	case imap.StatusResponseTypeBye:
		c.state = imap.ConnStateLogout
		return (*imap.Error)(resp.status)
	default:
		return c.fail(fmt.Errorf("unexpected greeting %q", resp.raw))
	}
	return nil
}

// prepare checks that a new command can be sent. A closed IDLE command is
// drained first.
func (c *Client) prepare() error {
	if err := c.waitGreeting(); err != nil {
		return err
	}
	if err := c.usable(); err != nil {
		return err
	}
	if c.idle != nil {
		if !c.idle.closed {
			return ErrIdling
		}
		if err := c.idle.Wait(); err != nil {
			if err := c.usable(); err != nil {
				return err
			}
			c.log.Debug().Err(err).Msg("IDLE completed with an error")
		}
	}
	return nil
}

// responseHandler is called for each untagged response received while a
// command is running. It returns true if it consumed the response.
type responseHandler func(resp *response) (bool, error)

// beginCommand writes a command and flushes it. encode writes the command
// arguments and may be nil.
//
// The returned status is non-nil if the server rejected the command while a
// synchronizing literal was being sent.
func (c *Client) beginCommand(name string, encode func(enc *imapwire.Encoder), handle responseHandler) (tag string, status *imap.StatusResponse, err error) {
	if err := c.prepare(); err != nil {
		return "", nil, err
	}

	c.cmdTag++
	tag = fmt.Sprintf("T%v", c.cmdTag)

	enc := imapwire.NewEncoder(c.bw, imapwire.ConnSideClient)
	enc.LiteralPlus = c.caps.Has(imap.CapLiteralPlus)
	enc.WaitContinuation = func() error {
		resp, err := c.waitResponse(tag, handle)
		if err != nil {
			return err
		}
		if resp.tag == tag {
			status = resp.status
			return statusError(status)
		}
		return nil
	}

	enc.Atom(tag).SP().Atom(name)
	if encode != nil {
		encode(enc)
	}
	if err := enc.CRLF(); err != nil {
		if status != nil {
			return tag, status, nil
		}
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return tag, nil, err
		}
		return tag, nil, c.fail(err)
	}
	return tag, nil, nil
}

// execute sends a command and waits for its completion.
//
// The returned response is the tagged completion.
func (c *Client) execute(name string, encode func(enc *imapwire.Encoder), handle responseHandler) (*response, error) {
	c.setDeadline(c.options.commandTimeout())
	defer c.setDeadline(0)

	tag, status, err := c.beginCommand(name, encode, handle)
	if err != nil {
		return nil, err
	} else if status != nil {
		return &response{tag: tag, status: status}, statusError(status)
	}

	for {
		resp, err := c.waitResponse(tag, handle)
		if err != nil {
			return nil, err
		}
		if resp.tag == tag {
			return resp, statusError(resp.status)
		}
		c.log.Debug().Str("tag", tag).Msg("ignoring unexpected continuation request")
	}
}

// waitResponse reads responses until the tagged completion for tag or a
// continuation request is received.
func (c *Client) waitResponse(tag string, handle responseHandler) (*response, error) {
	for {
		raw, err := c.readRaw()
		if err != nil {
			return nil, c.fail(err)
		}
		resp, err := parseResponse(raw)
		if err != nil {
			return nil, c.fail(err)
		}

		switch resp.tag {
		case tag, "+":
			c.applyCode(resp)
			return resp, nil
		case "":
			if handle != nil {
				ok, err := handle(resp)
				if err != nil {
					return nil, c.fail(fmt.Errorf("in %v response: %w", resp.name, err))
				} else if ok {
					continue
				}
			}
			if err := c.handleUntagged(resp, true); err != nil {
				return nil, c.fail(err)
			}
		default:
			if c.idle != nil && resp.tag == c.idle.tag {
				c.idle.complete(resp.status)
				continue
			}
			c.log.Warn().Str("tag", resp.tag).Msg("received response for unknown tag")
		}
	}
}

// handleUntagged applies the default processing to an untagged response.
// Mailbox updates are queued for ReadLine if queue is set.
func (c *Client) handleUntagged(resp *response, queue bool) error {
	switch resp.name {
	case "OK", "NO", "BAD":
		c.applyCode(resp)
		if resp.status.Code == imap.ResponseCodeAlert {
			c.log.Warn().Str("text", resp.status.Text).Msg("server alert")
		}
	case "BYE":
		c.state = imap.ConnStateLogout
	case "CAPABILITY":
		caps, err := readCapabilities(resp.dec)
		if err != nil {
			return err
		}
		c.caps = caps
	case "FLAGS":
		if !resp.dec.ExpectSP() {
			return resp.dec.Err()
		}
		flags, err := internal.ExpectFlagList(resp.dec)
		if err != nil {
			return err
		}
		if c.mailbox != nil {
			c.mailbox.Flags = flags
		}
	case "EXISTS":
		if c.mailbox != nil {
			c.mailbox.NumMessages = resp.num
		}
		c.queueUnilateral(resp, queue)
	case "EXPUNGE":
		if c.mailbox != nil && c.mailbox.NumMessages > 0 {
			c.mailbox.NumMessages--
		}
		c.queueUnilateral(resp, queue)
	case "RECENT", "FETCH":
		c.queueUnilateral(resp, queue)
	default:
		c.log.Debug().Str("name", resp.name).Msg("ignoring untagged response")
	}
	return nil
}

func (c *Client) queueUnilateral(resp *response, queue bool) {
	if !queue {
		return
	}
	if max := c.options.maxUnilateral(); len(c.unilateral) >= max {
		dropped := len(c.unilateral) - max + 1
		c.log.Warn().Int("dropped", dropped).Msg("unilateral response queue full")
		c.unilateral = c.unilateral[dropped:]
	}
	c.unilateral = append(c.unilateral, resp.raw)
}

// applyCode updates the client state from a status response code.
func (c *Client) applyCode(resp *response) {
	if resp.status == nil {
		return
	}
	switch resp.status.Code {
	case imap.ResponseCodeCapability:
		c.caps = resp.codeCaps
	case imap.ResponseCodePermanentFlags:
		if c.mailbox != nil {
			c.mailbox.PermanentFlags = resp.codeFlags
		}
	}
	if resp.status.Type == imap.StatusResponseTypeBye {
		c.state = imap.ConnStateLogout
	}
}

func statusError(status *imap.StatusResponse) error {
	if status == nil || status.Type == imap.StatusResponseTypeOK {
		return nil
	}
	return (*imap.Error)(status)
}

// Noop sends a NOOP command.
func (c *Client) Noop() error {
	_, err := c.execute("NOOP", nil, nil)
	return err
}

// Logout sends a LOGOUT command and closes the connection.
func (c *Client) Logout() error {
	_, err := c.execute("LOGOUT", nil, nil)
	c.state = imap.ConnStateLogout
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}
