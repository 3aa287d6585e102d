// Package imapidle monitors IMAP mailboxes for new messages with IDLE.
//
// A Watcher runs monitoring sessions. Each call to Monitor opens a dedicated
// connection, selects the mailbox and waits for the server to report
// changes. Changed messages are fetched and handed to a callback, then
// published on the Watcher's EventBus.
//
// Sessions end when the connection fails, when no change is detected before
// the configured timeout, or when they reach MaxSessionDuration. Monitor then
// returns an *Error describing why. Callers are expected to start a new
// session:
//
//	for {
//		err := w.Monitor("INBOX", 5*time.Minute, handle)
//		if errors.Is(err, imapidle.ErrClosed) || errors.Is(err, imapidle.ErrCapabilityMissing) {
//			break
//		}
//	}
package imapidle

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
)

const defaultReadWait = 10 * time.Second

// Options contains options for a Watcher.
type Options struct {
	// Logger receives session diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger
	// NumKind is the numbering mode reported in Message.Kind. Defaults to
	// imap.NumKindSeq.
	NumKind imap.NumKind
	// ReadOnly opens mailboxes with EXAMINE instead of SELECT.
	ReadOnly bool
	// ReadWait bounds each read on the dedicated connection. Defaults to
	// 10 seconds.
	ReadWait time.Duration
	// OnDispatchError is called when a changed message couldn't be
	// delivered. Such failures never end the session.
	OnDispatchError func(seqNum uint32, err error)
	// Flag is updated while IDLE is running. If nil, the Watcher allocates
	// its own flag.
	Flag *ActiveFlag
	// Bus receives message events. If nil, the Watcher allocates its own
	// bus.
	Bus *EventBus
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (options *Options) numKind() imap.NumKind {
	if options.NumKind == 0 {
		return imap.NumKindSeq
	}
	return options.NumKind
}

func (options *Options) readWait() time.Duration {
	if options.ReadWait > 0 {
		return options.ReadWait
	}
	return defaultReadWait
}

// Watcher runs IDLE monitoring sessions against an account.
//
// Monitor may be called concurrently: each session uses its own connection.
type Watcher struct {
	owner   Owner
	options Options
	log     zerolog.Logger
	flag    *ActiveFlag
	bus     *EventBus

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

// New creates a new Watcher.
//
// A nil options pointer is equivalent to a zero options value.
func New(owner Owner, options *Options) *Watcher {
	if options == nil {
		options = &Options{}
	}

	w := &Watcher{
		owner:    owner,
		options:  *options,
		log:      zerolog.Nop(),
		flag:     options.Flag,
		bus:      options.Bus,
		sessions: make(map[*session]struct{}),
	}
	if options.Logger != nil {
		w.log = *options.Logger
	}
	if w.flag == nil {
		w.flag = &ActiveFlag{}
	}
	if w.bus == nil {
		w.bus = NewEventBus()
	}
	return w
}

func (w *Watcher) now() time.Time {
	if w.options.Now != nil {
		return w.options.Now()
	}
	return time.Now()
}

// Flag returns the flag tracking whether IDLE is running.
func (w *Watcher) Flag() *ActiveFlag {
	return w.flag
}

// Active returns true if any session currently has IDLE running.
func (w *Watcher) Active() bool {
	return w.flag.Active()
}

// Bus returns the bus message events are published on.
func (w *Watcher) Bus() *EventBus {
	return w.bus
}

// Monitor watches a mailbox for changes until the session fails.
//
// For each changed message, onMessage is called, then an Event with
// CategoryMessage and ActionNew is published on the bus. A zero timeout
// means DefaultTimeout.
//
// Monitor blocks until the session ends, and always returns a non-nil error:
// ErrCapabilityMissing if the server doesn't support IDLE, ErrClosed if the
// Watcher is closed, an *Error otherwise. Changes detected before the
// session ended are delivered before Monitor returns.
func (w *Watcher) Monitor(mailbox string, timeout time.Duration, onMessage func(*imap.Message)) error {
	if w.isClosed() {
		return ErrClosed
	}

	caps, err := w.owner.Caps()
	if err != nil {
		return fmt.Errorf("imapidle: failed to fetch capabilities: %w", err)
	}
	if !caps.Has(imap.CapIdle) {
		return ErrCapabilityMissing
	}

	s := newSession(w, mailbox, timeout, onMessage)
	if !w.track(s) {
		return ErrClosed
	}
	defer w.untrack(s)

	return s.run()
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Watcher) track(s *session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.sessions[s] = struct{}{}
	return true
}

func (w *Watcher) untrack(s *session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, s)
}

// Close interrupts running sessions by closing their connections. Pending
// Monitor calls return once their teardown completes. Subsequent calls to
// Monitor return ErrClosed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	for s := range w.sessions {
		s.interrupt()
	}
	return nil
}
