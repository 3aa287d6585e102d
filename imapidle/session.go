package imapidle

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapclient"
)

type sessionState int

const (
	stateInit sessionState = iota
	stateEntering
	stateActive
	stateDraining
	stateReentering
	stateTerminated
)

func (state sessionState) String() string {
	switch state {
	case stateInit:
		return "init"
	case stateEntering:
		return "entering"
	case stateActive:
		return "active"
	case stateDraining:
		return "draining"
	case stateReentering:
		return "reentering"
	case stateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("sessionState(%d)", int(state))
	}
}

var errInterrupted = errors.New("imapidle: session interrupted")

// session monitors one mailbox over a dedicated connection. It lives for
// the duration of a single Monitor call.
type session struct {
	w         *Watcher
	mailbox   string
	timeout   time.Duration
	onMessage func(*imap.Message)
	log       zerolog.Logger

	// mu guards conn writes and interrupted. conn is only written by the
	// goroutine running the session, which may read it without locking.
	mu          sync.Mutex
	conn        Transport
	closedConn  Transport
	interrupted bool

	state  sessionState
	timing timing
	// IDLE has been sent on conn and DONE hasn't
	active bool
	// this session contributes to the shared flag
	flagged bool
	queue   []uint32
}

func newSession(w *Watcher, mailbox string, timeout time.Duration, onMessage func(*imap.Message)) *session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if onMessage == nil {
		onMessage = func(*imap.Message) {}
	}
	return &session{
		w:         w,
		mailbox:   mailbox,
		timeout:   timeout,
		onMessage: onMessage,
		log:       w.log.With().Str("mailbox", mailbox).Logger(),
		timing:    timing{sessionStart: w.now()},
	}
}

// run drives the session until a fatal condition is reached. The returned
// error is always non-nil.
func (s *session) run() (err error) {
	defer s.teardown()
	defer func() {
		if v := recover(); v != nil {
			err = s.fatal(ReasonReadError, fmt.Errorf("imapidle: panic: %v", v))
		}
	}()

	if err := s.enter(); err != nil {
		return err
	}
	for {
		var err error
		switch s.state {
		case stateActive:
			err = s.poll()
		case stateDraining:
			s.drain()
			s.setState(stateReentering)
		case stateReentering:
			err = s.reenter()
		default:
			panic(fmt.Sprintf("imapidle: unexpected session state %v", s.state))
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) setState(state sessionState) {
	s.log.Debug().Stringer("from", s.state).Stringer("to", state).Msg("session state")
	s.state = state
}

func (s *session) fatal(reason Reason, err error) error {
	ev := s.log.Info()
	if reason == ReasonReadError || reason == ReasonReentryFailed {
		ev = s.log.Error()
	}
	ev.Err(err).Stringer("reason", reason).Msg("session ended")
	return &Error{Reason: reason, Err: err}
}

func (s *session) enter() error {
	s.setState(stateEntering)

	conn, err := s.w.owner.Dial()
	if err != nil {
		return s.fatal(ReasonStreamDisconnected, err)
	}
	if err := s.setConn(conn); err != nil {
		return s.fatal(ReasonStreamDisconnected, err)
	}
	if err := conn.Select(s.mailbox, s.w.options.ReadOnly); err != nil {
		return s.fatal(ReasonReadError, err)
	}

	s.active = true
	if err := conn.Idle(); err != nil {
		s.active = false
		return s.fatal(ReasonReadError, err)
	}
	s.setFlagged(true)

	now := s.w.now()
	s.timing.nextDeadline = now.Add(s.timeout)
	s.timing.lastActivity = now
	s.setState(stateActive)
	return nil
}

// poll runs the failure checks, then performs one bounded read.
func (s *session) poll() error {
	if reason, ok := detectFailure(s.conn, s.timing, s.w.now()); ok {
		return s.fatal(reason, nil)
	}

	line, err := s.conn.ReadLine(s.readWait())
	if errors.Is(err, imapclient.ErrTimeout) {
		if reason, ok := detectSilence(s.timing, s.w.now()); ok {
			return s.fatal(reason, nil)
		}
		return nil
	} else if err != nil {
		return s.fatal(s.classify(err), err)
	}
	if strings.TrimSpace(line) == "" {
		return s.fatal(ReasonReadError, errEmptyResponse)
	}
	s.timing.lastActivity = s.w.now()

	seqNum, ok := ParseChangeEvent(line)
	if !ok {
		return nil
	}
	s.log.Debug().Uint32("seq", seqNum).Str("line", line).Msg("change detected")
	s.enqueue(seqNum)
	s.exitIdle()
	s.setState(stateDraining)
	return nil
}

func (s *session) classify(err error) Reason {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonStreamUnhealthy
	case s.conn == nil || !s.conn.IsConnected():
		return ReasonStreamDisconnected
	default:
		return ReasonReadError
	}
}

// readWait bounds a read so that the deadline and session limit checks run
// on time.
func (s *session) readWait() time.Duration {
	wait := s.w.options.readWait()
	now := s.w.now()
	if d := s.timing.nextDeadline.Sub(now); d < wait {
		wait = d
	}
	if d := s.timing.sessionStart.Add(MaxSessionDuration).Sub(now); d < wait {
		wait = d
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (s *session) enqueue(seqNum uint32) {
	for _, n := range s.queue {
		if n == seqNum {
			return
		}
	}
	s.queue = append(s.queue, seqNum)
}

// exitIdle sends DONE if IDLE is running. Failures are logged only: the
// flag is cleared regardless.
func (s *session) exitIdle() {
	if s.active && s.conn != nil {
		if err := s.conn.Done(); err != nil {
			s.log.Warn().Err(err).Msg("failed to stop IDLE")
		}
	}
	s.active = false
	s.setFlagged(false)
}

func (s *session) reenter() error {
	if _, failed := detectStreamFailure(s.conn); failed {
		return s.fatal(ReasonReentryFailed, errConnLost)
	}

	s.active = true
	if err := s.conn.Idle(); err != nil {
		s.active = false
		return s.fatal(ReasonReentryFailed, err)
	}
	s.setFlagged(true)

	s.timing.nextDeadline = s.w.now().Add(s.timeout)
	s.setState(stateActive)
	return nil
}

func (s *session) setFlagged(flagged bool) {
	if s.flagged == flagged {
		return
	}
	s.flagged = flagged
	if flagged {
		s.w.flag.add(1)
	} else {
		s.w.flag.add(-1)
	}
}

func (s *session) teardown() {
	if len(s.queue) > 0 {
		s.exitIdle()
		s.drain()
	}
	s.active = false
	s.setFlagged(false)
	s.releaseConn()
	s.setState(stateTerminated)
}

// setConn makes conn the dedicated connection, closing the previous one. If
// the session has been interrupted, conn is closed instead.
func (s *session) setConn(conn Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interrupted {
		conn.Close()
		return errInterrupted
	}
	old := s.conn
	s.conn = conn
	if old != nil {
		s.closeLocked(old)
	}
	return nil
}

func (s *session) releaseConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.closeLocked(s.conn)
		s.conn = nil
	}
}

func (s *session) closeLocked(conn Transport) {
	if conn == s.closedConn {
		return
	}
	s.closedConn = conn
	if err := conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("failed to close connection")
	}
}

// interrupt closes the dedicated connection, unblocking any pending read.
// It may be called from any goroutine.
func (s *session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = true
	if s.conn != nil {
		s.closeLocked(s.conn)
	}
}
