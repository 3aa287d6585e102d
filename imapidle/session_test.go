package imapidle

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emersion/go-imap-idle"
)

func newTestWatcher(owner Owner, clock *fakeClock, options *Options) *Watcher {
	if options == nil {
		options = &Options{}
	}
	options.Now = clock.Now
	return New(owner, options)
}

func requireReason(t *testing.T, err error, want Reason) *Error {
	t.Helper()
	var idleErr *Error
	require.True(t, errors.As(err, &idleErr), "got %v", err)
	assert.Equal(t, want, idleErr.Reason, "got %v", err)
	return idleErr
}

type recorder struct {
	mu   sync.Mutex
	msgs []*imap.Message
}

func (r *recorder) onMessage(msg *imap.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) seqNums() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := make([]uint32, len(r.msgs))
	for i, msg := range r.msgs {
		l[i] = msg.SeqNum
	}
	return l
}

func TestMonitor_delivers(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* 3 EXISTS", after: time.Second})
	owner := newFakeOwner(conn)
	w := newTestWatcher(owner, clock, nil)

	var events []Event
	w.Bus().Subscribe(CategoryMessage, func(ev Event) {
		events = append(events, ev)
	})

	var rec recorder
	err := w.Monitor("INBOX", time.Minute, rec.onMessage)
	requireReason(t, err, ReasonInactivityTimeout)

	assert.Equal(t, []uint32{3}, rec.seqNums())
	require.Len(t, events, 1)
	assert.Equal(t, ActionNew, events[0].Action)
	assert.Same(t, rec.msgs[0], events[0].Payload)

	assert.Equal(t, 1, owner.dialCount())
	assert.Equal(t, 1, conn.selectCalls)
	assert.Equal(t, 2, conn.idleCalls)
	assert.Equal(t, 1, conn.doneCalls)
	assert.Equal(t, 1, conn.closes())
	assert.False(t, w.Active())
}

func TestMonitor_recentAndFetch(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock,
		fakeRead{line: "* OK still here"},
		fakeRead{line: "* 4 RECENT"},
		fakeRead{line: `* 2 FETCH (FLAGS (\Seen))`},
	)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	var rec recorder
	err := w.Monitor("INBOX", time.Minute, rec.onMessage)
	requireReason(t, err, ReasonInactivityTimeout)
	assert.Equal(t, []uint32{4, 2}, rec.seqNums())
	assert.Equal(t, 3, conn.idleCalls)
	assert.Equal(t, 2, conn.doneCalls)
}

func TestMonitor_numKind(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* 1 EXISTS"})
	conn.onFetch = func(seqNum uint32) (*imap.Message, error) {
		return &imap.Message{SeqNum: seqNum, UID: 42, Kind: imap.NumKindSeq}, nil
	}
	w := newTestWatcher(newFakeOwner(conn), clock, &Options{NumKind: imap.NumKindUID})

	var rec recorder
	w.Monitor("INBOX", time.Minute, rec.onMessage)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, imap.NumKindUID, rec.msgs[0].Kind)
	assert.Equal(t, uint32(42), rec.msgs[0].Num())
}

func TestMonitor_capabilityMissing(t *testing.T) {
	clock := newFakeClock()
	owner := newFakeOwner(newFakeTransport(clock))
	owner.caps = imap.CapSet{imap.CapIMAP4rev1: {}}
	w := newTestWatcher(owner, clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	assert.ErrorIs(t, err, ErrCapabilityMissing)
	assert.Equal(t, 0, owner.dialCount())
	assert.False(t, w.Active())
}

func TestMonitor_imap4rev2(t *testing.T) {
	clock := newFakeClock()
	owner := newFakeOwner(newFakeTransport(clock))
	owner.caps = imap.CapSet{imap.CapIMAP4rev2: {}}
	w := newTestWatcher(owner, clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	requireReason(t, err, ReasonInactivityTimeout)
	assert.Equal(t, 1, owner.dialCount())
}

func TestMonitor_defaultTimeout(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	start := clock.Now()
	err := w.Monitor("INBOX", 0, nil)
	requireReason(t, err, ReasonInactivityTimeout)
	elapsed := clock.Now().Sub(start)
	assert.True(t, elapsed > DefaultTimeout && elapsed < DefaultTimeout+time.Second, "elapsed %v", elapsed)
}

func TestMonitor_flag(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock,
		fakeRead{line: "* 1 EXISTS"},
		fakeRead{line: "* OK still here"},
		fakeRead{err: errors.New("connection reset")},
	)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	var duringIdle, duringRead, duringFetch []bool
	conn.onIdle = func(n int) error {
		duringIdle = append(duringIdle, w.Active())
		return nil
	}
	conn.onRead = func() {
		duringRead = append(duringRead, w.Active())
	}
	conn.onFetch = func(seqNum uint32) (*imap.Message, error) {
		duringFetch = append(duringFetch, w.Active())
		return &imap.Message{SeqNum: seqNum}, nil
	}

	assert.False(t, w.Active())
	err := w.Monitor("INBOX", time.Minute, nil)
	idleErr := requireReason(t, err, ReasonReadError)
	assert.EqualError(t, idleErr.Unwrap(), "connection reset")
	assert.False(t, w.Active())

	assert.Equal(t, []bool{false, false}, duringIdle)
	assert.Equal(t, []bool{true, true, true}, duringRead)
	assert.Equal(t, []bool{false}, duringFetch)
}

func TestMonitor_sharedFlag(t *testing.T) {
	var flag ActiveFlag
	clock := newFakeClock()
	w := newTestWatcher(newFakeOwner(), clock, &Options{Flag: &flag})
	assert.Same(t, &flag, w.Flag())

	s1 := newSession(w, "INBOX", 0, nil)
	s2 := newSession(w, "Archive", 0, nil)

	s1.setFlagged(true)
	s2.setFlagged(true)
	assert.True(t, flag.Active())

	s1.setFlagged(false)
	s1.setFlagged(false)
	assert.True(t, flag.Active())

	s2.setFlagged(false)
	assert.False(t, flag.Active())
}

func TestMonitor_sessionTimeLimit(t *testing.T) {
	clock := newFakeClock()
	var reads []fakeRead
	for i := 0; i < 10; i++ {
		reads = append(reads, fakeRead{line: "* OK still here", after: 5 * time.Minute})
	}
	conn := newFakeTransport(clock, reads...)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	start := clock.Now()
	err := w.Monitor("INBOX", time.Hour, nil)
	requireReason(t, err, ReasonSessionTimeLimitExceeded)
	assert.Equal(t, 30*time.Minute, clock.Now().Sub(start))
	assert.Equal(t, 1, conn.closes())
}

func TestMonitor_sessionLimitIgnoresReentry(t *testing.T) {
	clock := newFakeClock()
	var reads []fakeRead
	for i := 1; i <= 10; i++ {
		reads = append(reads, fakeRead{line: fmt.Sprintf("* %v EXISTS", i), after: 4 * time.Minute})
	}
	conn := newFakeTransport(clock, reads...)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	var rec recorder
	err := w.Monitor("INBOX", 5*time.Minute, rec.onMessage)
	requireReason(t, err, ReasonSessionTimeLimitExceeded)
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8}, rec.seqNums())
}

func TestMonitor_serverSilence(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock)
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	start := clock.Now()
	err := w.Monitor("INBOX", 20*time.Minute, nil)
	requireReason(t, err, ReasonServerSilence)
	assert.Equal(t, ServerSilenceThreshold, clock.Now().Sub(start))
	assert.False(t, w.Active())
}

func TestMonitor_activityDelaysSilence(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* OK still here", after: 9 * time.Minute})
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	start := clock.Now()
	err := w.Monitor("INBOX", 25*time.Minute, nil)
	requireReason(t, err, ReasonServerSilence)
	assert.Equal(t, 19*time.Minute, clock.Now().Sub(start))
}

func TestMonitor_readFailures(t *testing.T) {
	tests := []struct {
		name         string
		read         fakeRead
		disconnected bool
		reason       Reason
	}{
		{name: "eof", read: fakeRead{err: io.EOF}, reason: ReasonStreamUnhealthy},
		{name: "unexpected eof", read: fakeRead{err: fmt.Errorf("read: %w", io.ErrUnexpectedEOF)}, reason: ReasonStreamUnhealthy},
		{name: "error", read: fakeRead{err: errors.New("malformed response")}, reason: ReasonReadError},
		{name: "empty line", read: fakeRead{line: ""}, reason: ReasonReadError},
		{name: "disconnected", read: fakeRead{err: errors.New("use of closed connection")}, disconnected: true, reason: ReasonStreamDisconnected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			conn := newFakeTransport(clock, tc.read)
			if tc.disconnected {
				conn.onRead = func() { conn.setConnected(false) }
			}
			w := newTestWatcher(newFakeOwner(conn), clock, nil)

			err := w.Monitor("INBOX", time.Minute, nil)
			requireReason(t, err, tc.reason)
			assert.Equal(t, 1, conn.closes())
			assert.False(t, w.Active())
		})
	}
}

func TestMonitor_streamUnhealthy(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* 1 EXISTS"})
	conn.health.TimedOut = true
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	var rec recorder
	err := w.Monitor("INBOX", time.Minute, rec.onMessage)
	requireReason(t, err, ReasonStreamUnhealthy)
	assert.Empty(t, rec.seqNums())
	assert.Equal(t, 1, conn.closes())
}

func TestMonitor_dialFailed(t *testing.T) {
	clock := newFakeClock()
	owner := newFakeOwner()
	w := newTestWatcher(owner, clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	idleErr := requireReason(t, err, ReasonStreamDisconnected)
	assert.Error(t, idleErr.Err)
	assert.False(t, w.Active())
}

func TestMonitor_selectFailed(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock)
	conn.connected = false
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	requireReason(t, err, ReasonReadError)
	assert.Equal(t, 0, conn.idleCalls)
	assert.Equal(t, 1, conn.closes())
}

func TestMonitor_idleRejected(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock)
	conn.onIdle = func(n int) error {
		return errors.New("BAD unknown command")
	}
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	requireReason(t, err, ReasonReadError)
	assert.False(t, w.Active())
	assert.Equal(t, 1, conn.closes())
}

func TestMonitor_reentryConnectionLost(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* 9 EXISTS"})
	conn.onFetch = func(seqNum uint32) (*imap.Message, error) {
		conn.setConnected(false)
		return &imap.Message{SeqNum: seqNum}, nil
	}
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	var rec recorder
	err := w.Monitor("INBOX", time.Minute, rec.onMessage)
	idleErr := requireReason(t, err, ReasonReentryFailed)
	assert.ErrorIs(t, idleErr, errConnLost)

	assert.Equal(t, []uint32{9}, rec.seqNums())
	assert.Equal(t, 1, conn.idleCalls)
	assert.Equal(t, 1, conn.closes())
	assert.False(t, w.Active())
}

func TestMonitor_reentryIdleFailed(t *testing.T) {
	clock := newFakeClock()
	conn := newFakeTransport(clock, fakeRead{line: "* 9 EXISTS"})
	conn.onIdle = func(n int) error {
		if n > 1 {
			return errors.New("BAD IDLE not allowed now")
		}
		return nil
	}
	w := newTestWatcher(newFakeOwner(conn), clock, nil)

	err := w.Monitor("INBOX", time.Minute, nil)
	requireReason(t, err, ReasonReentryFailed)
	assert.Equal(t, 2, conn.idleCalls)
	assert.Equal(t, 1, conn.closes())
	assert.False(t, w.Active())
}

func TestMonitor_dispatchReconnects(t *testing.T) {
	clock := newFakeClock()
	first := newFakeTransport(clock, fakeRead{line: "* 2 EXISTS"})
	first.onDone = func() { first.setConnected(false) }
	second := newFakeTransport(clock)
	owner := newFakeOwner(first, second)
	w := newTestWatcher(owner, clock, nil)

	var rec recorder
	err := w.Monitor("Archive", time.Minute, rec.onMessage)
	requireReason(t, err, ReasonInactivityTimeout)

	assert.Equal(t, []uint32{2}, rec.seqNums())
	assert.Equal(t, 2, owner.dialCount())
	assert.Empty(t, first.fetched)
	assert.Equal(t, []uint32{2}, second.fetched)
	assert.Equal(t, "Archive", second.selected)
	assert.Equal(t, 1, second.idleCalls)
	assert.Equal(t, 1, first.closes())
	assert.Equal(t, 1, second.closes())
}

func TestMonitor_closed(t *testing.T) {
	conn := newFakeTransport(newFakeClock())
	conn.block = true
	owner := newFakeOwner(conn)
	w := New(owner, nil)

	reading := make(chan struct{})
	var once sync.Once
	conn.onRead = func() { once.Do(func() { close(reading) }) }

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Monitor("INBOX", time.Minute, nil)
	}()

	<-reading
	assert.True(t, w.Active())
	require.NoError(t, w.Close())

	select {
	case err := <-errCh:
		requireReason(t, err, ReasonStreamDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor didn't return after Close")
	}
	assert.False(t, w.Active())
	assert.Equal(t, 1, conn.closes())

	assert.ErrorIs(t, w.Monitor("INBOX", time.Minute, nil), ErrClosed)
	assert.Equal(t, 1, owner.dialCount())
}
