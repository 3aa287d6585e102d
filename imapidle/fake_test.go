package imapidle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapclient"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRead is a scripted result for ReadLine. The clock is advanced by after
// before the result is returned.
type fakeRead struct {
	line  string
	err   error
	after time.Duration
}

// fakeTransport is an in-memory Transport. Once the script is exhausted,
// ReadLine either times out, advancing the clock by the requested wait, or
// blocks until Close when block is set.
type fakeTransport struct {
	clock *fakeClock
	block bool

	mu        sync.Mutex
	reads     []fakeRead
	connected bool
	health    imapclient.StreamHealth
	selected  string
	idling    bool
	closeCh   chan struct{}

	// hooks, called without the lock held
	onIdle  func(n int) error
	onDone  func()
	onRead  func()
	onFetch func(seqNum uint32) (*imap.Message, error)

	idleCalls, doneCalls, selectCalls, closeCalls int
	fetched                                       []uint32
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport(clock *fakeClock, reads ...fakeRead) *fakeTransport {
	return &fakeTransport{
		clock:     clock,
		reads:     reads,
		connected: true,
		closeCh:   make(chan struct{}),
	}
}

func (t *fakeTransport) Select(mailbox string, readOnly bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selectCalls++
	if !t.connected {
		return fmt.Errorf("fake: not connected")
	}
	t.selected = mailbox
	return nil
}

func (t *fakeTransport) Selected() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selected
}

func (t *fakeTransport) Idle() error {
	t.mu.Lock()
	t.idleCalls++
	n := t.idleCalls
	hook := t.onIdle
	t.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idling {
		return fmt.Errorf("fake: IDLE already running")
	}
	t.idling = true
	return nil
}

func (t *fakeTransport) Done() error {
	t.mu.Lock()
	t.doneCalls++
	t.idling = false
	hook := t.onDone
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (t *fakeTransport) ReadLine(wait time.Duration) (string, error) {
	t.mu.Lock()
	hook := t.onRead
	t.mu.Unlock()
	if hook != nil {
		hook()
	}

	t.mu.Lock()
	if len(t.reads) > 0 {
		r := t.reads[0]
		t.reads = t.reads[1:]
		t.mu.Unlock()
		t.clock.Advance(r.after)
		return r.line, r.err
	}
	block := t.block
	t.mu.Unlock()

	if block {
		<-t.closeCh
		return "", fmt.Errorf("fake: connection closed")
	}
	t.clock.Advance(wait)
	return "", imapclient.ErrTimeout
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) StreamHealth() imapclient.StreamHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.health
}

func (t *fakeTransport) Fetch(seqNum uint32) (*imap.Message, error) {
	t.mu.Lock()
	t.fetched = append(t.fetched, seqNum)
	hook := t.onFetch
	t.mu.Unlock()

	if hook != nil {
		return hook(seqNum)
	}
	return &imap.Message{SeqNum: seqNum, Kind: imap.NumKindSeq}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	if t.connected {
		t.connected = false
		close(t.closeCh)
	}
	return nil
}

func (t *fakeTransport) setConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
}

func (t *fakeTransport) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// fakeOwner hands out transports in order.
type fakeOwner struct {
	caps       imap.CapSet
	transports []*fakeTransport

	mu    sync.Mutex
	dials int
}

var _ Owner = (*fakeOwner)(nil)

func newFakeOwner(transports ...*fakeTransport) *fakeOwner {
	return &fakeOwner{
		caps:       imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIdle: {}},
		transports: transports,
	}
}

func (o *fakeOwner) Caps() (imap.CapSet, error) {
	return o.caps, nil
}

func (o *fakeOwner) Dial() (Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dials >= len(o.transports) {
		o.dials++
		return nil, errors.New("fake: connection refused")
	}
	t := o.transports[o.dials]
	o.dials++
	return t, nil
}

func (o *fakeOwner) dialCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dials
}
