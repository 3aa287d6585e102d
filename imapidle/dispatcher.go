package imapidle

import (
	"fmt"
)

// drain dispatches every queued sequence number in order, then clears the
// queue. A failed item doesn't prevent the others from being delivered.
func (s *session) drain() {
	for _, seqNum := range s.queue {
		if err := s.dispatch(seqNum); err != nil {
			s.dispatchFailed(seqNum, err)
		}
	}
	s.queue = s.queue[:0]
}

func (s *session) dispatch(seqNum uint32) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("imapidle: panic while dispatching message %v: %v", seqNum, v)
		}
	}()

	conn, err := s.ensureSelected()
	if err != nil {
		return err
	}
	msg, err := conn.Fetch(seqNum)
	if err != nil {
		return err
	}
	msg.Kind = s.w.options.numKind()

	s.onMessage(msg)
	s.w.bus.Publish(Event{
		Category: CategoryMessage,
		Action:   ActionNew,
		Payload:  msg,
	})
	return nil
}

// ensureSelected returns a live connection with the mailbox selected,
// reconnecting if necessary.
func (s *session) ensureSelected() (Transport, error) {
	conn := s.conn
	if reason, failed := detectStreamFailure(conn); failed {
		s.log.Debug().Stringer("reason", reason).Msg("reconnecting to dispatch messages")
		newConn, err := s.w.owner.Dial()
		if err != nil {
			return nil, fmt.Errorf("imapidle: reconnect: %w", err)
		}
		if err := s.setConn(newConn); err != nil {
			return nil, err
		}
		conn = newConn
	}
	if conn.Selected() != s.mailbox {
		if err := conn.Select(s.mailbox, s.w.options.ReadOnly); err != nil {
			return nil, fmt.Errorf("imapidle: select %q: %w", s.mailbox, err)
		}
	}
	return conn, nil
}

func (s *session) dispatchFailed(seqNum uint32, err error) {
	s.log.Warn().Err(err).Uint32("seq", seqNum).Msg("failed to dispatch message")

	hook := s.w.options.OnDispatchError
	if hook == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			s.log.Warn().Interface("panic", v).Msg("dispatch error hook panicked")
		}
	}()
	hook(seqNum, err)
}
