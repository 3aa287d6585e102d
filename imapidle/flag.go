package imapidle

import (
	"sync/atomic"
)

// ActiveFlag reports whether any session currently has IDLE running.
//
// A single flag is shared by all sessions of a Watcher, and may be shared
// across Watchers with Options.Flag. Components issuing commands on other
// connections to the same account can check it, since some servers reject
// commands while an IDLE command is running.
//
// A session marks the flag only once IDLE has been acknowledged, and unmarks
// it as soon as DONE is sent or the session fails.
type ActiveFlag struct {
	n atomic.Int32
}

// Active returns true if IDLE is running in at least one session.
func (f *ActiveFlag) Active() bool {
	return f.n.Load() > 0
}

func (f *ActiveFlag) add(delta int32) {
	f.n.Add(delta)
}
