package imapidle

import (
	"time"
)

const (
	// MaxSessionDuration is the longest a session may last. RFC 2177 requires
	// clients to re-issue IDLE at least every 29 minutes.
	MaxSessionDuration = 29 * time.Minute
	// ServerSilenceThreshold is how long a session waits without receiving
	// any line before declaring the server gone.
	ServerSilenceThreshold = 10 * time.Minute
	// DefaultTimeout is used when Monitor is called with a zero timeout.
	DefaultTimeout = 300 * time.Second
)

// timing holds the session timestamps checked for failures.
type timing struct {
	sessionStart time.Time
	nextDeadline time.Time
	lastActivity time.Time
}

// detectFailure runs the checks evaluated before each read. The first
// failing check wins.
func detectFailure(conn Transport, t timing, now time.Time) (Reason, bool) {
	if reason, failed := detectStreamFailure(conn); failed {
		return reason, true
	}
	if now.Sub(t.sessionStart) >= MaxSessionDuration {
		return ReasonSessionTimeLimitExceeded, true
	}
	if now.After(t.nextDeadline) {
		return ReasonInactivityTimeout, true
	}
	return 0, false
}

// detectStreamFailure reports whether conn can no longer carry commands. A
// connection which hit EOF or a command timeout stays open but is unusable.
func detectStreamFailure(conn Transport) (Reason, bool) {
	if conn == nil || !conn.IsConnected() {
		return ReasonStreamDisconnected, true
	}
	if hr, ok := conn.(healthReporter); ok {
		if health := hr.StreamHealth(); health.TimedOut || health.EOF {
			return ReasonStreamUnhealthy, true
		}
	}
	return 0, false
}

// detectSilence is checked after a read timed out.
func detectSilence(t timing, now time.Time) (Reason, bool) {
	if now.Sub(t.lastActivity) >= ServerSilenceThreshold {
		return ReasonServerSilence, true
	}
	return 0, false
}
