package main

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap-idle/imapidle"
)

// delay returns how long to wait before the given attempt, starting at 0.
// Up to a quarter of the delay is randomized when jitter is set.
func (cfg RetryConfig) delay(attempt int, jitter bool) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < initial {
		maxDelay = initial
	}
	factor := cfg.BackoffFactor
	if factor <= 1 {
		factor = 2
	}

	d := float64(initial) * math.Pow(factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	if jitter {
		d -= d / 4 * rand.Float64()
	}
	return time.Duration(d)
}

// expectedEnd reports whether a session ended in a way that calls for an
// immediate restart rather than a backoff.
func expectedEnd(err error) bool {
	var idleErr *imapidle.Error
	if !errors.As(err, &idleErr) {
		return false
	}
	switch idleErr.Reason {
	case imapidle.ReasonSessionTimeLimitExceeded, imapidle.ReasonInactivityTimeout:
		return true
	default:
		return false
	}
}

// monitorLoop restarts monitoring sessions until stop is closed or the
// server turns out not to support IDLE.
func monitorLoop(w *imapidle.Watcher, cfg MonitorConfig, log zerolog.Logger, stop <-chan struct{}, onMessage func(*imap.Message)) error {
	attempt := 0
	for {
		err := w.Monitor(cfg.Mailbox, cfg.Timeout, onMessage)
		switch {
		case errors.Is(err, imapidle.ErrClosed):
			return nil
		case errors.Is(err, imapidle.ErrCapabilityMissing):
			return err
		case expectedEnd(err):
			log.Debug().Err(err).Msg("restarting monitoring")
			attempt = 0
			continue
		}

		d := cfg.Retry.delay(attempt, true)
		attempt++
		log.Warn().Err(err).Dur("delay", d).Int("attempt", attempt).Msg("monitoring failed, retrying")

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-stop:
			t.Stop()
			return nil
		}
	}
}
