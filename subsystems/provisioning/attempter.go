package provisioning

import (
	"context"
	"errors"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/subsystems/networking"
)

const (
	// DefaultConnectAttempts is the initial status check plus ten retries.
	DefaultConnectAttempts     = 11
	DefaultConnectPollInterval = time.Millisecond * 500
)

// Attempter drives a single bounded connection attempt.
type Attempter struct {
	logger  logging.Logger
	radio   Radio
	sleeper Sleeper

	attempts int
	interval time.Duration
}

func NewAttempter(logger logging.Logger, radio Radio, sleeper Sleeper, attempts int, interval time.Duration) *Attempter {
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	return &Attempter{
		logger:   logger,
		radio:    radio,
		sleeper:  sleeper,
		attempts: attempts,
		interval: interval,
	}
}

// Attempt requests a connection to ssid and polls the radio at most a.attempts times, sleeping only
// between checks. It returns as soon as a check reports connected, or the radio reports a bad password.
func (a *Attempter) Attempt(ctx context.Context, ssid, password string) ConnectionOutcome {
	out := ConnectionOutcome{SSID: ssid}

	if err := a.radio.SetStationMode(ctx); err != nil {
		a.logger.Warn(err)
	}

	a.logger.Infof("attempting to connect to %s", ssid)
	if err := a.radio.Connect(ctx, ssid, password); err != nil {
		out.Reason = reasonFromError(ctx, err, ReasonRejected)
		a.logger.Warnw("connection request failed", "ssid", ssid, "reason", out.Reason, "error", err)
		return out
	}

	for check := 1; check <= a.attempts; check++ {
		if check > 1 && !a.sleeper.Sleep(ctx, a.interval) {
			out.Reason = ReasonCanceled
			return out
		}

		out.Checks = check
		connected, err := a.radio.Connected(ctx)
		if err != nil {
			a.logger.Debugw("checking connection status", "check", check, "error", err)
			if errors.Is(err, networking.ErrBadPassword) {
				out.Reason = ReasonBadPassword
				return out
			}
			continue
		}
		if connected {
			a.logger.Infof("connected to %s after %d checks", ssid, check)
			out.Connected = true
			out.Reason = ReasonNone
			return out
		}
	}

	out.Reason = ReasonTimeout
	a.logger.Warnf("failed to connect to %s after %d checks", ssid, out.Checks)
	return out
}

func reasonFromError(ctx context.Context, err error, fallback FailureReason) FailureReason {
	switch {
	case ctx.Err() != nil:
		return ReasonCanceled
	case errors.Is(err, networking.ErrBadPassword):
		return ReasonBadPassword
	default:
		return fallback
	}
}
