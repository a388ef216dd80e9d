package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/bleprov/subsystems/networking"
)

func newTestAttempter(t *testing.T, radio *fakeRadio, sleeper Sleeper) *Attempter {
	t.Helper()
	return NewAttempter(logging.NewTestLogger(t), radio, sleeper, DefaultConnectAttempts, DefaultConnectPollInterval)
}

func TestAttemptConnects(t *testing.T) {
	for _, on := range []int{1, 3, 11} {
		radio := &fakeRadio{connectOn: on}
		sleeper := &fakeSleeper{}
		out := newTestAttempter(t, radio, sleeper).Attempt(t.Context(), "testnet", "rightpass")

		test.That(t, out.Connected, test.ShouldBeTrue)
		test.That(t, out.SSID, test.ShouldEqual, "testnet")
		test.That(t, out.Reason, test.ShouldEqual, ReasonNone)
		test.That(t, out.Checks, test.ShouldEqual, on)
		test.That(t, radio.getChecks(), test.ShouldEqual, on)
		test.That(t, sleeper.count(), test.ShouldEqual, on-1)
		test.That(t, radio.ssid, test.ShouldEqual, "testnet")
		test.That(t, radio.psk, test.ShouldEqual, "rightpass")
	}
}

func TestAttemptNeverMoreThanElevenChecks(t *testing.T) {
	// would connect on the 12th check, which must never happen
	radio := &fakeRadio{connectOn: 12}
	sleeper := &fakeSleeper{}
	out := newTestAttempter(t, radio, sleeper).Attempt(t.Context(), "testnet", "wrongpass")

	test.That(t, out.Connected, test.ShouldBeFalse)
	test.That(t, out.Reason, test.ShouldEqual, ReasonTimeout)
	test.That(t, out.Checks, test.ShouldEqual, 11)
	test.That(t, radio.getChecks(), test.ShouldEqual, 11)
	test.That(t, sleeper.count(), test.ShouldEqual, 10)
	for _, d := range sleeper.sleeps {
		test.That(t, d, test.ShouldEqual, time.Millisecond*500)
	}
	test.That(t, out.Response(), test.ShouldEqual, "WRONG PASSWORD FOR: testnet")
}

func TestAttemptFailureReasons(t *testing.T) {
	t.Run("connect rejected", func(t *testing.T) {
		radio := &fakeRadio{connectErr: errors.New("no such network")}
		out := newTestAttempter(t, radio, &fakeSleeper{}).Attempt(t.Context(), "gone", "password1")
		test.That(t, out.Connected, test.ShouldBeFalse)
		test.That(t, out.Reason, test.ShouldEqual, ReasonRejected)
		test.That(t, out.Checks, test.ShouldEqual, 0)
		test.That(t, radio.getChecks(), test.ShouldEqual, 0)
	})

	t.Run("password rejected up front", func(t *testing.T) {
		radio := &fakeRadio{connectErr: errw.Wrap(networking.ErrBadPassword, "too short")}
		out := newTestAttempter(t, radio, &fakeSleeper{}).Attempt(t.Context(), "home", "short")
		test.That(t, out.Reason, test.ShouldEqual, ReasonBadPassword)
	})

	t.Run("password rejected by access point", func(t *testing.T) {
		radio := &fakeRadio{statusErr: errw.Wrap(networking.ErrBadPassword, "activating")}
		out := newTestAttempter(t, radio, &fakeSleeper{}).Attempt(t.Context(), "home", "password1")
		test.That(t, out.Reason, test.ShouldEqual, ReasonBadPassword)
		test.That(t, out.Checks, test.ShouldEqual, 1)
		test.That(t, out.Response(), test.ShouldEqual, "WRONG PASSWORD FOR: home")
	})

	t.Run("transient status errors use up checks", func(t *testing.T) {
		radio := &fakeRadio{statusErr: errors.New("dbus timeout")}
		out := newTestAttempter(t, radio, &fakeSleeper{}).Attempt(t.Context(), "home", "password1")
		test.That(t, out.Reason, test.ShouldEqual, ReasonTimeout)
		test.That(t, radio.getChecks(), test.ShouldEqual, 11)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		radio := &fakeRadio{}
		out := newTestAttempter(t, radio, &fakeSleeper{}).Attempt(ctx, "home", "password1")
		test.That(t, out.Reason, test.ShouldEqual, ReasonCanceled)
		test.That(t, radio.getChecks(), test.ShouldEqual, 1)
	})
}

func TestOutcomeResponse(t *testing.T) {
	test.That(t, ConnectionOutcome{Connected: true, SSID: "x"}.Response(), test.ShouldEqual, "Connected to Network: x")
	// reason never changes the wire format
	for _, r := range []FailureReason{ReasonTimeout, ReasonRejected, ReasonBadPassword, ReasonCanceled} {
		test.That(t, ConnectionOutcome{SSID: "x", Reason: r}.Response(), test.ShouldEqual, "WRONG PASSWORD FOR: x")
	}
}
