package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/bleprov/subsystems/networking"
	"github.com/viamrobotics/bleprov/subsystems/provisioning"
	"github.com/viamrobotics/bleprov/utils"
)

// characteristicNotifier behaves like a BlueZ-backed tinygo characteristic: updating the value for
// a notification first raises the characteristic's own write event.
type characteristicNotifier struct {
	w      *writeHandler
	chunks [][]byte
}

func (n *characteristicNotifier) Notify(chunk []byte) error {
	if err := n.w.handle(chunk, n); err != nil {
		return err
	}
	n.chunks = append(n.chunks, append([]byte(nil), chunk...))
	return nil
}

type fakeRadio struct {
	mu        sync.Mutex
	connectOK bool
	connects  []string
}

func (r *fakeRadio) SetStationMode(context.Context) error { return nil }
func (r *fakeRadio) Disconnect(context.Context) error     { return nil }

func (r *fakeRadio) Scan(context.Context) ([]networking.AccessPoint, error) {
	return []networking.AccessPoint{
		{SSID: "home", Security: "WPA2"},
		{SSID: "cafe", Security: networking.SecurityOpen},
	}, nil
}

func (r *fakeRadio) Connect(_ context.Context, ssid, psk string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, ssid+":"+psk)
	return nil
}

func (r *fakeRadio) Connected(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectOK, nil
}

func (r *fakeRadio) getConnects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

type fakeSleeper struct{}

func (fakeSleeper) Sleep(ctx context.Context, _ time.Duration) bool {
	return ctx.Err() == nil
}

func newControllerWriteHandler(t *testing.T, radio *fakeRadio, chunkSize int) *writeHandler {
	t.Helper()
	logger := logging.NewTestLogger(t)
	cfg := utils.DefaultConfig()
	cfg.ScanSettleDelay = 0
	ctrl := provisioning.NewController(logger, radio, fakeSleeper{}, cfg)
	t.Cleanup(ctrl.Close)
	return &writeHandler{logger: logger, handler: ctrl, chunkSize: chunkSize}
}

func TestWriteHandlerIgnoresNotificationEchoes(t *testing.T) {
	t.Run("successful credentials", func(t *testing.T) {
		radio := &fakeRadio{connectOK: true}
		w := newControllerWriteHandler(t, radio, MaxChunkSize)
		n := &characteristicNotifier{w: w}

		test.That(t, w.handle([]byte("testnet:rightpass"), n), test.ShouldBeNil)
		test.That(t, radio.getConnects(), test.ShouldResemble, []string{"testnet:rightpass"})
		test.That(t, n.chunks, test.ShouldResemble, [][]byte{[]byte("Connected to Network: testnet")})
	})

	t.Run("failed credentials", func(t *testing.T) {
		radio := &fakeRadio{}
		w := newControllerWriteHandler(t, radio, MaxChunkSize)
		n := &characteristicNotifier{w: w}

		test.That(t, w.handle([]byte("testnet:wrongpass"), n), test.ShouldBeNil)
		test.That(t, radio.getConnects(), test.ShouldResemble, []string{"testnet:wrongpass"})
		test.That(t, n.chunks, test.ShouldResemble, [][]byte{[]byte("WRONG PASSWORD FOR: testnet")})
	})

	t.Run("chunked scan", func(t *testing.T) {
		radio := &fakeRadio{}
		w := newControllerWriteHandler(t, radio, MinChunkSize)
		n := &characteristicNotifier{w: w}

		test.That(t, w.handle([]byte("SCANNN"), n), test.ShouldBeNil)
		test.That(t, radio.getConnects(), test.ShouldBeEmpty)
		test.That(t, len(n.chunks), test.ShouldBeGreaterThan, 1)

		r := Reassembler{Size: MinChunkSize}
		var msg []byte
		for _, c := range n.chunks {
			msg, _ = r.Add(c)
		}
		test.That(t, string(msg), test.ShouldEqual,
			`[{"ssid":"home","encryption":"Secured"},{"ssid":"cafe","encryption":"Open"}]`)
	})

	t.Run("writes after a notification are handled", func(t *testing.T) {
		radio := &fakeRadio{connectOK: true}
		w := newControllerWriteHandler(t, radio, MaxChunkSize)
		n := &characteristicNotifier{w: w}

		test.That(t, w.handle([]byte("SCANNN"), n), test.ShouldBeNil)
		test.That(t, w.handle([]byte("home:password1"), n), test.ShouldBeNil)
		test.That(t, radio.getConnects(), test.ShouldResemble, []string{"home:password1"})
		test.That(t, len(n.chunks), test.ShouldEqual, 2)
	})
}

func TestWriteHandlerDropsEchoBeforeHandler(t *testing.T) {
	h := &fakeHandler{resp: []byte("Connected to Network: testnet")}
	w := &writeHandler{logger: logging.NewTestLogger(t), handler: h, chunkSize: MaxChunkSize}
	n := &characteristicNotifier{w: w}

	test.That(t, w.handle([]byte("testnet:rightpass"), n), test.ShouldBeNil)
	test.That(t, len(h.writes), test.ShouldEqual, 1)
	test.That(t, len(n.chunks), test.ShouldEqual, 1)
}
