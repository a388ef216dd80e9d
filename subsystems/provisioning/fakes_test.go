package provisioning

import (
	"context"
	"sync"
	"time"

	"github.com/viamrobotics/bleprov/subsystems/networking"
)

type fakeRadio struct {
	mu sync.Mutex

	aps     []networking.AccessPoint
	scanErr error

	connectErr error
	// status check (1-based) on which Connected starts returning true, 0 for never
	connectOn int
	statusErr error

	calls  []string
	checks int
	ssid   string
	psk    string
}

func (r *fakeRadio) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRadio) SetStationMode(ctx context.Context) error {
	r.record("station")
	return nil
}

func (r *fakeRadio) Disconnect(ctx context.Context) error {
	r.record("disconnect")
	return nil
}

func (r *fakeRadio) Scan(ctx context.Context) ([]networking.AccessPoint, error) {
	r.record("scan")
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]networking.AccessPoint(nil), r.aps...), r.scanErr
}

func (r *fakeRadio) Connect(ctx context.Context, ssid, psk string) error {
	r.record("connect")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ssid = ssid
	r.psk = psk
	return r.connectErr
}

func (r *fakeRadio) Connected(ctx context.Context) (bool, error) {
	r.record("status")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks++
	if r.statusErr != nil {
		return false, r.statusErr
	}
	return r.connectOn > 0 && r.checks >= r.connectOn, nil
}

func (r *fakeRadio) getChecks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checks
}

func (r *fakeRadio) getCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeSleeper returns immediately, recording each requested duration.
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err() == nil
}

func (s *fakeSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}

func secured(ssid string) networking.AccessPoint {
	return networking.AccessPoint{SSID: ssid, Security: "WPA2", Signal: 70}
}

func open(ssid string) networking.AccessPoint {
	return networking.AccessPoint{SSID: ssid, Security: networking.SecurityOpen, Signal: 40}
}
