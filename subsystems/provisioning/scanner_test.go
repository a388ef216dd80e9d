package provisioning

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/bleprov/subsystems/networking"
)

func TestScannerDedupe(t *testing.T) {
	tests := []struct {
		name   string
		unique int
		dupes  int
	}{
		{"none", 0, 0},
		{"few unique", 3, 0},
		{"few with dupes", 4, 3},
		{"exactly limit", 10, 0},
		{"over limit", 14, 0},
		{"over limit with dupes", 12, 6},
		{"under limit after dedupe", 8, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aps := []networking.AccessPoint{}
			for i := 0; i < tt.unique; i++ {
				aps = append(aps, secured(fmt.Sprintf("net%d", i)))
			}
			for i := 0; i < tt.dupes; i++ {
				aps = append(aps, open(fmt.Sprintf("net%d", i%max(tt.unique, 1))))
			}
			if tt.unique == 0 {
				aps = nil
			}

			radio := &fakeRadio{aps: aps}
			s := NewScanner(logging.NewTestLogger(t), radio, &fakeSleeper{}, DefaultScanLimit, time.Millisecond*100)
			res := s.Scan(t.Context())

			test.That(t, len(res.Networks), test.ShouldEqual, min(tt.unique, DefaultScanLimit))
			for i, n := range res.Networks {
				// first-seen order, and the first sighting wins
				test.That(t, n.SSID, test.ShouldEqual, fmt.Sprintf("net%d", i))
				test.That(t, n.IsOpen, test.ShouldBeFalse)
			}
			if tt.unique == 0 {
				test.That(t, res.Err, test.ShouldEqual, ErrScanEmpty)
			} else {
				test.That(t, res.Err, test.ShouldBeNil)
			}
		})
	}
}

func TestScannerDedupeInterleaved(t *testing.T) {
	tests := []struct {
		name    string
		ssids   []string
		network []string
	}{
		{"pairs", []string{"a", "a", "b", "b", "c"}, []string{"a", "b", "c"}},
		{"three seen, two unique", []string{"home", "cafe", "home"}, []string{"home", "cafe"}},
		{
			"pairs past the limit",
			[]string{"a", "a", "b", "b", "c", "c", "d", "d", "e", "e", "f", "f", "g", "g", "h", "h", "i", "i", "j", "j", "k", "k", "l"},
			[]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
		},
		{
			"repeats between new networks",
			[]string{"a", "b", "a", "c", "b", "a", "d", "e", "f", "d", "g", "h", "i", "a", "j", "k"},
			[]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
		},
		{"case sensitive", []string{"Home", "home", "HOME", "home"}, []string{"Home", "home", "HOME"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aps := []networking.AccessPoint{}
			for _, ssid := range tt.ssids {
				aps = append(aps, secured(ssid))
			}
			radio := &fakeRadio{aps: aps}
			s := NewScanner(logging.NewTestLogger(t), radio, &fakeSleeper{}, DefaultScanLimit, 0)

			res := s.Scan(t.Context())
			got := []string{}
			for _, n := range res.Networks {
				got = append(got, n.SSID)
			}
			test.That(t, got, test.ShouldResemble, tt.network)
			test.That(t, res.Err, test.ShouldBeNil)
		})
	}
}

func TestScannerSequence(t *testing.T) {
	radio := &fakeRadio{aps: []networking.AccessPoint{open("cafe")}}
	sleeper := &fakeSleeper{}
	s := NewScanner(logging.NewTestLogger(t), radio, sleeper, 0, time.Millisecond*100)

	res := s.Scan(t.Context())
	test.That(t, res.Networks, test.ShouldResemble, []NetworkEntry{{SSID: "cafe", IsOpen: true}})
	test.That(t, radio.getCalls(), test.ShouldResemble, []string{"station", "disconnect", "scan"})
	test.That(t, sleeper.sleeps, test.ShouldResemble, []time.Duration{time.Millisecond * 100})
}

func TestScannerRadioError(t *testing.T) {
	radio := &fakeRadio{
		aps:     []networking.AccessPoint{open("cafe")},
		scanErr: errors.New("device busy"),
	}
	s := NewScanner(logging.NewTestLogger(t), radio, &fakeSleeper{}, DefaultScanLimit, 0)

	res := s.Scan(t.Context())
	test.That(t, res.Err, test.ShouldEqual, ErrScanEmpty)
	test.That(t, res.Networks, test.ShouldBeEmpty)
	test.That(t, res.JSON(), test.ShouldEqual, `[{"error":"No networks found"}]`)
}

func TestScanResultJSON(t *testing.T) {
	res := ScanResult{Networks: []NetworkEntry{
		{SSID: "home", IsOpen: false},
		{SSID: "cafe", IsOpen: true},
		{SSID: `say "hi" & <bye>`, IsOpen: false},
	}}
	test.That(t, res.JSON(), test.ShouldEqual,
		`[{"ssid":"home","encryption":"Secured"},{"ssid":"cafe","encryption":"Open"},`+
			`{"ssid":"say \"hi\" & <bye>","encryption":"Secured"}]`)

	test.That(t, ScanResult{Err: ErrScanEmpty}.JSON(), test.ShouldEqual, `[{"error":"No networks found"}]`)
	test.That(t, ScanResult{}.JSON(), test.ShouldEqual, `[{"error":"No networks found"}]`)
}

func TestScanIdempotent(t *testing.T) {
	radio := &fakeRadio{aps: []networking.AccessPoint{secured("a"), open("b"), secured("a"), secured("c")}}
	s := NewScanner(logging.NewTestLogger(t), radio, &fakeSleeper{}, DefaultScanLimit, 0)

	first := s.Scan(t.Context()).JSON()
	for i := 0; i < 5; i++ {
		test.That(t, s.Scan(t.Context()).JSON(), test.ShouldEqual, first)
	}
}
