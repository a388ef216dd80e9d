package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.viam.com/rdk/logging"
)

// Scanner performs station-mode wifi scans and reduces them to a bounded list of unique networks.
type Scanner struct {
	logger  logging.Logger
	radio   Radio
	sleeper Sleeper

	limit  int
	settle time.Duration
}

func NewScanner(logger logging.Logger, radio Radio, sleeper Sleeper, limit int, settle time.Duration) *Scanner {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	return &Scanner{
		logger:  logger,
		radio:   radio,
		sleeper: sleeper,
		limit:   limit,
		settle:  settle,
	}
}

// Scan puts the radio in station mode, drops any association, waits for the radio to settle, then scans.
// A radio failure is reported the same way as finding no networks.
func (s *Scanner) Scan(ctx context.Context) ScanResult {
	if err := s.radio.SetStationMode(ctx); err != nil {
		s.logger.Warn(err)
	}
	if err := s.radio.Disconnect(ctx); err != nil {
		s.logger.Warn(err)
	}
	if s.settle > 0 && !s.sleeper.Sleep(ctx, s.settle) {
		return ScanResult{Err: ErrScanEmpty}
	}

	aps, err := s.radio.Scan(ctx)
	if err != nil {
		s.logger.Warnw("wifi scan failed", "error", err)
		return ScanResult{Err: ErrScanEmpty}
	}
	s.logger.Debugf("wifi scan found %d access points", len(aps))

	seen := make(map[string]bool, s.limit)
	res := ScanResult{}
	for _, ap := range aps {
		if len(res.Networks) >= s.limit {
			break
		}
		if seen[ap.SSID] {
			continue
		}
		seen[ap.SSID] = true
		res.Networks = append(res.Networks, NetworkEntry{SSID: ap.SSID, IsOpen: ap.IsOpen()})
	}

	if len(res.Networks) == 0 {
		res.Err = ErrScanEmpty
	}
	return res
}

type jsonNetwork struct {
	SSID       string `json:"ssid"`
	Encryption string `json:"encryption"`
}

type jsonError struct {
	Error string `json:"error"`
}

// JSON renders the result in its wire form, for example
// [{"ssid":"home","encryption":"Secured"}] or [{"error":"No networks found"}].
func (r ScanResult) JSON() string {
	var v any
	if r.Err != nil || len(r.Networks) == 0 {
		v = []jsonError{{Error: noNetworksFound}}
	} else {
		nets := make([]jsonNetwork, 0, len(r.Networks))
		for _, n := range r.Networks {
			enc := "Secured"
			if n.IsOpen {
				enc = "Open"
			}
			nets = append(nets, jsonNetwork{SSID: n.SSID, Encryption: enc})
		}
		v = nets
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// only strings are encoded, so this is unreachable
		return `[{"error":"` + noNetworksFound + `"}]`
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
