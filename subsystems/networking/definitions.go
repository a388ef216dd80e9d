// Package networking drives the wifi radio on behalf of the provisioning controller.
package networking

import (
	"context"
	"errors"
	"time"

	errw "github.com/pkg/errors"
)

// This file contains type, const, and var definitions.

const (
	SubsysName = "networking"

	// SecurityOpen is the security string reported for networks without any encryption.
	SecurityOpen = "-"
)

var (
	ErrBadPassword   = errors.New("bad or missing password")
	ErrNM            = errors.New("NetworkManager does not appear to be responding as expected. " +
		"Please ensure NetworkManger >= v1.30 is installed and enabled.")
	ErrNoWifi        = errors.New("no wifi devices found")
	ErrWPA           = errors.New("wpa_supplicant does not appear to be responding on the system DBus")
	ErrScanTimeout   = errors.New("wifi scanning timed out")
	ErrUnsupported   = errors.New("wifi management is only supported on linux")
	ErrNotConfigured = errors.New("no connection has been requested")

	scanPollInterval = time.Millisecond * 250
)

// AccessPoint is a single result from a wifi scan.
type AccessPoint struct {
	SSID     string
	Security string
	Signal   uint8
}

// IsOpen returns true if joining the network requires no password.
func (ap AccessPoint) IsOpen() bool {
	return ap.Security == "" || ap.Security == SecurityOpen
}

// Radio is a wifi subsystem able to scan and join networks in station (client) mode.
type Radio interface {
	// SetStationMode puts the radio into client mode, enabling it if needed.
	SetStationMode(ctx context.Context) error
	// Disconnect drops any current association. Not being associated is not an error.
	Disconnect(ctx context.Context) error
	// Scan performs a fresh scan and returns every access point seen, in the order the radio reports them.
	Scan(ctx context.Context) ([]AccessPoint, error)
	// Connect issues (but does not wait for) a connection request.
	Connect(ctx context.Context, ssid, psk string) error
	// Connected reports whether the most recently requested network is fully connected.
	Connected(ctx context.Context) (bool, error)
	Close() error
}

// validatePSK mirrors the WPA passphrase rules NetworkManager and wpa_supplicant both enforce.
func validatePSK(psk string) error {
	if psk != "" && (len(psk) < 8 || len(psk) > 63) {
		return errw.Wrap(ErrBadPassword, "wifi passwords must be 8 to 63 characters long, or completely empty (for unsecured networks)")
	}
	return nil
}

// signalFromDBM converts a dBm reading into the 0-100 scale NetworkManager uses.
func signalFromDBM(dbm int16) uint8 {
	switch {
	case dbm <= -100:
		return 0
	case dbm >= -50:
		return 100
	default:
		return uint8(2 * (int(dbm) + 100))
	}
}
