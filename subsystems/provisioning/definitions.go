// Package provisioning implements the BLE wifi provisioning protocol. Text commands written to the
// provisioning characteristic are parsed, run against the wifi radio, and answered with a single
// notification.
package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/viamrobotics/bleprov/subsystems/networking"
)

// This file contains type, const, and var definitions.

const (
	SubsysName = "provisioning"

	// DefaultScanToken is the exact payload that requests a network scan.
	DefaultScanToken = "SCANNN"
	// DefaultScanLimit caps the number of unique networks reported by a scan.
	DefaultScanLimit = 10

	connectedPrefix     = "Connected to Network: "
	wrongPasswordPrefix = "WRONG PASSWORD FOR: "
	noNetworksFound     = "No networks found"
)

var ErrScanEmpty = errors.New("no networks found")

// Radio is the part of the wifi subsystem the scanner and attempter drive.
type Radio interface {
	SetStationMode(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Scan(ctx context.Context) ([]networking.AccessPoint, error)
	Connect(ctx context.Context, ssid, psk string) error
	Connected(ctx context.Context) (bool, error)
}

// Sleeper waits for d, returning false if ctx ended first. *utils.Health satisfies it.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) bool
}

// NetworkEntry is one unique network in a scan result.
type NetworkEntry struct {
	SSID   string
	IsOpen bool
}

// ScanResult holds up to the scan limit of unique networks, in the order first seen.
// Err is ErrScanEmpty when nothing was found.
type ScanResult struct {
	Networks []NetworkEntry
	Err      error
}

type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandScan
	CommandCredentials
)

func (k CommandKind) String() string {
	switch k {
	case CommandScan:
		return "scan"
	case CommandCredentials:
		return "credentials"
	case CommandUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Command is a parsed inbound payload. SSID and Password are only set for CommandCredentials.
type Command struct {
	Kind     CommandKind
	SSID     string
	Password string
	Raw      string
}

// FailureReason records why a connection attempt failed. It never changes the response sent to the client.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonTimeout
	ReasonRejected
	ReasonBadPassword
	ReasonCanceled
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonTimeout:
		return "timed out"
	case ReasonRejected:
		return "rejected"
	case ReasonBadPassword:
		return "bad password"
	case ReasonCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ConnectionOutcome is the terminal result of one credentials command.
type ConnectionOutcome struct {
	Connected bool
	SSID      string
	Reason    FailureReason
	// number of status checks performed
	Checks int
}

// Response is the text notified back to the client.
func (o ConnectionOutcome) Response() string {
	if o.Connected {
		return connectedPrefix + o.SSID
	}
	return wrongPasswordPrefix + o.SSID
}
