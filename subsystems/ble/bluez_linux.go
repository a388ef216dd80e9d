package ble

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	semver "github.com/Masterminds/semver/v3"
	dbus "github.com/godbus/dbus/v5"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/utils"
)

const (
	BluezDBusService = "org.bluez"
	BluezDevice      = "org.bluez.Device1"
	bluezAdapterPath = "/org/bluez/hci0"

	versionTimeout = time.Second * 10
)

var (
	minBlueZVersion = semver.MustParse("5.66")
	versionRegex    = regexp.MustCompile(`(\d+\.\d+(\.\d+)?)`)
)

// validateSystem checks that a new enough BlueZ is installed and its adapter is up.
func validateSystem(ctx context.Context, logger logging.Logger) error {
	ver, err := getBlueZVersion(ctx, logger)
	if err != nil {
		return err
	}
	logger.Infof("Found BlueZ version: %s", ver)
	if ver.LessThan(minBlueZVersion) {
		return errw.Wrapf(ErrBlueZVersion, "found %s", ver)
	}

	_, _, err = getBluetoothDBus()
	return err
}

func getBlueZVersion(ctx context.Context, logger logging.Logger) (*semver.Version, error) {
	// Try to get version from bluetoothctl first, fallback to bluetoothd
	versionCmds := [][]string{{"bluetoothctl", "--version"}, {"bluetoothd", "--version"}}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	var errs error
	for _, args := range versionCmds {
		stdout := utils.NewMatchingLogger(logger.AsZap(), args[0], false)
		matches, err := stdout.AddMatcher("version", versionRegex, true)
		if err != nil {
			return nil, err
		}

		//nolint:gosec
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = stdout
		cmd.Stderr = utils.NewMatchingLogger(logger.AsZap(), args[0], true)
		err = cmd.Run()
		stdout.DeleteMatcher("version")
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		for match := range matches {
			return semver.NewVersion(match[1])
		}
		errs = errors.Join(errs, errw.Errorf("no version in %s output", args[0]))
	}

	return nil, errw.Wrap(errs, "BlueZ is not installed or not accessible")
}

func getBluetoothDBus() (*dbus.Conn, dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, nil, errw.Wrap(err, "failed to connect to system DBus")
	}
	hci0Adapter := conn.Object(BluezDBusService, dbus.ObjectPath(bluezAdapterPath))
	// Use "Address" property to check if adapter hci0 is even available.
	_, err = hci0Adapter.GetProperty("org.bluez.Adapter1.Address")
	if err != nil {
		dErr := &dbus.Error{}
		if errors.As(err, dErr) && dErr.Name == "org.freedesktop.DBus.Error.UnknownObject" {
			return nil, nil, errw.Errorf("bluetooth adapter %s does not exist", hci0Adapter.Path())
		}
		return nil, nil, errw.Wrap(err, "getting bluetooth adapter")
	}
	return conn, hci0Adapter, nil
}

// removeServices unregisters GATT applications left behind by a previous run.
// tinygo/bluetooth names them sequentially and has no RemoveService(), so try the first few paths.
func removeServices(logger logging.Logger) error {
	_, adapter, err := getBluetoothDBus()
	if err != nil {
		return err
	}

	var removed int
	for id := range 64 {
		path := dbus.ObjectPath(fmt.Sprintf("/org/tinygo/bluetooth/service%d", id))
		if err := adapter.Call("org.bluez.GattManager1.UnregisterApplication", 0, path).Err; err == nil {
			logger.Debugf("removed gatt service %s", path)
			removed++
		}
	}
	logger.Debugf("removed %d stale gatt services", removed)
	return nil
}

// parseConnectedSignal extracts the device path and new state from a BlueZ PropertiesChanged signal.
func parseConnectedSignal(signal *dbus.Signal) (string, bool, bool) {
	if signal == nil || len(signal.Body) < 2 {
		return "", false, false
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != BluezDevice {
		return "", false, false
	}
	changedProps, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false, false
	}
	connected, exists := changedProps["Connected"]
	if !exists {
		return "", false, false
	}
	state, ok := connected.Value().(bool)
	if !ok {
		return "", false, false
	}
	return string(signal.Path), state, true
}
