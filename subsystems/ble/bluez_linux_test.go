package ble

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"go.viam.com/test"
)

func TestParseConnectedSignal(t *testing.T) {
	devPath := dbus.ObjectPath(bluezAdapterPath + "/dev_AA_BB_CC_DD_EE_FF")

	tests := []struct {
		name      string
		signal    *dbus.Signal
		path      string
		connected bool
		ok        bool
	}{
		{name: "nil", signal: nil},
		{name: "empty body", signal: &dbus.Signal{Path: devPath}},
		{
			name: "other interface",
			signal: &dbus.Signal{Path: devPath, Body: []any{
				"org.bluez.Adapter1", map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}, []string{},
			}},
		},
		{
			name: "other property",
			signal: &dbus.Signal{Path: devPath, Body: []any{
				BluezDevice, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}, []string{},
			}},
		},
		{
			name: "connected",
			signal: &dbus.Signal{Path: devPath, Body: []any{
				BluezDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}, []string{},
			}},
			path:      string(devPath),
			connected: true,
			ok:        true,
		},
		{
			name: "disconnected",
			signal: &dbus.Signal{Path: devPath, Body: []any{
				BluezDevice, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}, []string{},
			}},
			path: string(devPath),
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, connected, ok := parseConnectedSignal(tt.signal)
			test.That(t, ok, test.ShouldEqual, tt.ok)
			test.That(t, path, test.ShouldEqual, tt.path)
			test.That(t, connected, test.ShouldEqual, tt.connected)
		})
	}
}

func TestVersionRegex(t *testing.T) {
	for in, expected := range map[string]string{
		"5.66\n":               "5.66",
		"bluetoothctl: 5.72\n": "5.72",
		"5.64.1":               "5.64.1",
	} {
		m := versionRegex.FindStringSubmatch(in)
		test.That(t, m, test.ShouldNotBeNil)
		test.That(t, m[1], test.ShouldEqual, expected)
	}
	test.That(t, minBlueZVersion.String(), test.ShouldEqual, "5.66.0")
}
