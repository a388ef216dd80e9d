package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	errw "github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"tinygo.org/x/bluetooth"

	"github.com/viamrobotics/bleprov/subsystems/ble"
)

func btClient() error {
	adapter := bluetooth.DefaultAdapter

	if err := adapter.Enable(); err != nil {
		return err
	}

	if opts.BTScan {
		return BTScanOnly(adapter)
	}

	device, err := Connect(adapter)
	if err != nil {
		return errw.Wrap(err, "connecting")
	}
	defer Disconnect(device)

	char, err := getProvisioningCharacteristic(device)
	if err != nil {
		return err
	}

	responses := make(chan []byte, 4)
	reassembler := ble.Reassembler{Size: opts.ChunkSize}
	err = char.EnableNotifications(func(buf []byte) {
		msg, done := reassembler.Add(buf)
		if !done {
			return
		}
		select {
		case responses <- msg:
		default:
			fmt.Println("dropping unexpected response")
		}
	})
	if err != nil {
		return errw.Wrap(err, "enabling notifications")
	}

	if opts.Networks {
		if err := BTGetNetworks(char, responses); err != nil {
			return err
		}
	}

	if opts.WifiSSID != "" {
		if err := BTSetWifiCreds(char, responses); err != nil {
			return err
		}
	}

	return nil
}

func BTScanOnly(adapter *bluetooth.Adapter) error {
	fmt.Println("Scanning for bluetooth devices...")

	seen := make(map[string]bool)
	return scanFor(time.Minute, func() error {
		return adapter.Scan(
			func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
				if device.LocalName() != "" {
					if seen[device.Address.String()] {
						return
					}
					seen[device.Address.String()] = true
					fmt.Printf("Found device: %s [%s]\n", device.LocalName(), device.Address.String())
				}
			},
		)
	}, adapter.StopScan)
}

// scanFor runs a blocking scan for d, then stops it and returns the scan's own result.
func scanFor(d time.Duration, scan, stop func() error) error {
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scan()
	}()

	select {
	case err := <-scanErr:
		return errw.Wrap(err, "scanning ended early")
	case <-time.After(d):
	}
	if err := stop(); err != nil {
		return err
	}
	return <-scanErr
}

func BTScan(adapter *bluetooth.Adapter) (bluetooth.Address, error) {
	fmt.Printf("Searching for device name that includes filter string: %s\n", opts.BTFilter)
	fmt.Println("Scanning...")

	ch := make(chan bluetooth.ScanResult, 1)

	go func() {
		err := adapter.Scan(
			func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
				if strings.Contains(device.LocalName(), opts.BTFilter) {
					fmt.Printf("Found device: %s [%s]\n", device.LocalName(), device.Address.String())
					select {
					case ch <- device:
					default:
					}
				}
			},
		)
		if err != nil {
			fmt.Printf("error while scanning: %s", err.Error())
		}
	}()

	var addr bluetooth.Address
	var good bool

	select {
	case result := <-ch:
		good = true
		addr = result.Address
	case <-time.After(time.Second * 30):
	}
	err := adapter.StopScan()
	if !good {
		return addr, errors.Join(err, fmt.Errorf("failed to find device matching filter: %s", opts.BTFilter))
	}

	return addr, err
}

func Connect(adapter *bluetooth.Adapter) (*bluetooth.Device, error) {
	addr, err := BTScan(adapter)
	if err != nil {
		return nil, errw.Wrap(err, "scanning")
	}

	fmt.Printf("Connecting to %s...\n", addr.String())
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, errw.Wrap(err, "connecting device")
	}
	return &device, nil
}

func Disconnect(device *bluetooth.Device) {
	fmt.Println("Disconnecting...")
	err := device.Disconnect()
	if err != nil {
		println(err)
	}
}

func getProvisioningCharacteristic(device *bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	var char bluetooth.DeviceCharacteristic

	fmt.Printf("Discovering characteristics for service UUID: %s\n", ble.ServiceUUID())
	srvcs, err := device.DiscoverServices([]bluetooth.UUID{ble.ServiceUUID()})
	if err != nil {
		return char, errw.Wrap(err, "discovering service")
	}
	if len(srvcs) == 0 {
		return char, errw.New("provisioning service not found")
	}
	chars, err := srvcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return char, errw.Wrap(err, "discovering characteristics")
	}

	for _, c := range chars {
		if c.UUID() == ble.CharacteristicUUID() {
			fmt.Printf("Found: %s\n", c.UUID().String())
			return c, nil
		}
		fmt.Printf("Unknown characteristic discovered with UUID: %s\n", c.UUID().String())
	}
	return char, errw.New("provisioning characteristic not found")
}

// request writes a command and waits for its (reassembled) notification.
func request(char bluetooth.DeviceCharacteristic, responses <-chan []byte, payload, waitMsg string) (string, error) {
	if _, err := char.WriteWithoutResponse([]byte(payload)); err != nil {
		return "", errw.Wrap(err, "writing command")
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(waitMsg),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	defer func() {
		//nolint:errcheck
		bar.Finish()
	}()

	ticker := time.NewTicker(time.Millisecond * 100)
	defer ticker.Stop()
	timeout := time.After(opts.Timeout)
	for {
		select {
		case resp := <-responses:
			return string(resp), nil
		case <-ticker.C:
			//nolint:errcheck
			bar.Add(1)
		case <-timeout:
			return "", errw.Errorf("no response after %s", opts.Timeout)
		}
	}
}

func BTGetNetworks(char bluetooth.DeviceCharacteristic, responses <-chan []byte) error {
	resp, err := request(char, responses, opts.ScanToken, "scanning for networks")
	if err != nil {
		return err
	}

	var nets []map[string]string
	if err := json.Unmarshal([]byte(resp), &nets); err != nil {
		return errw.Wrapf(err, "parsing network list: %q", resp)
	}

	fmt.Println("Networks:")
	for _, net := range nets {
		if msg, ok := net["error"]; ok {
			fmt.Println(msg)
			continue
		}
		fmt.Printf("SSID: %s, Encryption: %s\n", net["ssid"], net["encryption"])
	}
	return nil
}

func BTSetWifiCreds(char bluetooth.DeviceCharacteristic, responses <-chan []byte) error {
	fmt.Println("Writing wifi credentials...")
	resp, err := request(char, responses, opts.WifiSSID+":"+opts.WifiPSK, "waiting for connection")
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}
