package networking

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

const (
	wpaService   = "fi.w1.wpa_supplicant1"
	wpaPath      = "/fi/w1/wpa_supplicant1"
	wpaIface     = wpaService + ".Interface"
	wpaBSSIface  = wpaService + ".BSS"
	propsGetAll  = "org.freedesktop.DBus.Properties.GetAll"
	wpaCompleted = "completed"
)

// WPASupplicant is a Radio that talks to wpa_supplicant directly, for systems without NetworkManager.
type WPASupplicant struct {
	mu     sync.Mutex
	logger logging.Logger

	conn  *dbus.Conn
	iface dbus.BusObject

	scanTimeout time.Duration

	network dbus.ObjectPath
	// set once the current attempt has reached the key exchange
	sawHandshake bool
}

// NewWPASupplicant attaches to ifName (which must be set) on the running wpa_supplicant,
// registering the interface with it if necessary.
func NewWPASupplicant(logger logging.Logger, ifName string, scanTimeout time.Duration) (*WPASupplicant, error) {
	if ifName == "" {
		return nil, errw.Wrap(ErrWPA, "an interface name must be configured for the wpa_supplicant backend")
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Error(err)
		return nil, ErrWPA
	}

	root := conn.Object(wpaService, wpaPath)

	var ifPath dbus.ObjectPath
	if err := root.Call(wpaService+".GetInterface", 0, ifName).Store(&ifPath); err != nil {
		logger.Debugf("interface %s not known to wpa_supplicant, creating it: %s", ifName, err)
		args := map[string]any{"Ifname": ifName}
		if err := root.Call(wpaService+".CreateInterface", 0, args).Store(&ifPath); err != nil {
			conn.Close()
			return nil, errw.Wrapf(ErrWPA, "creating interface %s: %s", ifName, err)
		}
	}

	logger.Infof("Using %s (%s) for provisioning via wpa_supplicant", ifName, ifPath)

	return &WPASupplicant{
		logger:      logger,
		conn:        conn,
		iface:       conn.Object(wpaService, ifPath),
		scanTimeout: scanTimeout,
	}, nil
}

func (w *WPASupplicant) getString(prop string) (string, error) {
	v, err := w.iface.GetProperty(wpaIface + "." + prop)
	if err != nil {
		return "", errw.Wrapf(err, "getting %s", prop)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", errw.Errorf("unexpected type for %s: %s", prop, v.Signature())
	}
	return s, nil
}

// SetStationMode makes wpa_supplicant handle scanning and association itself (ap_scan=1).
func (w *WPASupplicant) SetStationMode(ctx context.Context) error {
	if err := w.iface.SetProperty(wpaIface+".ApScan", dbus.MakeVariant(uint32(1))); err != nil {
		return errw.Wrap(err, "setting station mode")
	}
	return nil
}

func (w *WPASupplicant) Disconnect(ctx context.Context) error {
	state, err := w.getString("State")
	if err != nil {
		return err
	}
	if state == "disconnected" || state == "inactive" {
		return nil
	}
	if call := w.iface.CallWithContext(ctx, wpaIface+".Disconnect", 0); call.Err != nil {
		// NotConnected is fine
		w.logger.Debug(errw.Wrap(call.Err, "disconnecting"))
	}
	return nil
}

func (w *WPASupplicant) Scan(ctx context.Context) ([]AccessPoint, error) {
	call := w.iface.CallWithContext(ctx, wpaIface+".Scan", 0, map[string]any{"Type": "active"})
	if call.Err != nil {
		return nil, errw.Wrap(call.Err, "requesting wifi scan")
	}

	scanDeadline := time.Now().Add(w.scanTimeout)
	for {
		if !utils.SelectContextOrWait(ctx, scanPollInterval) {
			return nil, ctx.Err()
		}
		v, err := w.iface.GetProperty(wpaIface + ".Scanning")
		if err != nil {
			return nil, errw.Wrap(err, "getting scan state")
		}
		if scanning, ok := v.Value().(bool); ok && !scanning {
			break
		}
		if time.Now().After(scanDeadline) {
			return nil, ErrScanTimeout
		}
	}

	v, err := w.iface.GetProperty(wpaIface + ".BSSs")
	if err != nil {
		return nil, errw.Wrap(err, "listing scan results")
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, errw.Errorf("unexpected type for BSSs: %s", v.Signature())
	}

	aps := make([]AccessPoint, 0, len(paths))
	for _, p := range paths {
		var props map[string]dbus.Variant
		if err := w.conn.Object(wpaService, p).CallWithContext(ctx, propsGetAll, 0, wpaBSSIface).Store(&props); err != nil {
			w.logger.Warn(errw.Wrapf(err, "getting properties of %s", p))
			continue
		}
		ap, ok := accessPointFromBSS(props)
		if !ok {
			continue
		}
		aps = append(aps, ap)
	}
	return aps, nil
}

func accessPointFromBSS(props map[string]dbus.Variant) (AccessPoint, bool) {
	ssid, ok := props["SSID"].Value().([]byte)
	if !ok || len(ssid) == 0 {
		return AccessPoint{}, false
	}
	ap := AccessPoint{SSID: string(ssid), Security: SecurityOpen}

	if signal, ok := props["Signal"].Value().(int16); ok {
		ap.Signal = signalFromDBM(signal)
	}

	wpa := keyMgmt(props["WPA"])
	rsn := keyMgmt(props["RSN"])
	privacy, _ := props["Privacy"].Value().(bool)

	switch {
	case len(rsn) > 0:
		ap.Security = "WPA2"
		for _, k := range rsn {
			if k == "sae" {
				ap.Security = "WPA3"
			}
		}
	case len(wpa) > 0:
		ap.Security = "WPA1"
	case privacy:
		ap.Security = "WEP"
	}
	return ap, true
}

func keyMgmt(v dbus.Variant) []string {
	m, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil
	}
	km, _ := m["KeyMgmt"].Value().([]string)
	return km
}

// Connect replaces any configured networks with ssid and selects it.
func (w *WPASupplicant) Connect(ctx context.Context, ssid, psk string) error {
	if err := validatePSK(psk); err != nil {
		return err
	}

	args := map[string]any{"ssid": ssid}
	if psk != "" {
		args["psk"] = psk
	} else {
		args["key_mgmt"] = "NONE"
	}

	if call := w.iface.CallWithContext(ctx, wpaIface+".RemoveAllNetworks", 0); call.Err != nil {
		return errw.Wrap(call.Err, "removing old networks")
	}

	var netPath dbus.ObjectPath
	if err := w.iface.CallWithContext(ctx, wpaIface+".AddNetwork", 0, args).Store(&netPath); err != nil {
		return errw.Wrapf(err, "adding network %s", ssid)
	}

	w.mu.Lock()
	w.network = netPath
	w.sawHandshake = false
	w.mu.Unlock()

	w.logger.Infow("selecting network", "ssid", ssid, "path", netPath)
	if call := w.iface.CallWithContext(ctx, wpaIface+".SelectNetwork", 0, netPath); call.Err != nil {
		return errw.Wrapf(call.Err, "selecting network %s", ssid)
	}
	return nil
}

// Connected reports "completed" as connected. Falling back to disconnected after
// reaching the 4-way handshake is reported as ErrBadPassword.
func (w *WPASupplicant) Connected(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.network == "" {
		return false, ErrNotConfigured
	}

	state, err := w.getString("State")
	if err != nil {
		return false, err
	}
	w.logger.Debugf("wpa_supplicant state: %s", state)

	switch state {
	case wpaCompleted:
		v, err := w.iface.GetProperty(wpaIface + ".CurrentNetwork")
		if err != nil {
			return false, errw.Wrap(err, "getting current network")
		}
		current, _ := v.Value().(dbus.ObjectPath)
		return current == w.network, nil
	case "4way_handshake", "group_handshake":
		w.sawHandshake = true
	case "disconnected", "inactive":
		if w.sawHandshake {
			return false, errw.Wrap(ErrBadPassword, "key exchange failed")
		}
	}
	return false, nil
}

func (w *WPASupplicant) Close() error {
	return w.conn.Close()
}
