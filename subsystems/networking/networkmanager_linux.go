package networking

import (
	"context"
	"errors"
	"sync"
	"time"

	semver "github.com/Masterminds/semver/v3"
	errw "github.com/pkg/errors"
	gnm "github.com/viamrobotics/gonetworkmanager/v2"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

var (
	nmMinVersion        = semver.MustParse("1.30.0")
	nmRadioFlagsVersion = semver.MustParse("1.38.0")

	enableWifiTimeout = time.Second * 10
)

// NetworkManager is a Radio backed by NetworkManager over the system DBus.
type NetworkManager struct {
	mu     sync.Mutex
	logger logging.Logger

	nm       gnm.NetworkManager
	settings gnm.Settings
	dev      gnm.DeviceWireless
	ifName   string

	scanTimeout time.Duration

	// connection id of the most recent Connect() request
	pendingID string
}

// NewNetworkManager connects to NetworkManager and selects the wifi device to manage.
// An empty ifName selects the first 802.11 device found.
func NewNetworkManager(logger logging.Logger, ifName string, scanTimeout time.Duration) (*NetworkManager, error) {
	nm, err := getNM(logger)
	if err != nil {
		return nil, err
	}

	settings, err := gnm.NewSettings()
	if err != nil {
		return nil, errw.Wrap(err, "getting NetworkManager settings")
	}

	w := &NetworkManager{
		logger:      logger,
		nm:          nm,
		settings:    settings,
		ifName:      ifName,
		scanTimeout: scanTimeout,
	}

	if err := w.initDevice(); err != nil {
		return nil, err
	}
	return w, nil
}

func getNM(logger logging.Logger) (gnm.NetworkManager, error) {
	nm, err := gnm.NewNetworkManager()
	if err != nil {
		logger.Error(err)
		return nil, ErrNM
	}

	ver, err := nm.GetPropertyVersion()
	if err != nil {
		logger.Error(err)
		return nil, ErrNM
	}

	logger.Infof("Found NetworkManager version: %s", ver)

	sv, err := semver.NewVersion(ver)
	if err != nil {
		logger.Error(err)
		return nil, ErrNM
	}

	if !sv.GreaterThanEqual(nmMinVersion) {
		return nil, ErrNM
	}

	// Bail out here early if we can't find a wifi radio
	// Older versions will bail out during initDevice() if no wifi interface is found
	if sv.GreaterThanEqual(nmRadioFlagsVersion) {
		flags, err := nm.GetPropertyRadioFlags()
		if err != nil {
			logger.Error(err)
			return nil, ErrNoWifi
		}

		if flags&gnm.NmRadioFlagsWlanAvailable != gnm.NmRadioFlagsWlanAvailable {
			return nil, ErrNoWifi
		}
	}

	return nm, nil
}

func (w *NetworkManager) initDevice() error {
	devices, err := w.nm.GetDevices()
	if err != nil {
		return errw.Wrap(err, "listing NetworkManager devices")
	}

	for _, device := range devices {
		devType, err := device.GetPropertyDeviceType()
		if err != nil {
			return err
		}
		if devType != gnm.NmDeviceTypeWifi {
			continue
		}

		wifiDev, ok := device.(gnm.DeviceWireless)
		if !ok {
			return errors.New("cannot cast to wifi device")
		}
		ifName, err := wifiDev.GetPropertyInterface()
		if err != nil {
			return err
		}

		if w.ifName == "" || ifName == w.ifName {
			w.ifName = ifName
			w.dev = wifiDev
			w.logger.Infof("Using %s for provisioning, will actively manage wifi only on this device.", ifName)
			return nil
		}
	}

	if w.ifName != "" {
		return errw.Wrapf(ErrNoWifi, "cannot find wifi interface: %s", w.ifName)
	}
	return ErrNoWifi
}

// SetStationMode ensures wireless is enabled in NetworkManager.
func (w *NetworkManager) SetStationMode(ctx context.Context) error {
	enabled, err := w.nm.GetPropertyWirelessEnabled()
	if err != nil {
		return errw.Wrap(err, "getting wireless state")
	}
	if enabled {
		return nil
	}

	if err := w.nm.SetPropertyWirelessEnabled(true); err != nil {
		return errw.Wrap(err, "enabling wireless")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, enableWifiTimeout)
	defer cancel()
	for {
		if !utils.SelectContextOrWait(timeoutCtx, scanPollInterval) {
			return errw.Wrap(timeoutCtx.Err(), "enabling wifi")
		}
		enabled, err := w.nm.GetPropertyWirelessEnabled()
		if err != nil {
			return err
		}
		if enabled {
			return nil
		}
	}
}

func (w *NetworkManager) Disconnect(ctx context.Context) error {
	activeConn, err := w.dev.GetPropertyActiveConnection()
	if err != nil {
		return errw.Wrapf(err, "getting active connection for %s", w.ifName)
	}
	if activeConn == nil {
		return nil
	}

	w.logger.Debugf("Deactivating current connection on %s", w.ifName)
	if err := w.nm.DeactivateConnection(activeConn); err != nil {
		return errw.Wrapf(err, "deactivating connection on %s", w.ifName)
	}
	return nil
}

func (w *NetworkManager) Scan(ctx context.Context) ([]AccessPoint, error) {
	prevScan, err := w.dev.GetPropertyLastScan()
	if err != nil {
		return nil, errw.Wrap(err, "getting last wifi scan")
	}

	if err := w.dev.RequestScan(); err != nil {
		return nil, errw.Wrap(err, "requesting wifi scan")
	}

	scanDeadline := time.Now().Add(w.scanTimeout)
	for {
		lastScan, err := w.dev.GetPropertyLastScan()
		if err != nil {
			return nil, errw.Wrap(err, "getting last wifi scan")
		}
		if lastScan > prevScan {
			break
		}
		if !utils.SelectContextOrWait(ctx, scanPollInterval) {
			return nil, ctx.Err()
		}
		if time.Now().After(scanDeadline) {
			return nil, ErrScanTimeout
		}
	}

	wifiList, err := w.dev.GetAccessPoints()
	if err != nil {
		return nil, errw.Wrap(err, "scanning wifi")
	}

	aps := make([]AccessPoint, 0, len(wifiList))
	for _, ap := range wifiList {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ssid, err := ap.GetPropertySSID()
		if err != nil {
			w.logger.Warn(errw.Wrap(err, "getting ssid of discovered wifi network"))
			continue
		}

		if ssid == "" {
			w.logger.Debug("wifi network with blank ssid, ignoring")
			continue
		}

		signal, err := ap.GetPropertyStrength()
		if err != nil {
			w.logger.Warn(errw.Wrap(err, "getting signal strength of discovered wifi network"))
			continue
		}

		apFlags, err := ap.GetPropertyFlags()
		if err != nil {
			w.logger.Warn(errw.Wrap(err, "getting flags of discovered wifi network"))
			continue
		}

		wpaFlags, err := ap.GetPropertyWPAFlags()
		if err != nil {
			w.logger.Warn(errw.Wrap(err, "getting wpa flags of discovered wifi network"))
			continue
		}

		rsnFlags, err := ap.GetPropertyRSNFlags()
		if err != nil {
			w.logger.Warn(errw.Wrap(err, "getting rsn flags of discovered wifi network"))
			continue
		}

		aps = append(aps, AccessPoint{
			SSID:     ssid,
			Security: parseWPAFlags(apFlags, wpaFlags, rsnFlags),
			Signal:   signal,
		})
	}

	return aps, nil
}

// Connect adds (or updates) a connection profile for ssid and asks NetworkManager to activate it.
func (w *NetworkManager) Connect(ctx context.Context, ssid, psk string) error {
	if err := validatePSK(psk); err != nil {
		return err
	}

	id := connectionID(ssid)
	settings, err := generateNetworkSettings(id, w.ifName, ssid, psk)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.pendingID = id
	w.mu.Unlock()

	conn, err := w.addOrUpdateConnection(id, settings)
	if err != nil {
		return err
	}

	w.logger.Infow("activating connection", "id", id)
	if _, err := w.nm.ActivateConnection(conn, w.dev, nil); err != nil {
		return errw.Wrapf(err, "activating connection: %s", id)
	}
	return nil
}

func (w *NetworkManager) addOrUpdateConnection(id string, settings gnm.ConnectionSettings) (gnm.Connection, error) {
	conns, err := w.settings.ListConnections()
	if err != nil {
		return nil, errw.Wrap(err, "listing known connections")
	}

	for _, conn := range conns {
		existing, err := conn.GetSettings()
		if err != nil {
			continue
		}
		if getIDFromSettings(existing) != id {
			continue
		}
		// keep the uuid NetworkManager already knows this profile by
		if oldUUID, ok := existing["connection"]["uuid"]; ok {
			settings["connection"]["uuid"] = oldUUID
		}
		if err := conn.Update(settings); err != nil {
			// we may be out of sync with NetworkManager, fall through to adding it fresh
			w.logger.Warn(errw.Wrapf(err, "updating settings for %s, attempting to add as new network", id))
			break
		}
		w.logger.Infof("Updated settings for network %s", id)
		return conn, nil
	}

	w.logger.Infof("Adding settings for network %s", id)
	newConn, err := w.settings.AddConnection(settings)
	if err != nil {
		return nil, errw.Wrap(err, "adding new connection")
	}
	return newConn, nil
}

// Connected checks the device state. A failure caused by missing/incorrect secrets is reported as ErrBadPassword.
func (w *NetworkManager) Connected(ctx context.Context) (bool, error) {
	w.mu.Lock()
	pendingID := w.pendingID
	w.mu.Unlock()
	if pendingID == "" {
		return false, ErrNotConfigured
	}

	state, reason, err := w.dev.GetPropertyStateReason()
	if err != nil {
		return false, errw.Wrap(err, "getting wifi state and reason")
	}
	w.logger.Debugf("wifi device state: %s, reason: %s", state, reason)

	//nolint:exhaustive
	switch state {
	case gnm.NmDeviceStateActivated:
		activeConn, err := w.dev.GetPropertyActiveConnection()
		if err != nil || activeConn == nil {
			return false, err
		}
		conn, err := activeConn.GetPropertyConnection()
		if err != nil {
			return false, errw.Wrap(err, "getting active connection")
		}
		settings, err := conn.GetSettings()
		if err != nil {
			return false, errw.Wrap(err, "getting active connection settings")
		}
		return getIDFromSettings(settings) == pendingID, nil
	case gnm.NmDeviceStateFailed:
		if reason == gnm.NmDeviceStateReasonNoSecrets {
			return false, errw.Wrapf(ErrBadPassword, "activating connection: %s", pendingID)
		}
		return false, errw.Errorf("connection failed: %s", reason)
	default:
		return false, nil
	}
}

func (w *NetworkManager) Close() error {
	return nil
}
