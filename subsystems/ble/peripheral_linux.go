package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	dbus "github.com/godbus/dbus/v5"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"tinygo.org/x/bluetooth"

	"github.com/viamrobotics/bleprov/utils"
)

// Peripheral advertises the provisioning service and forwards writes to a Handler.
type Peripheral struct {
	mu         sync.Mutex
	logger     logging.Logger
	deviceName string
	writes     *writeHandler

	adv       *bluetooth.Advertisement
	advActive bool
	char      bluetooth.Characteristic

	healthy atomic.Bool
	health  *utils.Health

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// New returns a peripheral that will advertise as cfg.DeviceName once started.
func New(logger logging.Logger, cfg utils.Config, handler Handler) Transport {
	logger = logger.Sublogger(SubsysName)
	return &Peripheral{
		logger:     logger,
		deviceName: cfg.DeviceName,
		writes:     &writeHandler{logger: logger, handler: handler, chunkSize: cfg.NotifyChunkSize},
		health:     utils.NewHealth(),
	}
}

// Start registers the GATT service, starts advertising, and begins watching for client connections.
func (p *Peripheral) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advActive {
		return errw.New("invalid request, advertising already active")
	}

	if err := validateSystem(ctx, p.logger); err != nil {
		return errw.Wrap(err, "system requisites not met")
	}

	if err := removeServices(p.logger); err != nil {
		p.logger.Warn(err)
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return errw.Wrap(err, "failed to enable bluetooth adapter")
	}

	serviceUUID := ServiceUUID()
	err := adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &p.char,
				UUID:   CharacteristicUUID(),
				Flags: bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission | bluetooth.CharacteristicNotifyPermission,
				WriteEvent: p.onWrite,
			},
		},
	})
	if err != nil {
		return errw.Wrap(err, "unable to add bluetooth service to default adapter")
	}

	adv := adapter.DefaultAdvertisement()
	opts := bluetooth.AdvertisementOptions{
		LocalName:    p.deviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	}
	if err := adv.Configure(opts); err != nil {
		return errw.Wrap(err, "failed to configure default advertisement")
	}
	if err := adv.Start(); err != nil {
		return errw.Wrap(err, "failed to start advertising")
	}
	p.adv = adv
	p.advActive = true
	p.logger.Debugf("Bluetooth service UUID: %s.", serviceUUID.String())

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.healthy.Store(true)

	p.workers.Add(1)
	goutils.ManagedGo(func() {
		if err := p.listenForConnections(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Errorw("failed to listen for bluetooth connections", "error", err)
			p.healthy.Store(false)
		}
	}, p.workers.Done)

	p.logger.Infof("Bluetooth provisioning started, advertising as %s", p.deviceName)
	return nil
}

func (p *Peripheral) onWrite(_ bluetooth.Connection, offset int, value []byte) {
	defer utils.Recover(p.logger, nil)
	if offset != 0 {
		p.logger.Warnf("ignoring write at offset %d", offset)
		return
	}
	if err := p.writes.handle(value, notifierFunc(p.notify)); err != nil {
		p.logger.Warn(err)
	}
}

func (p *Peripheral) notify(chunk []byte) error {
	_, err := p.char.Write(chunk)
	return err
}

// listenForConnections reports BlueZ device Connected changes to the handler.
func (p *Peripheral) listenForConnections(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return errw.Wrap(err, "failed to connect to system DBus")
	}

	matchRule := "type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged'"
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		return errw.Wrap(err, "failed to add DBus match rule")
	}
	defer func() {
		if err := conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, matchRule).Err; err != nil {
			p.logger.Debug(err)
		}
	}()

	signalChan := make(chan *dbus.Signal, 25)
	conn.Signal(signalChan)
	defer conn.RemoveSignal(signalChan)

	ticker := time.NewTicker(utils.HealthCheckTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.health.MarkGood()
		case signal := <-signalChan:
			path, connected, ok := parseConnectedSignal(signal)
			if !ok || !strings.HasPrefix(path, bluezAdapterPath+"/") {
				continue
			}
			p.logger.Infof("device %s connected: %t", path, connected)
			p.writes.handler.OnConnectionChange(connected)
		}
	}
}

// StopAdvertising hides the service from new clients. Existing connections are unaffected.
func (p *Peripheral) StopAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.advActive {
		return ErrNotAdvertised
	}
	if err := p.adv.Stop(); err != nil {
		return errw.Wrap(err, "failed to stop BT advertising")
	}
	p.advActive = false
	p.logger.Info("Stopped advertising bluetooth service.")
	return nil
}

func (p *Peripheral) Healthy() bool {
	p.mu.Lock()
	started := p.cancel != nil
	p.mu.Unlock()
	return started && p.healthy.Load() && p.health.IsHealthy()
}

func (p *Peripheral) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	active := p.advActive
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.workers.Wait()

	var err error
	if active {
		err = p.StopAdvertising()
	}
	if rmErr := removeServices(p.logger); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	p.healthy.Store(false)
	return err
}
