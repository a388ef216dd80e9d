// Package bleprov wires the wifi radio, the provisioning controller, and the BLE transport into a daemon.
package bleprov

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/viamrobotics/bleprov/subsystems/ble"
	"github.com/viamrobotics/bleprov/subsystems/networking"
	"github.com/viamrobotics/bleprov/subsystems/provisioning"
	"github.com/viamrobotics/bleprov/utils"
)

const (
	SubsystemName = "bleprov"

	healthCheckInterval = time.Second * 30
	postConnectTimeout  = time.Minute * 5
	// must be lower than the systemd stop timeout in cmd/bleprov.
	stopAllTimeout = time.Minute
)

// Manager is the core of the daemon. It owns the radio, the provisioning controller, and the BLE transport,
// and runs the main loop that performs post-connect setup.
type Manager struct {
	activeBackgroundWorkers sync.WaitGroup

	logger logging.Logger
	cfg    utils.Config

	radio      provisioning.Radio
	closeRadio func() error
	controller *provisioning.Controller
	transport  ble.Transport
	health     *utils.Health

	mu                 sync.Mutex
	advertisingStopped bool

	globalCancel context.CancelFunc
}

// NewManager returns a Manager for cfg, connecting to the configured wifi backend.
func NewManager(ctx context.Context, logger logging.Logger, cfg utils.Config, globalCancel context.CancelFunc) (*Manager, error) {
	radio, err := networking.New(ctx, logger, cfg)
	if err != nil {
		return nil, errw.Wrap(err, "initializing wifi")
	}
	m := newManager(logger, cfg, radio, ble.New, globalCancel)
	m.closeRadio = radio.Close
	return m, nil
}

func newManager(
	logger logging.Logger,
	cfg utils.Config,
	radio provisioning.Radio,
	newTransport func(logging.Logger, utils.Config, ble.Handler) ble.Transport,
	globalCancel context.CancelFunc,
) *Manager {
	m := &Manager{
		logger:       logger,
		cfg:          cfg,
		radio:        radio,
		health:       utils.NewHealth(),
		globalCancel: globalCancel,
	}
	m.controller = provisioning.NewController(logger, radio, m.health, cfg)
	m.transport = newTransport(logger, cfg, m.controller)
	m.setDebug(cfg.Debug.Get())
	return m
}

func (m *Manager) setDebug(debug bool) {
	if debug {
		m.logger.SetLevel(logging.DEBUG)
	} else {
		m.logger.SetLevel(logging.INFO)
	}
}

// Controller exposes the provisioning controller, mainly for status reporting.
func (m *Manager) Controller() *provisioning.Controller {
	return m.controller
}

// Start brings up the BLE transport and the main loop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.transport.Start(ctx); err != nil {
		return errw.Wrap(err, "starting bluetooth provisioning")
	}
	m.StartBackgroundChecks(ctx)
	return nil
}

// StartBackgroundChecks runs the main loop: it waits for successful provisioning and periodically checks the transport.
func (m *Manager) StartBackgroundChecks(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	m.logger.Debug("starting background checks")
	m.activeBackgroundWorkers.Add(1)
	go func() {
		defer utils.Recover(m.logger, func(_ any) {
			// if panic escalates to this height, we should let it crash and get restarted from systemd
			m.logger.Error("serious panic discovered, exiting for clean restart")
			if m.globalCancel != nil {
				m.globalCancel()
			}
		})
		defer m.activeBackgroundWorkers.Done()

		timer := time.NewTimer(healthCheckInterval)
		defer timer.Stop()
		for {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-m.controller.PostConnectSetup():
				if m.controller.RequestPostConnectSetup(true) {
					m.PostConnectSetup(ctx)
				}
				m.health.MarkGood()
			case <-timer.C:
				m.HealthCheck(ctx)
				m.health.MarkGood()
				timer.Reset(healthCheckInterval)
			}
		}
	}()
}

// PostConnectSetup runs once per successful provisioning: it optionally stops advertising
// and runs the configured post_connect_command.
func (m *Manager) PostConnectSetup(ctx context.Context) {
	m.logger.Info("wifi provisioned, running post-connect setup")

	if !m.cfg.StopAdvertisingOnConnect.IsSet() || m.cfg.StopAdvertisingOnConnect.Get() {
		if err := m.transport.StopAdvertising(); err != nil && !errors.Is(err, ble.ErrNotAdvertised) {
			m.logger.Warn(err)
		} else {
			m.mu.Lock()
			m.advertisingStopped = true
			m.mu.Unlock()
		}
	}

	if len(m.cfg.PostConnectCommand) == 0 {
		return
	}
	if err := m.runPostConnectCommand(ctx); err != nil {
		m.logger.Errorw("post-connect command failed", "command", m.cfg.PostConnectCommand, "error", err)
	}
}

func (m *Manager) runPostConnectCommand(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, postConnectTimeout)
	defer cancel()

	args := m.cfg.PostConnectCommand
	//nolint:gosec
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = utils.NewMatchingLogger(m.logger.AsZap(), args[0], false)
	cmd.Stderr = utils.NewMatchingLogger(m.logger.AsZap(), args[0], true)
	utils.PlatformProcSettings(cmd)
	cmd.Cancel = func() error {
		return utils.KillTree(cmd.Process.Pid)
	}

	m.logger.Infof("running post-connect command: %v", args)
	if err := cmd.Run(); err != nil {
		return errw.Wrapf(err, "running %s", args[0])
	}
	return nil
}

// HealthCheck reports the daemon's health and restarts the BLE transport if it has failed.
func (m *Manager) HealthCheck(ctx context.Context) {
	defer utils.Recover(m.logger, nil)
	if ctx.Err() != nil {
		return
	}

	if m.Healthy() {
		m.logger.Debug("healthcheck succeeded")
		return
	}
	if m.transport.Healthy() {
		// the transport is fine, a long post-connect command held up the main loop
		m.logger.Warnw("main loop missed its health deadline", "timeout", m.health.Timeout, "status", m.controller.Status().State)
		return
	}

	m.logger.Errorw("bluetooth healthcheck failed, restarting", "status", m.controller.Status().State)
	if err := m.transport.Close(); err != nil {
		m.logger.Warn(errw.Wrap(err, "stopping bluetooth"))
	}
	if ctx.Err() != nil {
		return
	}
	if err := m.transport.Start(ctx); err != nil {
		m.logger.Warn(errw.Wrap(err, "restarting bluetooth"))
		return
	}

	m.mu.Lock()
	stopped := m.advertisingStopped
	m.mu.Unlock()
	if stopped {
		if err := m.transport.StopAdvertising(); err != nil {
			m.logger.Warn(err)
		}
	}
}

// Healthy reports whether both the main loop and the transport are alive.
func (m *Manager) Healthy() bool {
	return m.health.IsHealthy() && m.transport.Healthy()
}

// CloseAll stops the transport, the controller, and all background workers.
func (m *Manager) CloseAll() {
	slowWatcher, slowWatcherCancel := goutils.SlowGoroutineWatcher(
		stopAllTimeout,
		"bleprov failed to shut down within "+stopAllTimeout.String(),
		m.logger,
	)
	defer slowWatcherCancel()

	done := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		defer close(done)

		if err := m.transport.Close(); err != nil {
			m.logger.Warn(err)
		}
		m.controller.Close()
		m.activeBackgroundWorkers.Wait()
		if m.closeRadio != nil {
			if err := m.closeRadio(); err != nil {
				m.logger.Warn(err)
			}
		}
	})

	select {
	case <-done:
		m.logger.Info("All subsystems and background workers shut down")
	case <-slowWatcher:
		m.logger.Error("Shutdown timed out, exiting now")
	}
}
