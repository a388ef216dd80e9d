package provisioning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"

	"github.com/viamrobotics/bleprov/utils"
)

// Controller handles writes from the BLE transport and owns the post-connect setup flag.
type Controller struct {
	// serializes commands, only one may be outstanding
	cmdMu sync.Mutex

	logger    logging.Logger
	parser    Parser
	scanner   *Scanner
	attempter *Attempter
	state     *controllerState

	scanMu   sync.Mutex
	lastScan string

	postConnectSetup atomic.Bool
	postConnectCh    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// guards closed and workers.Add against Close
	workersMu sync.Mutex
	closed    bool
	workers   sync.WaitGroup
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State           State
	LastChange      time.Time
	ClientConnected bool
	LastInteraction time.Time
	LastScan        string
}

func NewController(logger logging.Logger, radio Radio, sleeper Sleeper, cfg utils.Config) *Controller {
	logger = logger.Sublogger(SubsysName)
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:        logger,
		parser:        Parser{ScanToken: cfg.ScanToken},
		scanner:       NewScanner(logger, radio, sleeper, cfg.ScanLimit, cfg.ScanSettleDelay.Get()),
		attempter:     NewAttempter(logger, radio, sleeper, cfg.ConnectAttempts, cfg.ConnectPollInterval.Get()),
		state:         newControllerState(logger),
		postConnectCh: make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// OnWrite runs the command in payload to completion and returns the response to notify.
// A nil response means nothing should be sent.
func (c *Controller) OnWrite(payload []byte) []byte {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	defer c.state.setState(StateIdle)

	c.state.setLastInteraction()
	c.state.setState(StateDispatching)

	cmd := c.parser.Parse(string(payload))
	//nolint:exhaustive
	switch cmd.Kind {
	case CommandScan:
		c.logger.Info("scan requested")
		c.state.setState(StateScanning)
		res := c.scan(c.ctx)
		c.state.setState(StateResponding)
		return []byte(res)
	case CommandCredentials:
		c.logger.Infof("credentials received for %s", cmd.SSID)
		c.state.setState(StateConnecting)
		out := c.attempter.Attempt(c.ctx, cmd.SSID, cmd.Password)
		if out.Connected {
			c.requestPostConnectSetup()
		} else {
			c.logger.Warnw("provisioning failed", "ssid", out.SSID, "reason", out.Reason, "checks", out.Checks)
		}
		c.state.setState(StateResponding)
		return []byte(out.Response())
	default:
		c.logger.Debugf("ignoring unrecognized payload %q", cmd.Raw)
		return nil
	}
}

// OnConnectionChange refreshes the cached scan in the background when a client connects.
func (c *Controller) OnConnectionChange(connected bool) {
	c.state.setClientConnected(connected)
	if !connected {
		return
	}

	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	if c.closed {
		return
	}
	c.workers.Add(1)
	goutils.ManagedGo(func() {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()
		if c.ctx.Err() != nil {
			return
		}
		c.state.setState(StateScanning)
		defer c.state.setState(StateIdle)
		c.scan(c.ctx)
	}, c.workers.Done)
}

func (c *Controller) scan(ctx context.Context) string {
	res := c.scanner.Scan(ctx)
	out := res.JSON()
	c.scanMu.Lock()
	c.lastScan = out
	c.scanMu.Unlock()
	return out
}

func (c *Controller) requestPostConnectSetup() {
	c.postConnectSetup.Store(true)
	select {
	case c.postConnectCh <- struct{}{}:
	default:
	}
}

// RequestPostConnectSetup reports whether a successful provisioning is waiting for post-connect setup,
// clearing the request when clear is true.
func (c *Controller) RequestPostConnectSetup(clear bool) bool {
	if clear {
		return c.postConnectSetup.Swap(false)
	}
	return c.postConnectSetup.Load()
}

// PostConnectSetup receives a value after each successful provisioning. Pending signals are coalesced.
func (c *Controller) PostConnectSetup() <-chan struct{} {
	return c.postConnectCh
}

// LastScan returns the most recent scan response, or an empty string if no scan has run.
func (c *Controller) LastScan() string {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.lastScan
}

func (c *Controller) Status() Status {
	return Status{
		State:           c.state.getState(),
		LastChange:      c.state.getLastChange(),
		ClientConnected: c.state.getClientConnected(),
		LastInteraction: c.state.getLastInteraction(),
		LastScan:        c.LastScan(),
	}
}

// Close aborts any in-flight command and waits for background scans to exit.
func (c *Controller) Close() {
	c.workersMu.Lock()
	c.closed = true
	c.workersMu.Unlock()

	c.cancel()
	c.workers.Wait()
}
