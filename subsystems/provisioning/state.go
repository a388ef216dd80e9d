package provisioning

import (
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// State is where the controller is in handling a write.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateScanning
	StateConnecting
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

type controllerState struct {
	mu sync.Mutex

	state      State
	lastChange time.Time

	clientConnected bool
	lastInteraction time.Time

	logger logging.Logger
}

func newControllerState(logger logging.Logger) *controllerState {
	return &controllerState{state: StateIdle, lastChange: time.Now(), logger: logger}
}

func (c *controllerState) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != state {
		c.logger.Debugf("provisioning state: %s -> %s", c.state, state)
	}
	c.state = state
	c.lastChange = time.Now()
}

func (c *controllerState) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *controllerState) getLastChange() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChange
}

func (c *controllerState) setClientConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clientConnected != connected {
		c.logger.Infof("BLE client connected: %t", connected)
	}
	c.clientConnected = connected
	c.lastInteraction = time.Now()
}

func (c *controllerState) getClientConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientConnected
}

func (c *controllerState) setLastInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastInteraction = time.Now()
}

func (c *controllerState) getLastInteraction() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInteraction
}
