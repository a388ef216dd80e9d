// Package ble exposes the provisioning controller over a single BLE GATT characteristic.
package ble

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"tinygo.org/x/bluetooth"
)

// This file contains type, const, and var definitions shared by the peripheral and the client.

const (
	SubsysName = "ble"

	// Random (v4) UUID for namespace.
	uuidNamespace = "ea5fb613-da71-4d49-936d-a5a4f75b2631"

	// These values will be combined into Sha1 (v5) UUIDs along with the above namespace.
	serviceNameKey = "bleprov"
	provisionKey   = "provision"

	// MaxChunkSize is the largest attribute value BlueZ will send in one notification. BlueZ truncates
	// notifications to the client's ATT MTU minus 3, so clients with a smaller MTU need a smaller chunk size.
	MaxChunkSize = 512
	// MinChunkSize fits the default ATT MTU of 23.
	MinChunkSize = 20
)

var (
	ErrUnsupported   = errors.New("bluetooth provisioning is only supported on linux")
	ErrBlueZVersion  = errors.New("BlueZ >= 5.66 is required for bluetooth provisioning")
	ErrNotAdvertised = errors.New("bluetooth service is not advertising")
)

// Handler is the provisioning logic behind the characteristic.
type Handler interface {
	// OnWrite handles one complete write and returns the response to notify, or nil to send nothing.
	OnWrite(payload []byte) []byte
	OnConnectionChange(connected bool)
}

// Transport is a running BLE peripheral.
type Transport interface {
	Start(ctx context.Context) error
	StopAdvertising() error
	Healthy() bool
	Close() error
}

type notifier interface {
	Notify(chunk []byte) error
}

type notifierFunc func(chunk []byte) error

func (f notifierFunc) Notify(chunk []byte) error {
	return f(chunk)
}

func getUUID(key string) bluetooth.UUID {
	return bluetooth.NewUUID(uuid.NewSHA1(uuid.MustParse(uuidNamespace), []byte(key)))
}

// ServiceUUID is the advertised provisioning service.
func ServiceUUID() bluetooth.UUID {
	return getUUID(serviceNameKey)
}

// CharacteristicUUID is the read/write/notify characteristic commands are written to.
func CharacteristicUUID() bluetooth.UUID {
	return getUUID(provisionKey)
}

// Chunk splits a response into notifications of at most size bytes (MaxChunkSize when size is out of
// range). A response that is an exact multiple of size gets a trailing empty chunk so the reader can
// tell it has ended.
func Chunk(resp []byte, size int) [][]byte {
	size = chunkSize(size)
	chunks := make([][]byte, 0, len(resp)/size+1)
	for len(resp) >= size {
		chunks = append(chunks, resp[:size])
		resp = resp[size:]
	}
	return append(chunks, resp)
}

func chunkSize(size int) int {
	if size < MinChunkSize || size > MaxChunkSize {
		return MaxChunkSize
	}
	return size
}

// Reassembler rebuilds a response from its notifications. Size must match the sender's chunk size.
type Reassembler struct {
	Size int
	buf  []byte
}

// Add appends a chunk, returning the full message once a short chunk ends it.
func (r *Reassembler) Add(chunk []byte) ([]byte, bool) {
	r.buf = append(r.buf, chunk...)
	if len(chunk) == chunkSize(r.Size) {
		return nil, false
	}
	msg := r.buf
	r.buf = nil
	return msg, true
}

// writeHandler feeds characteristic writes to a Handler. BlueZ-backed characteristics raise their own
// write event when the value is updated for a notification, so writes seen while a response is being
// notified are echoes and are dropped.
type writeHandler struct {
	logger    logging.Logger
	handler   Handler
	chunkSize int

	notifying atomic.Bool
}

func (w *writeHandler) handle(payload []byte, n notifier) error {
	if w.notifying.Load() {
		w.logger.Debugf("ignoring echo of %d byte notification", len(payload))
		return nil
	}
	return dispatch(w.logger, w.handler, payload, notifierFunc(func(chunk []byte) error {
		w.notifying.Store(true)
		defer w.notifying.Store(false)
		return n.Notify(chunk)
	}), w.chunkSize)
}

// dispatch runs the handler for a write and notifies every chunk of the response before returning.
func dispatch(logger logging.Logger, h Handler, payload []byte, n notifier, size int) error {
	// the stack may reuse the buffer after the callback returns
	payload = append([]byte(nil), payload...)

	resp := h.OnWrite(payload)
	if resp == nil {
		return nil
	}

	for i, chunk := range Chunk(resp, size) {
		if err := n.Notify(chunk); err != nil {
			return errw.Wrapf(err, "notifying chunk %d of response", i)
		}
	}
	logger.Debugf("notified %d byte response", len(resp))
	return nil
}
