//go:build !linux

package ble

import (
	"context"

	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/utils"
)

type unsupported struct{}

func New(_ logging.Logger, _ utils.Config, _ Handler) Transport {
	return unsupported{}
}

func (unsupported) Start(context.Context) error { return ErrUnsupported }
func (unsupported) StopAdvertising() error      { return ErrUnsupported }
func (unsupported) Healthy() bool               { return false }
func (unsupported) Close() error                { return nil }
