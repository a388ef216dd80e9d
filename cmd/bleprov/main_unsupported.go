//go:build !linux

package main

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

func lockOwnerStale(_ int) bool {
	return false
}

func install(_ context.Context, _ logging.Logger, _ string) error {
	return errors.New("--install is only supported on linux with systemd")
}
