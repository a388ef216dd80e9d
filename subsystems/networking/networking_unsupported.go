//go:build !linux

package networking

import (
	"context"

	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/utils"
)

func New(_ context.Context, _ logging.Logger, _ utils.Config) (Radio, error) {
	return nil, ErrUnsupported
}
