package networking

import (
	"context"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/utils"
)

// New returns the Radio for the configured backend.
func New(_ context.Context, logger logging.Logger, cfg utils.Config) (Radio, error) {
	logger = logger.Sublogger(SubsysName)
	switch cfg.Backend {
	case utils.BackendWPASupplicant:
		return NewWPASupplicant(logger, cfg.Interface, cfg.ScanTimeout.Get())
	case utils.BackendNetworkManager, "":
		return NewNetworkManager(logger, cfg.Interface, cfg.ScanTimeout.Get())
	default:
		return nil, errw.Errorf("unknown wifi backend %q", cfg.Backend)
	}
}
