package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	sysd "github.com/sergeymakinen/go-systemdconf/v2"
	sysdunit "github.com/sergeymakinen/go-systemdconf/v2/unit"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov"
	"github.com/viamrobotics/bleprov/utils/systemd"
)

// lockOwnerStale reports whether pid is something other than a running copy of this daemon.
func lockOwnerStale(pid int) bool {
	runPath, err := filepath.EvalSymlinks(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return true
	}
	return !strings.Contains(filepath.Base(runPath), bleprov.SubsystemName)
}

func generateServiceFile(binPath, configPath string) ([]byte, error) {
	unit := &sysdunit.ServiceFile{
		Unit: sysdunit.UnitSection{
			Description: sysd.Value{"BLE wifi provisioning"},
			After:       sysd.Value{"bluetooth.target", "NetworkManager.service"},
			Wants:       sysd.Value{"bluetooth.target"},
		},
		Service: sysdunit.ServiceSection{
			Type:           sysd.Value{"exec"},
			ExecStart:      sysd.Value{binPath + " --config " + configPath},
			Restart:        sysd.Value{"always"},
			RestartSec:     sysd.Value{"5"},
			TimeoutStopSec: sysd.Value{"90"},
		},
		Install: sysdunit.InstallSection{
			WantedBy: sysd.Value{"multi-user.target"},
		},
	}
	return sysd.Marshal(unit)
}

// install writes (or refreshes) the systemd unit and enables it on first install.
func install(ctx context.Context, logger logging.Logger, configPath string) error {
	binPath, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "getting path to self")
	}
	binPath, err = filepath.EvalSymlinks(binPath)
	if err != nil {
		return errors.Wrap(err, "resolving path to self")
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return errors.Wrap(err, "resolving config path")
	}

	contents, err := generateServiceFile(binPath, configPath)
	if err != nil {
		return errors.Wrap(err, "generating systemd service file")
	}

	if _, err := systemd.NewSystemdManager(logger).InstallService(ctx, bleprov.SubsystemName, contents); err != nil {
		return err
	}

	_, err = os.Stat(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("No config file found at %s, defaults will be used.", configPath)
		} else {
			return errors.Wrapf(err, "reading %s", configPath)
		}
	}

	logger.Info("Install complete.")
	return nil
}
