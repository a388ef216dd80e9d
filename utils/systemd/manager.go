// Package systemd installs and enables the daemon's systemd unit.
package systemd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov/utils"
)

const (
	defaultServiceFileDir  = "/usr/local/lib/systemd/system"
	defaultFallbackFileDir = "/etc/systemd/system"
)

type systemdDirs struct {
	serviceFileDir  string
	fallbackFileDir string
}

// SystemdManager writes unit files and drives systemctl through a SystemdExecutor.
type SystemdManager struct {
	executor SystemdExecutor
	dirs     systemdDirs
	logger   logging.Logger
}

// SystemdManagerOption configures the [SystemdManager] returned from [NewSystemdManager].
type SystemdManagerOption func(*SystemdManager)

// WithExecutor replaces the subprocess-based executor. Should only be used for testing.
func WithExecutor(executor SystemdExecutor) SystemdManagerOption {
	return func(manager *SystemdManager) {
		manager.executor = executor
	}
}

// WithDirs overrides the unit directories. Should only be used for testing.
func WithDirs(serviceFileDir, fallbackFileDir string) SystemdManagerOption {
	return func(manager *SystemdManager) {
		manager.dirs.serviceFileDir = serviceFileDir
		manager.dirs.fallbackFileDir = fallbackFileDir
	}
}

func NewSystemdManager(logger logging.Logger, opts ...SystemdManagerOption) *SystemdManager {
	manager := &SystemdManager{
		logger:   logger,
		executor: realSystemdExecutor{},
		dirs: systemdDirs{
			serviceFileDir:  defaultServiceFileDir,
			fallbackFileDir: defaultFallbackFileDir,
		},
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// InstallService creates or updates the unit file for serviceName, reloading systemd when it changed
// and enabling the service only on a fresh install (so a user's `systemctl disable` sticks).
// It returns the path written.
func (s *SystemdManager) InstallService(ctx context.Context, serviceName string, serviceFileContents []byte) (string, error) {
	if err := s.executor.IsAvailable(ctx); err != nil {
		return "", err
	}

	serviceFileName := serviceName + ".service"
	serviceFilePath, err := s.getServiceFilePath(ctx, serviceFileName)
	if err != nil {
		return "", err
	}

	_, err = os.Stat(serviceFilePath)
	newInstall := err != nil

	s.logger.Infof("writing systemd service file to %s", serviceFilePath)
	newFile, err := utils.WriteFileIfNew(serviceFilePath, serviceFileContents)
	if err != nil {
		return "", errors.Wrapf(err, "writing systemd service file %s", serviceFilePath)
	}

	if newFile {
		if err := s.executor.DaemonReload(ctx); err != nil {
			return "", err
		}
	}

	if newInstall {
		s.logger.Infof("enabling systemd %s service", serviceName)
		if err := s.executor.Enable(ctx, serviceName); err != nil {
			return "", err
		}
	}

	return serviceFilePath, nil
}

// getServiceFilePath returns an existing unit file if there is one, otherwise the preferred
// directory when systemd searches it, otherwise the fallback directory.
func (s *SystemdManager) getServiceFilePath(ctx context.Context, serviceFile string) (string, error) {
	for _, dir := range []string{s.dirs.serviceFileDir, s.dirs.fallbackFileDir} {
		path := filepath.Join(dir, serviceFile)
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}

	searchPaths, err := s.executor.SystemdSearchPaths(ctx)
	if err != nil {
		return "", err
	}
	if !slices.Contains(searchPaths, s.dirs.serviceFileDir) {
		s.logger.Warnf(
			"Systemd does not have %s in its unit search path, installing directly to %s",
			s.dirs.serviceFileDir,
			s.dirs.fallbackFileDir,
		)
		return filepath.Join(s.dirs.fallbackFileDir, serviceFile), nil
	}
	return filepath.Join(s.dirs.serviceFileDir, serviceFile), nil
}
