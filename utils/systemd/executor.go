package systemd

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// SystemdExecutor runs systemctl and friends as subprocesses. Tests substitute a fake.
type SystemdExecutor interface {
	// IsAvailable returns nil if `systemctl --version` succeeds.
	IsAvailable(ctx context.Context) error

	// DaemonReload executes `systemctl daemon-reload`.
	DaemonReload(ctx context.Context) error

	// Enable calls `systemctl enable` with the provided service name.
	Enable(ctx context.Context, service string) error

	// SystemdSearchPaths returns the unit search path from `systemd-path systemd-search-system-unit`.
	SystemdSearchPaths(ctx context.Context) ([]string, error)
}

type realSystemdExecutor struct{}

func (s realSystemdExecutor) IsAvailable(ctx context.Context) error {
	output, err := exec.CommandContext(ctx, "systemctl", "--version").CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "can only install on systems using systemd, but 'systemctl --version' returned errors: %s", output)
	}
	return nil
}

func (s realSystemdExecutor) Enable(ctx context.Context, service string) error {
	output, err := exec.CommandContext(ctx, "systemctl", "enable", service).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "running 'systemctl enable %s' output: %s", service, output)
	}
	return nil
}

func (s realSystemdExecutor) DaemonReload(ctx context.Context) error {
	output, err := exec.CommandContext(ctx, "systemctl", "daemon-reload").CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "running 'systemctl daemon-reload' output: %s", output)
	}
	return nil
}

func (s realSystemdExecutor) SystemdSearchPaths(ctx context.Context) ([]string, error) {
	output, err := exec.CommandContext(ctx, "systemd-path", "systemd-search-system-unit").CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "running 'systemd-path systemd-search-system-unit' output: %s", output)
	}
	return strings.Split(strings.TrimSpace(string(output)), ":"), nil
}
