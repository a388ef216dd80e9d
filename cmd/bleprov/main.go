package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/bleprov"
	"github.com/viamrobotics/bleprov/utils"
)

// only changed/set at startup, so no mutex.
var globalLogger = logging.NewLogger(bleprov.SubsystemName)

//nolint:lll
type provOpts struct {
	Config    string `default:"/etc/bleprov.json"                  description:"Path to config file"                           long:"config"    short:"c"`
	Interface string `description:"Wifi interface to manage"       long:"interface"                                            short:"i"`
	Backend   string `choice:"networkmanager"                      choice:"wpa_supplicant"                                     description:"Wifi backend" long:"backend"`
	Debug     bool   `description:"Enable debug logging"           env:"BLEPROV_DEBUG"                                         long:"debug"     short:"d"`
	Help      bool   `description:"Show this help message"         long:"help"                                                 short:"h"`
	Version   bool   `description:"Show version"                   long:"version"                                              short:"v"`
	Install   bool   `description:"Install systemd service"        long:"install"`
	DevMode   bool   `description:"Allow non-root"                 env:"BLEPROV_DEVMODE"                                       long:"dev-mode"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts provOpts

	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	parser.Usage = "advertises a BLE service that accepts wifi credentials and joins the network."

	_, err := parser.Parse()
	exitIfError(err)

	if opts.Help {
		var b bytes.Buffer
		parser.WriteHelp(&b)
		//nolint:forbidigo
		fmt.Println(b.String())
		return
	}

	if opts.Version {
		//nolint:forbidigo
		fmt.Printf("Version: %s\nGit Revision: %s\n", utils.GetVersion(), utils.GetRevision())
		return
	}

	if opts.Debug {
		globalLogger.SetLevel(logging.DEBUG)
	}

	// need to be root to go any further than this
	curUser, err := user.Current()
	exitIfError(err)
	if curUser.Uid != "0" && !opts.DevMode {
		//nolint:forbidigo
		fmt.Printf("%s must be run as root (uid 0), but current user is %s (uid %s)\n",
			bleprov.SubsystemName, curUser.Username, curUser.Uid)
		return
	}

	if opts.Install {
		exitIfError(install(ctx, globalLogger, opts.Config))
		return
	}

	utils.ConfigFilePath = opts.Config
	cfg, err := utils.LoadConfig(utils.ConfigFilePath)
	if err != nil {
		globalLogger.Warn(errors.Wrap(err, "loading config, continuing with defaults"))
	}
	if opts.Interface != "" {
		cfg.Interface = opts.Interface
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Debug {
		cfg.Debug = utils.Tribool(1)
	}

	// use a lockfile to prevent running two daemons on the same machine
	pidFile, err := getLock(filepath.Join(os.TempDir(), bleprov.SubsystemName+".pid"))
	exitIfError(err)
	defer func() {
		if err := pidFile.Unlock(); err != nil {
			globalLogger.Error(errors.Wrapf(err, "unlocking %s", pidFile))
		}
	}()

	globalLogger.Infof("%s Version: %s Git Revision: %s", bleprov.SubsystemName, utils.GetVersion(), utils.GetRevision())

	manager, err := bleprov.NewManager(ctx, globalLogger, cfg, cancel)
	exitIfError(err)

	if err := manager.Start(ctx); err != nil {
		globalLogger.Error(err)
		manager.CloseAll()
		return
	}

	<-ctx.Done()
	globalLogger.Info("exiting")
	manager.CloseAll()
}

// helper to log.Fatal if error is non-nil.
func exitIfError(err error) {
	if err != nil {
		globalLogger.Fatal(err)
	}
}

// getLock takes the daemon's pidfile. A lock held by a live process that isn't this daemon,
// which happens when PIDs repeat after a reboot, is treated as stale and replaced.
func getLock(path string) (lockfile.Lockfile, error) {
	pidFile, err := lockfile.New(path)
	if err != nil {
		return "", errors.Wrap(err, "init lockfile")
	}
	err = pidFile.TryLock()
	if !errors.Is(err, lockfile.ErrBusy) {
		return pidFile, err
	}

	proc, err := pidFile.GetOwner()
	if err == nil && !lockOwnerStale(proc.Pid) {
		return "", errors.Errorf("other instance of %s is already running with PID: %d", bleprov.SubsystemName, proc.Pid)
	}
	globalLogger.Warnf("deleting stale lockfile %s", pidFile)
	if err := os.Remove(string(pidFile)); err != nil {
		return "", errors.Wrap(err, "removing lockfile")
	}
	return pidFile, pidFile.TryLock()
}
