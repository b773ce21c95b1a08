// Command rlited is the control-plane daemon (spec.md §6): it owns the
// process-wide kernel.Registry and uipcp.Container and exposes them over
// a Unix-domain control socket. Structured the way the teacher's
// SimpleRelay main.go bootstraps an ingester: flag-parsed config file
// location, gcfg config load, logger setup, then run until signaled.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gofrs/flock"

	"github.com/rlite-project/rlite-go/daemon"
	"github.com/rlite-project/rlite-go/internal/rconfig"
	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/normal"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
	"github.com/rlite-project/rlite-go/pkg/shimudp"
	"github.com/rlite-project/rlite-go/pkg/uipcp"
	"github.com/rlite-project/rlite-go/utils"
)

const defaultConfigLoc = `/etc/rlite/rlited.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "location of the rlited configuration file")
	lockDir = flag.String("lock-dir", "/run/rlite", "directory holding rlited's single-instance lock file")
)

type daemonConfig struct {
	Global rconfig.Global
}

func main() {
	flag.Parse()

	var cfg daemonConfig
	if err := rconfig.LoadFile(&cfg, *confLoc); err != nil {
		fmt.Fprintf(os.Stderr, "rlited: failed to load %s: %v\n", *confLoc, err)
		os.Exit(1)
	}
	cfg.Global.EnvOverride()
	if err := cfg.Global.Verify(); err != nil {
		fmt.Fprintf(os.Stderr, "rlited: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	lvl, err := rlog.FromString(cfg.Global.Log_Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rlited: invalid log level %q: %v\n", cfg.Global.Log_Level, err)
		os.Exit(1)
	}
	log := rlog.New(os.Stderr, lvl)
	log.SetAppname("rlited")
	if cfg.Global.Log_File != "" {
		if f, err := os.OpenFile(cfg.Global.Log_File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err != nil {
			log.Error("failed to open log file", rlog.KV("path", cfg.Global.Log_File))
		} else {
			log.AddWriter(f)
		}
	}

	lockPath := *lockDir + "/rlited.lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		fmt.Fprintf(os.Stderr, "rlited: another instance already holds %s\n", lockPath)
		os.Exit(1)
	}
	defer fl.Unlock()

	factories := factory.NewRegistry()
	normFactory := normal.New(log)
	factories.Register(normFactory)
	factories.Register(shimloopback.New(log))
	factories.Register(shimudp.New(log))

	reg := kernel.New(log, factories)
	var ribDBPath string
	if cfg.Global.State_File != "" {
		ribDBPath = cfg.Global.State_File + ".rib.db"
	}
	uc, err := uipcp.NewContainer(reg, log, ribDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rlited: failed to open RIB store %s: %v\n", ribDBPath, err)
		os.Exit(1)
	}
	defer uc.Close()
	normFactory.SetAllocHandler(uc)

	srv := daemon.NewServer(reg, uc, log, cfg.Global.Control_Socket, cfg.Global.State_File)
	if err := srv.ReplayScript(); err != nil {
		log.Error("failed to replay persisted ipcps", rlog.KV("error", err.Error()))
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Info("control socket listener stopped", rlog.KV("error", err.Error()))
		}
	}()
	log.Info("rlited ready", rlog.KV("socket", cfg.Global.Control_Socket))

	sig := utils.WaitForQuit()
	log.Info("rlited shutting down", rlog.KV("signal", sig.String()))
	srv.Close()
}
