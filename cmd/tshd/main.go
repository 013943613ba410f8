// Command tshd is the things-shell daemon: it loads a configuration
// document, builds one IMDB instance, one Service Controller, and
// installs the full built-in service set (svcctl itself plus udpctl,
// lwsh, sched, and the domain stubs under internal/services), then
// blocks until asked to shut down.
//
// Everything the controller and its services touch — timers, the UDP
// socket, the scheduler's persisted flash mirror — runs against
// internal/platform/real, the same collaborator interfaces
// internal/platform/sim fakes out for tests.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thingsshell/tshd/internal/config"
	"github.com/thingsshell/tshd/internal/imdb"
	"github.com/thingsshell/tshd/internal/logging"
	"github.com/thingsshell/tshd/internal/lsh"
	"github.com/thingsshell/tshd/internal/metrics"
	"github.com/thingsshell/tshd/internal/platform"
	"github.com/thingsshell/tshd/internal/platform/real"
	"github.com/thingsshell/tshd/internal/sched"
	"github.com/thingsshell/tshd/internal/services"
	"github.com/thingsshell/tshd/internal/svcctl"
	"github.com/thingsshell/tshd/internal/udpctl"
)

func main() {
	configPath := flag.String("config", "/etc/tshd/config.yaml", "path to the YAML configuration document")
	flashPath := flag.String("flash", "/var/lib/tshd/imdb.flash", "path to the scheduler's persisted flash image")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9110)")
	dumpIMDB := flag.Bool("dump-imdb", false, "print the IMDB instance's allocation counters on SIGUSR1, then continue")
	flag.Parse()

	if err := run(*configPath, *flashPath, *metricsAddr, *dumpIMDB); err != nil {
		fmt.Fprintln(os.Stderr, "tshd:", err)
		os.Exit(1)
	}
}

func run(configPath, flashPath, metricsAddr string, dumpIMDB bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Info, 128)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	reg := metrics.New(prometheus.DefaultRegisterer)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("tshd", "metrics server exited", "err", err)
			}
		}()
	}

	inst, err := imdb.Init(imdb.Def{BlockSize: cfg.IMDB.BlockSize})
	if err != nil {
		return fmt.Errorf("imdb init: %w", err)
	}
	defer inst.Done()

	clock := real.NewClock()
	ctrl := svcctl.New(inst, clock, log, reg)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	defer ctrl.Stop()

	globals := lsh.NewGlobalTable()
	if err := lsh.RegisterBuiltins(globals, clock); err != nil {
		return fmt.Errorf("register lsh builtins: %w", err)
	}

	if dir := filepath.Dir(flashPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create flash directory: %w", err)
		}
	}
	flashSize := headerPlusHalves(cfg.IMDB.BlockSize)
	flash, err := real.OpenFileFlash(flashPath, flashSize, cfg.IMDB.BlockSize)
	if err != nil {
		return fmt.Errorf("open flash image: %w", err)
	}
	defer flash.Close()
	fileStore, err := imdb.OpenFileStore(flash, platform.SoftwareCRC{}, cfg.IMDB.BlockSize)
	if err != nil {
		return fmt.Errorf("open file store: %w", err)
	}

	evalStmt := func(name string) error {
		payload, err := lsh.EncodeRunMessage(name)
		if err != nil {
			return err
		}
		_, err = ctrl.Message(sched.ServiceID, lsh.ServiceID, lsh.MsgStmtRun, payload)
		return err
	}

	udpCfg, err := udpctlConfigFrom(cfg)
	if err != nil {
		return fmt.Errorf("build udpctl config: %w", err)
	}

	installs := []svcctl.ServiceDef{
		udpctl.NewServiceDef(real.UDP{}, real.HMACer{}, real.Random{}, clock, log, reg, udpCfg, true),
		lsh.NewServiceDef(globals, clock, true),
		sched.NewServiceDef(real.TimerFactory{}, clock, log, reg, fileStore, evalStmt, true),
		services.NewSyslogServiceDef(log, true),
		services.NewEspadminServiceDef(clock, true),
		services.NewGpioServiceDef(true),
		services.NewDhtServiceDef(clock, nil, true),
		services.NewNtpServiceDef(clock, true),
	}
	for _, def := range installs {
		if err := ctrl.Install(def); err != nil {
			return fmt.Errorf("install %s: %w", def.Name, err)
		}
	}

	metricsTimer := real.NewTimer()
	metricsCursor := imdb.NewMetricsCursor()
	metricsTimer.Arm(5*time.Second, true, func() { inst.PublishMetrics(reg, metricsCursor) })
	defer metricsTimer.Disarm()

	log.Infof("tshd", "daemon started", "udpctl_port", cfg.UDPCTL.Port, "imdb_block_size", cfg.IMDB.BlockSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	for s := range sig {
		if s == syscall.SIGUSR1 {
			if dumpIMDB {
				info := inst.Info()
				log.Infof("tshd", "imdb snapshot", "classes", info.Classes, "bytes_allocated", info.Stat.BytesAllocated, "bytes_freed", info.Stat.BytesFreed)
			}
			continue
		}
		log.Infof("tshd", "shutting down", "signal", s.String())
		return nil
	}
	return nil
}

// headerPlusHalves sizes the scheduler's flash image at the 4 KiB
// header plus two blockSize-aligned halves big enough for a few
// hundred persisted entries — generous for a daemon, trivial for the
// sim.Flash-backed tests that exercise the same FileStore.
func headerPlusHalves(blockSize int) int {
	half := blockSize * 64
	return 4096 + 2*half
}

// udpctlConfigFrom overlays the loaded config onto udpctl's defaults
// and draws a fresh random shared secret from the real RNG: the
// defaults carry no secret of their own, and a production daemon must
// never start AUTH-secured without one.
func udpctlConfigFrom(cfg config.Config) (udpctl.Config, error) {
	c := udpctl.DefaultConfig()
	c.Port = cfg.UDPCTL.Port
	c.IdleTimeout = uint32(cfg.UDPCTL.IdleTimeout.Seconds())
	c.AuthTimeout = uint32(cfg.UDPCTL.AuthTimeout.Seconds())
	c.RecycleTimeout = uint32(cfg.UDPCTL.RecycleTimeout.Seconds())
	c.ClientsLimit = cfg.UDPCTL.MaxClients
	secret, err := (real.Random{}).Bytes(32)
	if err != nil {
		return udpctl.Config{}, err
	}
	c.Secret = secret
	return c, nil
}
