//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"

	"github.com/srodi/proctop-bpf/pkg/collector"
	"github.com/srodi/proctop-bpf/pkg/collector/kernel"
	"github.com/srodi/proctop-bpf/pkg/collector/system"
	"github.com/srodi/proctop-bpf/pkg/config"
	"github.com/srodi/proctop-bpf/pkg/export"
	"github.com/srodi/proctop-bpf/pkg/loop"
	"github.com/srodi/proctop-bpf/pkg/metrics"
	"github.com/srodi/proctop-bpf/pkg/model"
	"github.com/srodi/proctop-bpf/pkg/offsets"
	"github.com/srodi/proctop-bpf/pkg/resolve"
	"github.com/srodi/proctop-bpf/pkg/ui"
)

const (
	userCacheSize   = 1024
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load("proctop", os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "proctop: %v\n", err)
		os.Exit(2)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "proctop: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "proctop: %v\n", err)
		os.Exit(1)
	}
}

// newLogger logs to a file while the terminal UI owns the screen and to
// stderr otherwise.
func newLogger(cfg config.Config) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.SetLevel(cfg.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Headless {
		log.SetOutput(os.Stderr)
		return log, func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	return log, func() { f.Close() }, nil
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	log.WithFields(logrus.Fields{"delay": cfg.Delay, "config": cfg.ConfigFile}).Info("proctop starting")

	sysReader, err := system.NewReader(cfg.ProcRoot)
	if err != nil {
		return err
	}
	users, err := resolve.NewUsers(userCacheSize)
	if err != nil {
		return err
	}
	cgroups, err := resolve.NewCgroups(cfg.CgroupRoot, cfg.CgroupRefreshCycles, log)
	if err != nil {
		return err
	}

	collCfg := collector.Config{
		System:   sysReader,
		Users:    users,
		Cgroups:  cgroups,
		CPUBasis: cfg.CPUBasis,
		Logger:   log,
	}
	kc, table, err := openKernel(cfg, log)
	if err != nil {
		log.WithError(err).Error("kernel telemetry unavailable, running degraded")
		collCfg.SourceErr = err
	} else {
		defer kc.Close()
		collCfg.Source = kc
		collCfg.PageSize = table.PageSize
		if cfg.SeedCmdlines {
			n, err := kc.SeedCmdlines(sysReader.FS())
			if err != nil {
				log.WithError(err).Warn("seeding command lines failed")
			}
			log.WithField("seeded", n).Info("seeded command lines from procfs")
		}
	}
	coll := collector.New(collCfg)

	queue := loop.NewQueue(cfg.QueueDepth)
	recorder := metrics.NewRecorder(queue.Dropped)
	runner, err := loop.NewRunner(loop.Config{
		Collector: coll,
		Interval:  cfg.Delay,
		Queue:     queue,
		Observer:  recorder,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	var exporter *export.Server
	if cfg.Listen != "" {
		exporter = export.New(export.Config{
			Addr:           cfg.Listen,
			AllowedOrigins: cfg.AllowedOrigins,
			Registry:       recorder.Registry(),
			Logger:         log,
		})
		go func() {
			if err := exporter.Start(); err != nil {
				log.WithError(err).Error("export server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := exporter.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("export server shutdown")
			}
		}()
	}

	// The runner owns the collector from here on; it stops after the cycle
	// in progress once loopCtx is cancelled.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = runner.Run(loopCtx)
	}()
	defer func() {
		cancelLoop()
		wg.Wait()
	}()

	if cfg.Headless {
		publishLoop(ctx, queue, exporter)
		return nil
	}

	var pub ui.Publisher
	if exporter != nil {
		pub = exporter
	}
	app := ui.New(ui.Config{
		Model:     model.New(cfg.ModelOptions()),
		Queue:     queue,
		Publisher: pub,
		Interval:  cfg.Delay,
		Logger:    log,
	})
	return app.Run(ctx)
}

// openKernel loads the eBPF side. Any failure leaves the monitor running in
// degraded mode with system-wide stats only.
func openKernel(cfg config.Config, log logrus.FieldLogger) (*kernel.Collector, offsets.Table, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		log.WithError(err).Warn("failed to remove memlock limit")
	}

	table, source, err := offsets.ForHost(cfg.OffsetsFile)
	switch {
	case err != nil && source == "":
		return nil, table, fmt.Errorf("no usable offset table: %w", err)
	case err != nil && source == offsets.SourceFile:
		return nil, table, err
	case err != nil:
		log.WithError(err).Warn("offset table does not match this kernel, values may be wrong")
	}
	log.WithFields(logrus.Fields{"source": source, "kernel": table.Kernel, "arch": table.Arch}).Info("offset table selected")

	kc, err := kernel.NewCollector(kernel.Options{Offsets: table, Logger: log})
	if err != nil {
		return nil, table, err
	}
	for _, st := range kc.Status() {
		if st.Err != nil {
			log.WithError(st.Err).WithField("subsystem", st.Name).Warn("subsystem degraded")
		}
	}
	return kc, table, nil
}

// publishLoop forwards snapshots to the exporter until ctx ends.
func publishLoop(ctx context.Context, queue *loop.Queue, exporter *export.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-queue.C():
			exporter.Publish(snap)
		}
	}
}
