package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bigben/internal/config"
	"bigben/internal/engine"
	"bigben/internal/hal"
	"bigben/internal/hal/midihal"
	"bigben/internal/modes"
	"bigben/internal/runtime/supervisor"
	"bigben/internal/services/housekeeping"
	"bigben/internal/storage"
	"bigben/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./bigben.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		// No config file means the simulator with defaults.
		cfg = &config.Config{Logging: config.LoggingConfig{Console: true}}
		boot.Info("config file not found, using defaults", logx.String("path", cfgPath))
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		TraceRatePerSec: cfg.Logging.TraceRatePerSec,
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	drv, err := openDriver(cfg, log)
	if err != nil {
		return err
	}
	defer drv.Close()

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(engCfg, drv, log.With(logx.String("svc", "engine")))
	restoreSettings(ctx, eng, store, log)
	if cfg.Display.Enabled {
		eng.SetDisplay(newDisplaySink(log))
	}

	keeper := housekeeping.New(housekeeping.Config{
		Enabled:      cfg.Housekeeping.Enabled,
		AutosaveSpec: cfg.Housekeeping.AutosaveSpec,
		StatusSpec:   cfg.Housekeeping.StatusSpec,
	}, eng, store, log.With(logx.String("svc", "housekeeping")))
	if err := keeper.Start(); err != nil {
		return err
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(log.With(logx.String("svc", "supervisor"))),
		supervisor.WithCancelOnError(true))
	sup.Go("engine", eng.Run)
	sup.Go("config-watch", mgr.Watch)
	sup.Go0("config-apply", func(ctx context.Context) {
		applyReloads(ctx, mgr, logSvc, eng)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("bigben up", logx.String("config", cfgPath))

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := keeper.Stop(stopCtx); err != nil {
		log.Warn("housekeeping stop", logx.Err(err))
	}
	if err := sup.Wait(stopCtx); err != nil {
		return err
	}
	log.Info("bigben down")
	return nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("svc", "storage")))
}

func openDriver(cfg *config.Config, log logx.Logger) (hal.Driver, error) {
	sim := hal.NewSim(cfg.Engine.OutputCount())
	if cfg.MIDI == nil || !cfg.MIDI.Enabled {
		return sim, nil
	}
	return midihal.Open(midihal.Config{
		Port:     cfg.MIDI.Port,
		ModeNote: uint8(cfg.MIDI.ModeNote),
		OutPort:  cfg.MIDI.OutPort,
		BaseNote: uint8(cfg.MIDI.BaseNote),
		Channel:  uint8(cfg.MIDI.Channel),
	}, sim, log.With(logx.String("svc", "midi")))
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	width, err := cfg.Engine.TriggerWidthDuration()
	if err != nil {
		return engine.Config{}, err
	}
	poll, err := cfg.Engine.PollIntervalDuration()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Divisions:         cfg.Engine.Divisions,
		TriggerWidth:      width,
		PollInterval:      poll,
		DisplayMultiplier: cfg.Display.Multiplier,
		TaskCapacity:      cfg.Engine.TaskCapacity,
		QueueSize:         cfg.Engine.QueueSize,
	}, nil
}

// restoreSettings puts the engine back into the mode it was last saved in.
func restoreSettings(ctx context.Context, eng *engine.Engine, store storage.Store, log logx.Logger) {
	if store == nil {
		return
	}
	set, ok, err := store.LoadSettings(ctx)
	if err != nil {
		log.Warn("settings restore failed", logx.Err(err))
		return
	}
	if !ok || set.Mode == "" {
		return
	}
	eng.SetStartMode(modes.ID(set.Mode))
	log.Info("settings restored",
		logx.String("mode", set.Mode),
		logx.Int("division", set.Division),
		logx.Duration("quarter", set.Quarter))
}

// newDisplaySink logs the status line whenever it changes. The status line
// is the headless stand-in for a panel display.
func newDisplaySink(log logx.Logger) func(string) {
	var last string
	return func(line string) {
		if line == last {
			return
		}
		last = line
		log.Info("display", logx.String("line", line))
	}
}

// applyReloads consumes republished configs. Only the hot-swappable pieces
// (log sinks, display multiplier) apply live; the rest needs a restart.
func applyReloads(ctx context.Context, mgr *config.Manager, logSvc *logx.Service, eng *engine.Engine) {
	ch := mgr.Subscribe(1)
	defer mgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
				TraceRatePerSec: cfg.Logging.TraceRatePerSec,
			})
			eng.SetDisplayMultiplier(cfg.Display.Multiplier)
		}
	}
}
