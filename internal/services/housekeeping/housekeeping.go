// Package housekeeping runs the background jobs around the scheduler core:
// periodic settings autosave and a status heartbeat in the log.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bigben/internal/engine"
	"bigben/internal/storage"
	"bigben/pkg/logx"
)

const (
	DefaultAutosaveSpec = "@every 30s"
	DefaultStatusSpec   = "@every 1m"
)

type Config struct {
	Enabled      bool
	AutosaveSpec string
	StatusSpec   string
}

func (c Config) withDefaults() Config {
	if c.AutosaveSpec == "" {
		c.AutosaveSpec = DefaultAutosaveSpec
	}
	if c.StatusSpec == "" {
		c.StatusSpec = DefaultStatusSpec
	}
	return c
}

// Service owns a cron runner. Store may be nil; the autosave job then only
// tracks state for status logging.
type Service struct {
	cfg   Config
	eng   *engine.Engine
	store storage.Store
	log   logx.Logger

	mu       sync.Mutex
	c        *cron.Cron
	last     storage.Settings
	haveLast bool
}

func New(cfg Config, eng *engine.Engine, store storage.Store, log logx.Logger) *Service {
	return &Service{cfg: cfg.withDefaults(), eng: eng, store: store, log: log}
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if _, err := c.AddFunc(s.cfg.AutosaveSpec, s.autosave); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.StatusSpec, s.status); err != nil {
		return err
	}

	c.Start()
	s.c = c
	s.log.Info("housekeeping started",
		logx.String("autosave", s.cfg.AutosaveSpec),
		logx.String("status", s.cfg.StatusSpec))
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs, then saves one
// final snapshot so a clean shutdown never loses the last state.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.saveNow(ctx)
	return nil
}

func (s *Service) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.saveNow(ctx)
}

// saveNow persists the current panel state, skipping writes when nothing
// changed since the last save.
func (s *Service) saveNow(ctx context.Context) {
	snap := s.eng.Snapshot()
	set := storage.Settings{
		Mode:     string(snap.Mode),
		Division: snap.Division,
		Quarter:  snap.Quarter,
	}

	s.mu.Lock()
	unchanged := s.haveLast &&
		s.last.Mode == set.Mode &&
		s.last.Division == set.Division &&
		s.last.Quarter == set.Quarter
	if !unchanged {
		s.last = set
		s.haveLast = true
	}
	s.mu.Unlock()
	if unchanged || s.store == nil {
		return
	}

	if err := s.store.SaveSettings(ctx, set); err != nil {
		s.log.Warn("settings autosave failed", logx.Err(err))
		return
	}
	s.log.Debug("settings saved",
		logx.String("mode", set.Mode),
		logx.Int("division", set.Division),
		logx.Duration("quarter", set.Quarter))
}

func (s *Service) status() {
	snap := s.eng.Snapshot()
	s.log.Info("status",
		logx.String("mode", string(snap.Mode)),
		logx.Float64("bpm", snap.BPM),
		logx.Int("division", snap.Division),
		logx.Uint64("fires", snap.Fires),
		logx.Uint64("dropped", snap.Dropped),
		logx.Int("tasks_active", snap.Tasks.Active))
}
