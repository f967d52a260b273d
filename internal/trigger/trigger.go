package trigger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"chime/internal/playback"
	"chime/internal/schedule"
	"chime/internal/store"
	logx "chime/pkg/logx"
)

type Config struct {
	Enabled  bool
	Interval time.Duration // tick period; default 30s, never coarser than a minute
	// PlayTimeout bounds one playback invocation so a wedged player cannot
	// stall the tick loop; default 30s.
	PlayTimeout time.Duration
}

// Service evaluates schedules periodically. stopped -> running via Start,
// running -> stopped via Stop; Stop lets an in-flight tick finish.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  *store.DualStore
	player playback.Player

	c *cron.Cron

	// inTick guards against overlapping ticks (skip, don't queue).
	inTick atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, st *store.DualStore, player playback.Player, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	// The time field has minute resolution; a coarser tick would miss matches.
	if cfg.Interval > time.Minute {
		cfg.Interval = time.Minute
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = 30 * time.Second
	}
	return &Service{cfg: cfg, store: st, player: player, log: log, now: time.Now}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("trigger evaluator disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("trigger evaluator started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop suppresses further ticks and waits for an in-flight one to finish.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger evaluator stopped")
}

// tick runs one evaluation pass. Non-reentrant: if the previous tick is
// still running the pass is skipped.
func (s *Service) tick(ctx context.Context) {
	if !s.inTick.CompareAndSwap(false, true) {
		s.log.Warn("tick still in progress, skipping")
		return
	}
	defer s.inTick.Store(false)

	now := s.now()
	for _, sch := range s.store.GetActive() {
		if !sch.Matches(now) || sch.FiredOn(now) {
			continue
		}
		s.fire(ctx, sch.ID, sch.ClipName, sch.ClipURL, sch.ClipFilePath, now)
	}
}

// fire plays the schedule's clip and advances the dedup marker. The marker
// advances even when playback fails: at most once per day wins over
// guaranteed delivery, so a broken clip is logged rather than retried.
func (s *Service) fire(ctx context.Context, id, name, clipURL, clipPath string, now time.Time) {
	locator := clipPath
	if locator == "" {
		locator = clipURL
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PlayTimeout)
	err := s.player.Play(pctx, locator, 1.0)
	cancel()
	if err != nil {
		s.log.Error("scheduled playback failed", logx.String("id", id), logx.String("clip", name), logx.Err(err))
	} else {
		s.log.Info("schedule fired", logx.String("id", id), logx.String("clip", name))
	}

	if _, err := s.store.Mutate(ctx, id, func(sch *schedule.Schedule) error {
		sch.MarkFired(now)
		return nil
	}); err != nil {
		s.log.Error("failed to advance last-fired marker", logx.String("id", id), logx.Err(err))
	}
}
