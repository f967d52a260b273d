// Package notify pushes operator-facing alerts (degraded device delegation,
// cache write failures) to a Telegram chat. It is optional; when disabled,
// alerts end up in the log only.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "chime/pkg/logx"
)

type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	RatePerSec int
}

// Service is a fire-and-forget alert sender with rate limiting so a flapping
// adapter cannot flood the chat.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	if cfg.Enabled && cfg.Token != "" {
		bot, err := tele.NewBot(tele.Settings{
			Token:  cfg.Token,
			Poller: nil, // send-only
		})
		if err != nil {
			log.Warn("telegram notifier init failed; alerts go to log only", logx.Err(err))
		} else {
			s.bot = bot
		}
	}
	return s
}

// Alert sends a message to the operator chat. Failures are logged, never
// returned; alerting must not change the outcome of the operation that
// triggered it.
func (s *Service) Alert(ctx context.Context, msg string) {
	s.log.Warn("operator alert", logx.String("msg", msg))

	s.mu.Lock()
	bot := s.bot
	chatID := s.cfg.ChatID
	lim := s.limiter
	s.mu.Unlock()

	if bot == nil || chatID == 0 {
		return
	}
	if !lim.Allow() {
		s.log.Debug("operator alert dropped (rate limited)")
		return
	}

	done := make(chan error, 1)
	go func() { _, err := bot.Send(tele.ChatID(chatID), msg); done <- err }()
	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("operator alert send failed", logx.Err(err))
		}
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("operator alert send timed out")
	}
}

// Alertf is Alert with formatting.
func (s *Service) Alertf(ctx context.Context, format string, args ...any) {
	s.Alert(ctx, fmt.Sprintf(format, args...))
}
