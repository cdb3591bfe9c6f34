package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"tagtimer/internal/eventbus"
	"tagtimer/internal/metrics"
	logx "tagtimer/pkg/logx"
)

const sendTimeout = 10 * time.Second

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()

	text := prefixForPriority(j.n.Priority) + j.n.Text
	if text == "" {
		return
	}
	if sender == nil {
		s.sink.AlertOutcome(metrics.AlertFailed)
		s.publish(eventbus.NotifyFailed, j.n, j.key, ErrNoSender)
		s.log.Debug("notification dropped without transport", logx.String("key", j.key))
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := sender.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.appendHistory(j.key, text)
			s.publish(eventbus.NotifySent, j.n, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.sink.AlertOutcome(metrics.AlertFailed)
	s.publish(eventbus.NotifyFailed, j.n, j.key, lastErr)
	s.log.Warn("notification failed", logx.String("key", j.key), logx.Int("attempts", attempts), logx.Err(lastErr))
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// retryDelay is the wait after attempt (1-based): base*2^(attempt-1),
// capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
