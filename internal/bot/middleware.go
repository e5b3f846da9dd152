package bot

import (
	"context"
	"fmt"
	"time"

	"messhall/internal/metrics"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			recordUpdate("panic", "error")
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// allow applies the per-chat message budget. Limiter errors let the update through.
func (b *Bot) allow(ctx context.Context, telegramID int64) bool {
	if b.limiter == nil || b.cfg.RateLimitMessages <= 0 {
		return true
	}
	window := time.Duration(b.cfg.RateLimitWindow) * time.Second
	ok, err := b.limiter.CheckRateLimit(ctx, fmt.Sprintf("bot:%d", telegramID), b.cfg.RateLimitMessages, window)
	if err != nil {
		b.logger.Error().Err(err).Int64("telegram_id", telegramID).Msg("Rate limit check failed")
		return true
	}
	return ok
}

func recordUpdate(kind, outcome string) {
	metrics.IncBotUpdate(kind, outcome)
}
