package gateway

import (
	"context"

	"github.com/wingyeung0317/IBSP/internal/pool"
	"github.com/wingyeung0317/IBSP/stats"
)

// reconnect closes the faulty link, waits the backoff and reopens it.
// It returns false only when ctx ended the wait.
func (g *Gateway) reconnect(ctx context.Context, cause error) bool {
	g.stats.ErrorKind(stats.KindLinkIO)
	g.logger.Error("link fault, reconnecting", "error", cause, "backoff", g.cfg.reconnectBackoff)

	g.closeLink()

	if !pool.Sleep(ctx, g.cfg.reconnectBackoff) {
		return false
	}

	if !g.openLink(ctx) {
		return false
	}
	g.stats.Reconnected()

	return true
}

// openLink opens the link and retries every reopen interval until it
// succeeds or ctx is done. A link counts as open once its buffers have been
// flushed and the first time-sync message has been written.
func (g *Gateway) openLink(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		err := g.tryOpen()
		if err == nil {
			g.logger.Info("link opened", "attempt", attempt)

			return true
		}

		g.stats.ErrorKind(stats.KindLinkOpen)
		g.logger.Error("link open failed", "attempt", attempt, "retryIn", g.cfg.reopenRetry, "error", err)

		if !pool.Sleep(ctx, g.cfg.reopenRetry) {
			return false
		}
	}
}

func (g *Gateway) tryOpen() error {
	src, err := g.open()
	if err != nil {
		return err
	}

	if err := src.FlushInput(); err != nil {
		_ = src.Close()
		return err
	}
	if err := src.FlushOutput(); err != nil {
		_ = src.Close()
		return err
	}

	g.src = src
	g.sync.Reset(src)
	g.syncRequested = false

	if err := g.emitTimeSync(syncReasonOpen); err != nil {
		g.closeLink()
		return err
	}

	return nil
}

// closeLink closes the current handle, if any.
func (g *Gateway) closeLink() {
	if g.src == nil {
		return
	}

	if err := g.src.Close(); err != nil {
		g.logger.Warn("link close failed", "error", err)
	}
	g.src = nil
	g.sync.Reset(detached{})
}
