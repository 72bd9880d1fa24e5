package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bngesp/MultiCoder/pkg/telemetry"
)

// RunJanitor evicts terminal requests older than the retention window on
// the given cron schedule. Non-terminal requests are never touched. Blocks
// until ctx is cancelled.
func (c *Coordinator) RunJanitor(ctx context.Context, schedule string, retention time.Duration) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}

	c.logger.Info("retention janitor started",
		slog.String("schedule", schedule),
		slog.Duration("retention", retention),
	)

	for {
		next := sched.Next(time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		evicted := c.ledger.SweepTerminal(retention, time.Now().UTC())
		telemetry.CoordinatorLedgerRequests.Set(float64(c.ledger.Len()))
		if evicted > 0 {
			c.logger.Info("evicted terminal requests",
				slog.Int("evicted", evicted),
				slog.Int("remaining", c.ledger.Len()),
			)
		}
	}
}
