package eligibility

import (
	"context"
	"time"
)

// Watch wakes up every tick and reports the time left until deadline. It
// returns nil once the clock reaches the deadline, or the context error.
func Watch(ctx context.Context, deadline time.Time, tick time.Duration, now func() time.Time, onTick func(left time.Duration)) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		left := deadline.Sub(now())
		if left <= 0 {
			if onTick != nil {
				onTick(0)
			}
			return nil
		}
		if onTick != nil {
			onTick(left)
		}

		// последний интервал короче тика
		wait := time.NewTimer(left)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-ticker.C:
			wait.Stop()
		case <-wait.C:
		}
	}
}
