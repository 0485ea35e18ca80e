package job

import (
	"context"
	"time"
)

// Raiser latches an interrupt from outside the core. *sched.App satisfies it.
type Raiser interface {
	Signal(vector string) error
}

// Peripheral raises vector every period until ctx is done, the way a UART or
// a GPIO line would. It returns the number of interrupts raised.
func Peripheral(ctx context.Context, r Raiser, vector string, period time.Duration) (int, error) {
	if period <= 0 {
		period = time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()

	raised := 0
	for {
		select {
		case <-ctx.Done():
			return raised, nil
		case <-t.C:
			if err := r.Signal(vector); err != nil {
				return raised, err
			}
			raised++
		}
	}
}
