package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/bookhaven/bookhaven-server/internal/config"
	"github.com/bookhaven/bookhaven-server/internal/logger"
	"github.com/bookhaven/bookhaven-server/internal/service"
)

// SweeperJob runs the periodic expiration sweep: overdue marking, due-soon
// reminders, and reservation expiry.
type SweeperJob struct {
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (j *SweeperJob) Shutdown() error {
	j.cancel()
	return nil
}

// ProvideSweeperJob provides the periodic sweeper job.
func ProvideSweeperJob(i do.Injector) (*SweeperJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	loans := do.MustInvoke[*service.LoanService](i)
	reservations := do.MustInvoke[*service.ReservationService](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx, cancel := context.WithCancel(context.Background())

	sweep := func() {
		now := time.Now().UTC()

		if count, err := loans.MarkOverdue(ctx, now); err != nil {
			log.Warn("Overdue sweep failed", "error", err)
		} else if count > 0 {
			log.Info("Overdue sweep completed", "marked", count)
		}

		if count, err := loans.RemindDueSoon(ctx, now); err != nil {
			log.Warn("Due-soon reminders failed", "error", err)
		} else if count > 0 {
			log.Info("Due-soon reminders sent", "reminded", count)
		}

		if count, err := reservations.Sweep(ctx, now); err != nil {
			log.Warn("Reservation sweep failed", "error", err)
		} else if count > 0 {
			log.Info("Reservation sweep completed", "expired", count)
		}
	}

	go func() {
		ticker := time.NewTicker(cfg.Jobs.SweepInterval)
		defer ticker.Stop()

		// Initial sweep on startup
		sweep()

		for {
			select {
			case <-ticker.C:
				sweep()
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Sweeper job started", "interval", cfg.Jobs.SweepInterval)

	return &SweeperJob{cancel: cancel}, nil
}
