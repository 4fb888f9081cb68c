// reservation_sweeper.go implements the ReservationSweeper background job,
// which periodically deletes subdomain reservations whose 48-hour confirmation
// window lapsed. Expiry is already enforced in SQL on every lookup, so the
// sweeper is hygiene, not correctness: it keeps the table small and frees
// abandoned subdomains for fresh signups.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/safego"
	"github.com/tenantgate/tenantgate/internal/telemetry"
)

// ReservationSweeper periodically purges expired subdomain reservations.
type ReservationSweeper struct {
	tenants  *repositories.TenantRepository
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReservationSweeper creates a sweeper. interval defaults to one hour.
func NewReservationSweeper(tenants *repositories.TenantRepository, interval time.Duration) *ReservationSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReservationSweeper{
		tenants:  tenants,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop on a background goroutine and returns
// immediately: one sweep right away, then on the configured interval. The
// loop exits when ctx is cancelled or Stop is called.
func (s *ReservationSweeper) Start(ctx context.Context) {
	slog.Info("reservation sweeper started", "interval", s.interval)

	s.wg.Add(1)
	safego.Go(func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopChan:
				slog.Info("reservation sweeper stopped")
				return
			case <-ctx.Done():
				slog.Info("reservation sweeper context cancelled")
				return
			}
		}
	})
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *ReservationSweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *ReservationSweeper) sweep(ctx context.Context) {
	n, err := s.tenants.DeleteExpiredReservations(ctx)
	if err != nil {
		slog.Error("reservation sweep failed", "error", err)
		return
	}
	if n > 0 {
		telemetry.ReservationsSweptTotal.Add(float64(n))
		slog.Info("swept expired reservations", "count", n)
	}
}
