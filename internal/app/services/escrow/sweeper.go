package escrow

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/pi-work-link/wallet-engine/internal/app/domain/escrow"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
	"github.com/pi-work-link/wallet-engine/internal/app/system"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// Sweeper refunds open escrows whose expiry has passed. Losing a race with a
// concurrent release or refund is normal; the terminal-state check turns that
// into a no-op.
type Sweeper struct {
	store       storage.EscrowStore
	coordinator *Coordinator
	interval    time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper ticking at interval (15s default).
func NewSweeper(store storage.EscrowStore, coordinator *Coordinator, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("escrow-sweeper")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		store:       store,
		coordinator: coordinator,
		interval:    interval,
		log:         log,
	}
}

func (s *Sweeper) Name() string { return "escrow-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("escrow expiry sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	expired, err := s.store.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		s.log.WithError(err).Warn("list expired escrows failed")
		return
	}

	for _, esc := range expired {
		if _, err := s.coordinator.Expire(ctx, esc.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				// Resolved by a concurrent caller between the listing and
				// the refund; nothing to do.
				continue
			}
			s.log.WithError(err).Warnf("expire escrow %s failed", esc.ID)
			continue
		}
		s.log.Infof("escrow %s expired and refunded", esc.ID)
	}
}
