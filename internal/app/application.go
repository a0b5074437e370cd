// Package app wires the wallet engine's services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pi-work-link/wallet-engine/internal/app/guard"
	escrowsvc "github.com/pi-work-link/wallet-engine/internal/app/services/escrow"
	ledgersvc "github.com/pi-work-link/wallet-engine/internal/app/services/ledger"
	walletsvc "github.com/pi-work-link/wallet-engine/internal/app/services/wallet"
	"github.com/pi-work-link/wallet-engine/internal/app/storage"
	"github.com/pi-work-link/wallet-engine/internal/app/storage/memory"
	"github.com/pi-work-link/wallet-engine/internal/app/system"
	"github.com/pi-work-link/wallet-engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger storage.LedgerStore
	Escrow storage.EscrowStore
}

// Options tunes application behaviour.
type Options struct {
	// LockTimeout bounds account guard acquisition. Zero waits on the
	// caller's context alone.
	LockTimeout time.Duration
	// EscrowTTL is the lifetime after which open escrows are refunded by the
	// sweeper. Zero disables expiry.
	EscrowTTL time.Duration
	// SweepInterval is how often the sweeper looks for expired escrows.
	SweepInterval time.Duration
	// FundsMover overrides the simulated synchronous settlement collaborator.
	FundsMover ledgersvc.FundsMover
}

// Application ties the wallet services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger *ledgersvc.Recorder
	Escrow *escrowsvc.Coordinator
	Wallet *walletsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Escrow == nil {
		stores.Escrow = mem
	}

	accountGuard := guard.New(opts.LockTimeout)

	recorderOpts := []ledgersvc.Option{}
	if opts.FundsMover != nil {
		recorderOpts = append(recorderOpts, ledgersvc.WithFundsMover(opts.FundsMover))
	}
	recorder := ledgersvc.NewRecorder(stores.Ledger, accountGuard, log, recorderOpts...)

	coordinator := escrowsvc.New(stores.Escrow, recorder, log, escrowsvc.WithTTL(opts.EscrowTTL))
	walletService := walletsvc.New(recorder, coordinator, log)

	manager := system.NewManager()
	if opts.EscrowTTL > 0 {
		sweeper := escrowsvc.NewSweeper(stores.Escrow, coordinator, opts.SweepInterval, log)
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register sweeper: %w", err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Ledger:  recorder,
		Escrow:  coordinator,
		Wallet:  walletService,
	}, nil
}

// Start launches background services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts background services down.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
