// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/emirhasanov/soltrail/internal/config"
	"github.com/emirhasanov/soltrail/internal/gateway"
	"github.com/emirhasanov/soltrail/internal/ledger"
	"github.com/emirhasanov/soltrail/internal/logger"
	"github.com/emirhasanov/soltrail/internal/wallet"
)

const startupSweepBatch = 100

// Runner wires the engine together and manages its lifecycle.
type Runner struct {
	log     *logger.Logger
	cfg     *config.Config
	service *Service
}

// NewRunner creates an uninitialized runner.
func NewRunner(log *logger.Logger) *Runner {
	return &Runner{log: log}
}

// Initialize loads configuration, connects storage, and builds the
// service. Call before Run.
func (r *Runner) Initialize(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.cfg = cfg

	wallets, err := wallet.Load(cfg.WalletsFile)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	r.log.Info("wallets loaded", zap.Int("count", len(wallets)))

	store, err := r.openStore()
	if err != nil {
		return err
	}
	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	gw, err := gateway.NewJupiterGateway(cfg.QuoteURL, cfg.SwapURL, cfg.RPCList, r.log.Logger)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}

	ledgerSvc := ledger.NewService(store, r.log.Logger)
	r.service = New(cfg, gw, ledgerSvc, wallets, nil, r.log)
	return nil
}

// openStore connects Postgres when a DSN is configured and falls back to
// the in-memory store for development runs.
func (r *Runner) openStore() (ledger.Store, error) {
	if r.cfg.PostgresURL == "" {
		r.log.Warn("no postgres_url configured, using in-memory ledger")
		return ledger.NewMemoryStore(), nil
	}
	store, err := ledger.NewPostgresStore(r.cfg.PostgresURL, r.log.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect ledger store: %w", err)
	}
	return store, nil
}

// Service returns the wired application facade.
func (r *Runner) Service() *Service {
	return r.service
}

// Run sweeps the deposit backlog and then blocks until the context is
// canceled or a termination signal arrives.
func (r *Runner) Run(ctx context.Context) error {
	credited, unresolved, err := r.service.ProcessDetectedDeposits(ctx, startupSweepBatch)
	if err != nil {
		return fmt.Errorf("startup deposit sweep: %w", err)
	}
	if credited > 0 || unresolved > 0 {
		r.log.Info("startup deposit sweep recovered backlog",
			zap.Int("credited", credited),
			zap.Int("unresolved", unresolved))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	r.log.Info("engine running")
	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		r.log.Info("signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	return r.service.Shutdown(shutdownCtx)
}
