package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/fentz26/escrowd/internal/config"
	"github.com/fentz26/escrowd/internal/controlplane"
	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/keeper"
	"github.com/fentz26/escrowd/internal/logging"
	"github.com/fentz26/escrowd/internal/search"
	"github.com/fentz26/escrowd/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	logLevel   string
	faucetOn   bool
	keeperOff  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the escrowd daemon",
	Long: `Starts the escrowd daemon which serves the escrow ledger over HTTP and runs
the keeper that expires overdue tasks and resolves closed disputes.`,
	RunE: runDaemon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and keeper activity",
	RunE:  runStatus,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	daemonCmd.Flags().BoolVar(&faucetOn, "faucet", false, "Enable the devnet faucet (overrides config)")
	daemonCmd.Flags().BoolVar(&keeperOff, "no-keeper", false, "Do not run the keeper")
}

// daemonConfig loads the config file and applies flag overrides.
func daemonConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = listenAddr
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("faucet") {
		cfg.Faucet.Enabled = faucetOn
	}
	if keeperOff {
		cfg.Keeper.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := daemonConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logger.Info("starting escrowd daemon", "db", cfg.DBPath, "listen", cfg.Listen)

	// Initialize store
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	// Background writers stop before the store closes.
	var (
		k          *keeper.Keeper
		idx        *search.Index
		stopFollow context.CancelFunc = func() {}
		followDone <-chan struct{}
	)
	defer func() {
		if k != nil {
			logger.Info("stopping keeper")
			k.Stop()
		}
		stopFollow()
		if followDone != nil {
			<-followDone
		}
		if idx != nil {
			idx.Close()
		}
		logger.Info("closing database connection")
		if err := s.Close(); err != nil {
			logger.Warn("database close error", "error", err)
		}
		logger.Info("shutdown complete")
	}()

	// Create engine, service and server
	bus := events.NewBus()
	engine := escrow.New(s, escrow.WithBus(bus), escrow.WithLogger(logging.Component(logger, "escrow")))
	service := controlplane.NewService(engine, bus, controlplane.FaucetConfig{
		Enabled:   cfg.Faucet.Enabled,
		MaxAmount: cfg.Faucet.MaxAmount,
	}, logging.Component(logger, "service"))
	verifier := auth.NewVerifier(cfg.Auth.MaxSkew)
	server := controlplane.NewServer(service, cfg.Listen, verifier, logging.Component(logger, "http"))

	// Build the title index and keep it current from the bus
	if idx, err = search.New(engine, logging.Component(logger, "search")); err != nil {
		return err
	}
	if err := idx.Rebuild(cmd.Context()); err != nil {
		logger.Warn("search index rebuild failed", "error", err)
	}
	var followCtx context.Context
	followCtx, stopFollow = context.WithCancel(context.Background())
	followDone = idx.Follow(followCtx, bus)
	service.SetSearch(idx)

	if cfg.Faucet.Enabled {
		logger.Warn("devnet faucet enabled", "max_amount", cfg.Faucet.MaxAmount)
	}

	// Create and start keeper
	if cfg.Keeper.Enabled {
		id, created, err := auth.LoadOrCreate(cfg.Keeper.KeyPath)
		if err != nil {
			return fmt.Errorf("keeper identity: %w", err)
		}
		if created {
			logger.Info("generated keeper identity", "path", cfg.Keeper.KeyPath, "address", id.Address().String())
		}
		k = keeper.New(engine, id.Address(), &cfg.Keeper, keeper.WithLogger(logging.Component(logger, "keeper")))
		service.SetKeeper(k)
		k.Start()
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := apiContext(cmd)
	defer cancel()
	c := readClient()

	health, err := c.Health(ctx)
	if err != nil {
		return err
	}
	stats, statsErr := c.KeeperStats(ctx)
	if jsonOutput {
		out := map[string]any{"health": health}
		if statsErr == nil {
			out["keeper"] = stats
		}
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Daemon:\t%s\n", apiAddr)
	fmt.Fprintf(w, "Version:\t%s\n", health.Version)
	fmt.Fprintf(w, "Database:\t%s\n", health.DB)
	if statsErr != nil {
		fmt.Fprintf(w, "Keeper:\tnot running\n")
	} else {
		fmt.Fprintf(w, "Keeper:\t%d sweeps, %d expired, %d resolved, %d skipped, %d failed\n",
			stats.Sweeps, stats.Expired, stats.Resolved, stats.Skipped, stats.Failed)
	}
	return w.Flush()
}
