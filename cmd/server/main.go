/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the capacity engine server. Handles
  configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve            Run the HTTP API (default)
  check <roster>   Validate a YAML roster against an empty in-memory store
  audit            Run the over-allocation audit once and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (flags > env > config file > defaults)
  2. Build zap logger
  3. Open SQLite store
  4. Connect NATS publisher (optional)
  5. Wire capacity service, Prometheus collector, seed roster
  6. Start audit scheduler and HTTP server

CONFIGURATION:
  --port         HTTP server port (default: 8080)
  --db           SQLite database path (default: capacity.db)
                 Use ":memory:" for in-memory database
  --seed         YAML roster loaded when the store is empty
  --nats.url     Publish allocation events to NATS (disabled when empty)
  Every flag is also read from CAPACITY_<FLAG> (dots become underscores).

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close NATS and database connections

EXAMPLES:
  # Run with in-memory database and demo data
  ./server serve --db=":memory:" --seed=./testdata/roster.yaml

  # Check a roster before loading it
  ./server check ./roster.yaml

SEE ALSO:
  - config/config.go: Flag and env definitions
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/capacity-engine/api"
	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/config"
	"github.com/warp/capacity-engine/events/natsbus"
	"github.com/warp/capacity-engine/factory"
	"github.com/warp/capacity-engine/generic"
	"github.com/warp/capacity-engine/generic/store"
	"github.com/warp/capacity-engine/metrics"
	"github.com/warp/capacity-engine/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Engineer capacity accounting and assignment validation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	root.RunE = serveCmd.RunE

	root.AddCommand(
		serveCmd,
		&cobra.Command{
			Use:   "check <roster.yaml>",
			Short: "Validate a roster without touching the database",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return check(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "audit",
			Short: "Report engineers whose allocations exceed their capacity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cmd.Flags())
				if err != nil {
					return err
				}
				return audit(cmd, cfg)
			},
		},
	)
	return root
}

// =============================================================================
// SERVE
// =============================================================================

func serve(cfg config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Initialize store
	db, err := sqlite.New(cfg.DB)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	collector := metrics.New(prometheus.DefaultRegisterer, metrics.DefaultNamespace)
	svc := capacity.NewService(db)
	svc.Logger = logger.Named("capacity")
	svc.Metrics = collector

	if cfg.NATS.URL != "" {
		pub, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer pub.Close()
		svc.Publisher = pub
		logger.Info("publishing events", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	if cfg.Seed != "" {
		if err := seed(context.Background(), logger, db, svc, cfg.Seed); err != nil {
			return err
		}
	}

	scheduler := api.NewAuditScheduler(svc.Accountant, collector, logger.Named("audit"))
	scheduler.CheckInterval = cfg.Audit.Interval
	scheduler.Enabled = cfg.Audit.Interval > 0
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(db, svc, logger.Named("api"))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, prometheus.DefaultGatherer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("db", cfg.DB))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// seed loads the roster at path when the store holds no users yet.
func seed(ctx context.Context, logger *zap.Logger, st generic.Store, svc *capacity.Service, path string) error {
	users, err := st.ListUsers(ctx, generic.UserFilter{})
	if err != nil {
		return fmt.Errorf("check store before seeding: %w", err)
	}
	if len(users) > 0 {
		logger.Info("store not empty, skipping seed", zap.String("seed", path), zap.Int("users", len(users)))
		return nil
	}

	roster, err := factory.ReadRoster(path)
	if err != nil {
		return err
	}
	res, err := roster.Load(ctx, svc)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	logger.Info("store seeded", zap.String("seed", path),
		zap.Int("users", res.Users), zap.Int("projects", res.Projects), zap.Int("allocations", len(res.Allocations)))
	return nil
}

// =============================================================================
// CHECK AND AUDIT
// =============================================================================

// check loads a roster into a throwaway in-memory store so every record
// passes the same validation it would on a real load.
func check(cmd *cobra.Command, path string) error {
	roster, err := factory.ReadRoster(path)
	if err != nil {
		return err
	}
	res, err := roster.Load(cmd.Context(), capacity.NewService(store.NewMemory()))
	if err != nil {
		return fmt.Errorf("roster rejected: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d users, %d projects, %d allocations OK\n",
		path, res.Users, res.Projects, len(res.Allocations))
	return nil
}

func audit(cmd *cobra.Command, cfg config.Config) error {
	db, err := sqlite.New(cfg.DB)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	found, err := capacity.NewAccountant(db).OverAllocations(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(found) == 0 {
		fmt.Fprintln(out, "no over-allocated engineers")
		return nil
	}
	for _, o := range found {
		fmt.Fprintf(out, "%s\t%s\tallocated %d%% of %d%%\n", o.Engineer.ID, o.At, o.Allocated, o.Engineer.MaxCapacity)
	}
	return fmt.Errorf("%d engineer(s) over-allocated", len(found))
}
