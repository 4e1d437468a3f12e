/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the brokerage ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Load and validate configuration
  3. Initialize structured logger
  4. Open SQLite store (runs migrations)
  5. Optionally rebuild state from the transaction log
  6. Wire account and portfolio services
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file path (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory database
  -recover Rebuild wallet and positions from the transaction log on start

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/brokerage.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Rebuild derived state after a crash
  ./server -recover

ENVIRONMENT:
  PORT, DB_PATH, LOG_LEVEL, CORS_ORIGINS override the config file.
  A .env file in the working directory is loaded if present.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/papertrade/brokerage/account"
	"github.com/papertrade/brokerage/api"
	"github.com/papertrade/brokerage/config"
	"github.com/papertrade/brokerage/logger"
	"github.com/papertrade/brokerage/oracle"
	"github.com/papertrade/brokerage/portfolio"
	"github.com/papertrade/brokerage/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	recoverState := flag.Bool("recover", false, "rebuild state from the transaction log on start")
	flag.Parse()

	// .env is optional; missing files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *recoverState {
		cfg.RecoverOnStart = true
	}

	log, syncLog, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer syncLog()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire services
	accounts := account.NewService(store, log)

	if cfg.RecoverOnStart {
		if err := accounts.Recover(context.Background()); err != nil {
			log.Fatalf("Failed to rebuild state from transaction log: %v", err)
		}
	}

	if err := accounts.InitMetrics(context.Background()); err != nil {
		log.Warnf("failed to seed metrics from store: %v", err)
	}

	// With no market-data feed, positions are marked at their own cost
	// basis for valuation.
	priceOracle := oracle.CostBasisFunc(func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		pos, err := store.Position(ctx, symbol)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if pos == nil {
			return decimal.Decimal{}, nil
		}
		return pos.AvgCost, nil
	})

	queries := portfolio.NewService(store, priceOracle)
	handler := api.NewHandler(accounts, queries, store, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	// Create server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Infof("server starting on http://localhost:%d", cfg.Port)
		log.Infof("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infof("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Infof("server stopped")
}
