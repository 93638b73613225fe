// cmd/chainsync runs the chain reconciliation loop on its own, without the
// HTTP API. Useful for deployments that keep anchoring off the serving path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/chainrpc"
	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
	"github.com/aamirshehzad9/GentleOmega/internal/reconciler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("chainsync exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("database.url", "")
	viper.SetDefault("chain.rpc_url", "")
	viper.SetDefault("chain.wallet_address", "")
	viper.SetDefault("chain.rpc_timeout", "20s")
	viper.SetDefault("chain.cycle_interval", "10m")
	viper.SetDefault("chain.error_backoff", "1m")

	dbURL := viper.GetString("database.url")
	if dbURL == "" {
		return fmt.Errorf("database.url is required: an in-memory ledger has nothing to reconcile across restarts")
	}

	db, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	store := ledger.NewPostgres(db, logger)
	chain := chainrpc.New(
		viper.GetString("chain.rpc_url"),
		viper.GetString("chain.wallet_address"),
		viper.GetDuration("chain.rpc_timeout"),
		logger,
	)
	defer chain.Close()

	loop := reconciler.New(store, chain, reconciler.Config{
		Interval:     viper.GetDuration("chain.cycle_interval"),
		ErrorBackoff: viper.GetDuration("chain.error_backoff"),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down chainsync...")
		cancel()
	}()

	logger.Info("chainsync started",
		zap.Duration("cycle_interval", viper.GetDuration("chain.cycle_interval")),
	)
	loop.Run(ctx)
	logger.Info("chainsync stopped")
	return nil
}
