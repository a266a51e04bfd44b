package main

import (
	"context"
	"fmt"
	"os"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/logger"
	"sparkchat/backend/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// env is shared by every subcommand; it is filled in by the root PersistentPreRunE.
type env struct {
	cfg   config.Config
	store *storage.Service
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operator tooling for the SparkChat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.connect(cmd.Context())
		},
	}

	root.AddCommand(
		newUserCmd(e),
		newLikeCmd(e),
		newUnlikeCmd(e),
		newTierCmd(e),
		newTokenCmd(e),
		newThreadCmd(e),
	)
	return root
}

// connect opens Postgres only. Nothing here touches Redis.
func (e *env) connect(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, true)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Debug().Msg("admin connected to database")

	e.cfg = cfg
	e.store = storage.NewStorageService(db, nil)
	return nil
}
