package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/samirrijal/nearchat/internal/adapters/postgres"
	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/pkg/config"
	"github.com/samirrijal/nearchat/internal/pkg/logging"
)

var (
	seedName   string
	seedEmail  string
	seedPublic bool
	seedRadius float64
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the nearchat profile database schema",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), postgres.Migrate)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), postgres.Rollback)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), postgres.MigrationStatus)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <user-id>",
	Short: "Create or update a profile for local development",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedRadius < domain.MinPublicRadiusKm || seedRadius > domain.MaxPublicRadiusKm {
			return fmt.Errorf("radius must be between %g and %g km", domain.MinPublicRadiusKm, domain.MaxPublicRadiusKm)
		}
		return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
			p := &domain.Profile{
				UserID:            args[0],
				Name:              seedName,
				Email:             seedEmail,
				IsPubliclyVisible: seedPublic,
				PublicRadiusKm:    seedRadius,
			}
			if err := postgres.NewProfileRepo(db).Upsert(ctx, p); err != nil {
				return err
			}
			slog.Info("profile seeded", "user_id", p.UserID, "public", p.IsPubliclyVisible)
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedName, "name", "n", "", "Display name")
	seedCmd.Flags().StringVarP(&seedEmail, "email", "e", "", "Email address")
	seedCmd.Flags().BoolVarP(&seedPublic, "public", "p", false, "Make the profile publicly visible")
	seedCmd.Flags().Float64VarP(&seedRadius, "radius", "r", domain.DefaultPublicRadiusKm, "Public radius in km")

	rootCmd.AddCommand(upCmd, downCmd, statusCmd, seedCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withDB loads config, connects and runs fn against the database.
func withDB(ctx context.Context, fn func(context.Context, *postgres.DB) error) error {
	cfg, err := config.Load("nearchat-migrate")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN(), 2)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	return fn(ctx, db)
}
