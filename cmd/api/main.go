package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"profile-gate/internal/app"
	"profile-gate/internal/auth"
	"profile-gate/internal/db"
	"profile-gate/internal/observability"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "profile-gate",
		Short:        "PIN gate for protected profile pages",
		SilenceUsage: true,
	}

	serve := newServeCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newOwnerTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.NewLogger()

			runtime, err := app.Build(app.Options{RunMigrations: migrate})
			if err != nil {
				logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
				return err
			}
			defer runtime.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              ":" + runtime.Config.Port,
				Handler:           runtime.Handler,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_start", map[string]any{"addr": server.Addr})
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server_failed", map[string]any{"error": err.Error()})
					return err
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("server_shutdown", nil)
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
			if databaseURL == "" {
				return fmt.Errorf("missing required env: DATABASE_URL")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			database, err := db.Open(ctx, databaseURL, db.PoolOptions{MaxOpenConns: 1, MaxIdleConns: 1})
			if err != nil {
				return err
			}
			defer database.Close()

			if err := db.RunMigrations(ctx, database); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newOwnerTokenCmd() *cobra.Command {
	var (
		profileID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "owner-token",
		Short: "Mint an owner token for a profile",
		Long: `Sign an owner token with OWNER_JWT_SECRET. Owners normally receive
tokens from the account service; this is for operators and local testing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := auth.NewTokenIssuer(strings.TrimSpace(os.Getenv("OWNER_JWT_SECRET")), ttl, nil)
			if err != nil {
				return err
			}

			token, err := issuer.Issue(profileID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(token)
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to sign for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
