package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hperssn/tourguide/internal/config"
	"github.com/hperssn/tourguide/internal/domain"
	"github.com/hperssn/tourguide/internal/logging"
	"github.com/hperssn/tourguide/internal/runner"
	"github.com/hperssn/tourguide/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	verbose    bool

	resetUser  string
	resetTour  string
	statsUser  string
	statsSince time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tourguide",
	Short: "Guided onboarding tours for single-page apps",
	Long: `tourguide runs first-visit onboarding tours for a page made of panels.

Each tour walks a user through captioned, narrated steps, manually or on
autoplay, and remembers per user that the tour was completed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tour API and the static page",
	RunE:  serve,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and every tour in it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d tours\n", len(cfg.Tours))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget that a user completed a tour so it starts again",
	RunE: func(cmd *cobra.Command, args []string) error {
		tours, repo, err := openTours()
		if err != nil {
			return err
		}
		defer repo.Close()

		m := runner.NewTourManager(tours, repo, nil, logger, cfg.ManagerOptions())
		if err := m.ResetSeen(cmd.Context(), resetUser, resetTour); err != nil {
			return fmt.Errorf("reset %s for %s: %w", resetTour, resetUser, err)
		}
		logger.Info("tour flag cleared", zap.String("user", resetUser), zap.String("tour", resetTour))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a user's tour run statistics and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer repo.Close()

		stats, err := repo.GetRunStats(cmd.Context(), statsUser)
		if err != nil {
			return err
		}

		var runs []storage.RunRecord
		if statsSince > 0 {
			runs, err = repo.GetRecentRuns(cmd.Context(), statsUser, time.Now().Add(-statsSince))
		} else {
			runs, err = repo.GetRunsByUser(cmd.Context(), statsUser)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Stats *storage.RunStats   `json:"stats"`
			Runs  []storage.RunRecord `json:"runs"`
		}{stats, runs})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tourguide.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	resetCmd.Flags().StringVar(&resetUser, "user", "", "User whose flag is cleared")
	resetCmd.Flags().StringVar(&resetTour, "tour", "", "Tour name")
	_ = resetCmd.MarkFlagRequired("user")
	_ = resetCmd.MarkFlagRequired("tour")

	statsCmd.Flags().StringVar(&statsUser, "user", "", "User to report on")
	statsCmd.Flags().DurationVar(&statsSince, "since", 0, "Only list runs completed within this window")
	_ = statsCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(serveCmd, validateCmd, resetCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openTours validates the configured tours and opens storage.
func openTours() ([]*domain.Tour, storage.Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	tours, err := cfg.BuildTours()
	if err != nil {
		return nil, nil, err
	}

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return tours, repo, nil
}

func serve(cmd *cobra.Command, args []string) error {
	tours, repo, err := openTours()
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := runner.NewTourManager(tours, repo, clockwork.NewRealClock(), logger.Named("runner"), cfg.ManagerOptions())

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: newRouter(&server{
			tours:     manager,
			repo:      repo,
			logger:    logger.Named("http"),
			staticDir: cfg.StaticDir,
		}),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.Int("tours", len(tours)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}
