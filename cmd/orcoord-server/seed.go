package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orcoord/orcoord/internal/config"
	"github.com/orcoord/orcoord/internal/platform/sandbox"
)

func seedCmd() *cobra.Command {
	def := sandbox.DefaultSeedConfig()
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the configured store with a generated demo day",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := def
			sc.Rooms, _ = cmd.Flags().GetInt("rooms")
			sc.Anesthesiologists, _ = cmd.Flags().GetInt("anesthesiologists")
			sc.Nurses, _ = cmd.Flags().GetInt("nurses")
			sc.Surgeries, _ = cmd.Flags().GetInt("surgeries")
			sc.Seed, _ = cmd.Flags().GetInt64("seed")
			if date, _ := cmd.Flags().GetString("date"); date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				sc.Date = d
			}
			return runSeed(cmd, sc)
		},
	}
	cmd.Flags().Int("rooms", def.Rooms, "Number of operating rooms")
	cmd.Flags().Int("anesthesiologists", def.Anesthesiologists, "Number of anesthesiologists")
	cmd.Flags().Int("nurses", def.Nurses, "Number of nurses")
	cmd.Flags().Int("surgeries", def.Surgeries, "Number of surgeries")
	cmd.Flags().String("date", "", "Day to schedule, YYYY-MM-DD (default today)")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 picks one from the clock")
	return cmd
}

func runSeed(cmd *cobra.Command, sc sandbox.SeedConfig) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Store == config.StoreMemory {
		return fmt.Errorf("seeding the memory store is only possible with serve --seed")
	}
	if !sc.Date.IsZero() {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		sc.Date = time.Date(sc.Date.Year(), sc.Date.Month(), sc.Date.Day(), 0, 0, 0, 0, loc)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	res, err := a.seed(ctx, sc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := a.Shutdown(shutdownCtx); serr != nil {
		logger.Error().Err(serr).Msg("shutdown failed")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d room(s), %d staff, %d shift(s), %d surgery(ies).\n",
		res.Rooms, res.Staff, res.Shifts, res.Surgeries)
	return nil
}
