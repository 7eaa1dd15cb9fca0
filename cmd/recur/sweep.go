package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flag subscriptions whose renewal date has passed",
		Long: `Flag every active subscription whose next charge date has passed so the
owner is asked to confirm it. Sweeping twice flags nothing new.

With --every the sweep repeats until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			every, _ := cmd.Flags().GetDuration("every")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if every <= 0 {
				return sweepOnce(cmd.Context(), cmd.OutOrStdout(), a.tracker)
			}
			return sweepEvery(cmd.Context(), cmd.OutOrStdout(), a.tracker, every)
		},
	}

	cmd.Flags().Duration("every", 0, "repeat the sweep at this interval (e.g. 1h)")
	return cmd
}

func sweepOnce(ctx context.Context, w io.Writer, tracker *renewal.Tracker) error {
	report, err := tracker.Sweep(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("%d subscriptions due, %d newly flagged", report.Due, report.Flagged)))
	return nil
}

func sweepEvery(ctx context.Context, w io.Writer, tracker *renewal.Tracker, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := sweepOnce(ctx, w, tracker); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			common.LogError(err, "Sweep failed", common.Fields{"every": every.String()})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
