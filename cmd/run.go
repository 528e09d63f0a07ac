package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"listing-watcher/services"
)

func newRunCommand(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, reconcile and notify once",
		Long: `Run a single watch cycle. In "changes" mode only the change set is sent,
in "digest" mode only the digest, and in "auto" mode the change set plus
the digest when it is due.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOnce(cmd, mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", services.ModeAuto, "run mode: changes, digest or auto")
	return cmd
}

func newDigestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Send the digest of all tracked listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOnce(cmd, services.ModeDigest)
		},
	}
}

func (a *app) runOnce(cmd *cobra.Command, mode string) error {
	ctx := cmd.Context()
	runner, cleanup, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := runner.Run(ctx, mode)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d new, %d price changes, %d updated, %d removed; tracking %d\n",
		summary.New, summary.PriceChanged, summary.Updated, summary.Removed, summary.Tracked)
	return nil
}
