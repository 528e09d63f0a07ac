// Package cmd implements the listing-watcher command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"listing-watcher/config"
	"listing-watcher/utils"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *utils.Logger
}

// load reads configuration and builds the logger. It runs before every
// subcommand.
func (a *app) load(*cobra.Command, []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) sync(*cobra.Command, []string) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return nil
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "listing-watcher",
		Short: "Watch rental listings and report changes to Telegram",
		Long: `listing-watcher fetches the current rent feed, reconciles it against the
tracked listings, applies the user's exclusion rules and sends the change set
and a periodic digest to a Telegram chat.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.load,
		PersistentPostRunE: a.sync,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml)")

	root.AddCommand(
		newRunCommand(a),
		newDigestCommand(a),
		newWatchCommand(a),
		newExcludeCommand(a),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}
