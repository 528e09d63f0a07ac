package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"listing-watcher/services"
	"listing-watcher/utils"
)

type runner interface {
	Run(ctx context.Context, mode string) (services.RunSummary, error)
}

// watcher runs the engine on a cron schedule. A tick is skipped while the
// previous run is still going.
type watcher struct {
	cron   *cron.Cron
	runner runner
	spec   string
	mode   string
	logger *utils.Logger

	// first tracks the run fired by Start, which cron does not wait for.
	first sync.WaitGroup
}

func newWatcher(r runner, spec, mode string, logger *utils.Logger) *watcher {
	cl := cronLogger{logger}
	return &watcher{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: r,
		spec:   spec,
		mode:   mode,
		logger: logger,
	}
}

// Start registers the job, starts the scheduler and fires one run right
// away through the same job chain.
func (w *watcher) Start(ctx context.Context) error {
	id, err := w.cron.AddFunc(w.spec, func() { w.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("watch: schedule %q: %w", w.spec, err)
	}
	w.cron.Start()
	w.logger.Info("[watch] scheduler started", "spec", w.spec, "mode", w.mode)

	job := w.cron.Entry(id).WrappedJob
	w.first.Add(1)
	go func() {
		defer w.first.Done()
		job.Run()
	}()
	return nil
}

// Stop stops the scheduler and waits for running jobs, including the one
// fired by Start, to finish.
func (w *watcher) Stop() {
	<-w.cron.Stop().Done()
	w.first.Wait()
	w.logger.Info("[watch] scheduler stopped")
}

func (w *watcher) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.runner.Run(ctx, w.mode); err != nil {
		w.logger.Error("[watch] run failed", "error", err)
	}
}

// cronLogger adapts utils.Logger to cron.Logger.
type cronLogger struct {
	logger *utils.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("[cron] "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("[cron] "+msg, append(keysAndValues, "error", err)...)
}

func newWatchCommand(a *app) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run on the configured schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, cleanup, err := a.newRunner(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			w := newWatcher(r, a.cfg.Schedule, mode, a.logger)
			if err := w.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", services.ModeAuto, "run mode for each tick: changes, digest or auto")
	return cmd
}
