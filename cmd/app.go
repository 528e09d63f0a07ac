package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"listing-watcher/metrics"
	"listing-watcher/notifier"
	"listing-watcher/scraper/yad2"
	"listing-watcher/services"
	"listing-watcher/storage"
)

func (a *app) ruleStore() *storage.JSONRuleStore {
	return storage.NewJSONRuleStore(a.cfg.Path(storage.ExclusionsFile), a.logger)
}

// newRunner wires a Runner from the loaded config. The returned func
// releases the archive connection.
func (a *app) newRunner(ctx context.Context) (*services.Runner, func(), error) {
	cfg, logger := a.cfg, a.logger
	if err := cfg.RequireTelegram(); err != nil {
		return nil, nil, err
	}

	deps := services.Deps{
		Source:     yad2.New(cfg, logger),
		Listings:   storage.NewJSONListingStore(cfg.Path(storage.TrackedListingsFile), logger),
		Rules:      a.ruleStore(),
		Dispatcher: notifier.NewTelegram(cfg, logger),
		Composer:   services.NewComposer(cfg.MessageBudget, cfg.Location()),
		Cleaner:    services.NewCleaner(logger, cfg.Neighborhoods),
		Insights:   services.NewInsightService(logger),
		LastDigest: storage.NewTimestampFile(cfg.Path(storage.LastDigestFile), logger),
		Policy: services.DigestPolicy{
			Period:   cfg.DigestPeriod,
			Hour:     cfg.DigestHour,
			Location: cfg.Location(),
		},
		History: storage.NewRunHistory(cfg.Path(storage.LastRunFile), cfg.Path(storage.RunHistoryFile)),
		Observer: services.MultiObserver{
			services.NewLogObserver(logger),
			metrics.NewRecorder(cfg.MetricsFile, logger),
		},
		Logger:   logger,
		NewRunID: uuid.NewString,
	}

	if cfg.SnapshotCSV {
		w, err := storage.NewCSVWriter(cfg.Path("snapshots"))
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot writer: %w", err)
		}
		deps.Snapshot = w
	}

	cleanup := func() {}
	if cfg.ArchiveEnabled {
		archive, err := storage.NewPostgresArchive(ctx, cfg.DSN())
		if err != nil {
			// The archive is an export; runs go on without it.
			logger.Warn("[app] postgres archive unavailable, continuing without it", "error", err)
		} else {
			deps.Archive = archive
			cleanup = func() {
				if err := archive.Close(); err != nil {
					logger.Warn("[app] closing archive", "error", err)
				}
			}
		}
	}

	return services.NewRunner(deps), cleanup, nil
}
