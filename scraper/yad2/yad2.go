package yad2

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"listing-watcher/config"
	"listing-watcher/models"
	"listing-watcher/utils"
)

// Scraper fetches the rent feed for every configured neighborhood.
type Scraper struct {
	cfg    *config.Config
	logger *utils.Logger
	pool   *utils.WorkerPool
	retry  *utils.RetryConfig

	// openBrowser and render are replaced in tests.
	openBrowser func(ctx context.Context) (context.Context, context.CancelFunc)
	render      func(ctx context.Context, pageURL string) (string, error)
}

// New creates a ready-to-use Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	s := &Scraper{
		cfg:    cfg,
		logger: logger,
		pool:   utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
	s.openBrowser = s.openChrome
	s.render = renderPage
	return s
}

// Fetch renders one search page per neighborhood and returns the union of
// their listings, first occurrence wins. If any page cannot be read the
// whole batch is discarded and an error returned.
func (s *Scraper) Fetch(ctx context.Context) ([]models.Listing, error) {
	neighborhoods := s.cfg.Neighborhoods
	if len(neighborhoods) == 0 {
		neighborhoods = []string{""}
	}

	browserCtx, closeBrowser := s.openBrowser(ctx)
	defer closeBrowser()

	var (
		mu      sync.Mutex
		results = make([][]models.Listing, len(neighborhoods))
		errs    []error
	)
	for i, n := range neighborhoods {
		s.pool.Submit(browserCtx, func(ctx context.Context) {
			listings, err := s.fetchNeighborhood(ctx, n)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("[yad2] neighborhood failed", "neighborhood", n, "error", err)
				errs = append(errs, fmt.Errorf("%q: %w", n, err))
				return
			}
			results[i] = listings
		})
	}
	s.pool.Wait()

	seen := utils.NewIDSet()
	var all []models.Listing
	for _, batch := range results {
		for _, l := range batch {
			if l.ID != "" && !seen.Add(l.ID) {
				continue
			}
			all = append(all, l)
		}
	}

	s.logger.Info("[yad2] fetch complete", "listings", len(all), "unique_ids", seen.Size(), "failed_pages", len(errs))
	if len(errs) > 0 {
		// A partial batch would report the failed neighborhoods' listings
		// as removed.
		return nil, fmt.Errorf("yad2: fetch: %d of %d pages failed: %w",
			len(errs), len(neighborhoods), errors.Join(errs...))
	}
	return all, nil
}

func (s *Scraper) fetchNeighborhood(ctx context.Context, neighborhood string) ([]models.Listing, error) {
	pageURL, err := SearchURL(s.cfg.SourceURL, neighborhood)
	if err != nil {
		return nil, err
	}

	var listings []models.Listing
	err = s.retry.Do(ctx, "yad2-search", func() error {
		html, err := s.render(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("render %s: %w", pageURL, err)
		}
		payload, err := ExtractNextData(html)
		if err != nil {
			return err
		}
		listings, err = ParseFeed(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", utils.ErrPermanent, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("[yad2] page parsed", "neighborhood", neighborhood, "listings", len(listings))
	return listings, nil
}

// SearchURL adds the neighborhood as the free-text filter of the base
// search URL.
func SearchURL(base, neighborhood string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("yad2: bad source url %q: %w", base, err)
	}
	if neighborhood != "" {
		q := u.Query()
		q.Set("text", neighborhood)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Scraper) openChrome(ctx context.Context) (context.Context, context.CancelFunc) {
	chromeBin := s.cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	s.logger.Info("[yad2] using browser binary", "path", chromeBin, "headless", s.cfg.Headless)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("lang", "he-IL,he,en-US"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	// Start the browser so page renders open tabs in it instead of
	// launching one browser each.
	if err := chromedp.Run(browserCtx); err != nil {
		s.logger.Warn("[yad2] browser start failed", "error", err)
	}
	return browserCtx, func() {
		cancelBrowser()
		cancelAlloc()
	}
}

// renderPage opens pageURL in a new tab and returns the rendered document.
func renderPage(browserCtx context.Context, pageURL string) (string, error) {
	ctx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, 90*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`script#__NEXT_DATA__`, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp: %w", err)
	}
	return html, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
