package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"listing-watcher/config"
	"listing-watcher/utils"
)

// errBadMarkup means Telegram could not parse the Markdown entities of a
// message; the same text is then sent as plain text.
var errBadMarkup = errors.New("telegram: can't parse entities")

// Telegram sends messages to one chat through the Bot API.
type Telegram struct {
	client  *http.Client
	apiURL  string
	token   string
	chatID  string
	limiter *rate.Limiter
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// NewTelegram builds a client from cfg. Chunks are paced SendDelay apart.
func NewTelegram(cfg *config.Config, logger *utils.Logger) *Telegram {
	return &Telegram{
		client:  &http.Client{Timeout: 30 * time.Second},
		apiURL:  strings.TrimRight(cfg.TelegramAPIURL, "/"),
		token:   cfg.TelegramToken,
		chatID:  cfg.TelegramChatID,
		limiter: newPacer(cfg.SendDelay),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Second,
			Logger:      logger,
		},
		logger: logger,
	}
}

// newPacer allows one send per delay; a zero delay disables pacing.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Dispatch sends chunks in order and returns one error slot per chunk.
// A failing chunk never stops the ones after it.
func (t *Telegram) Dispatch(ctx context.Context, chunks []string) []error {
	errs := make([]error, len(chunks))
	for i, text := range chunks {
		if err := t.limiter.Wait(ctx); err != nil {
			errs[i] = fmt.Errorf("telegram: pacing: %w", err)
			continue
		}
		errs[i] = t.Send(ctx, text)
		if errs[i] != nil {
			t.logger.Warn("[telegram] chunk not delivered", "chunk", i+1, "total", len(chunks), "error", errs[i])
		}
	}
	return errs
}

// Send delivers one message, first as Markdown and, if Telegram rejects the
// markup, again as plain text.
func (t *Telegram) Send(ctx context.Context, text string) error {
	err := t.retry.Do(ctx, "telegram-send", func() error {
		return t.post(ctx, text, "Markdown")
	})
	if !errors.Is(err, errBadMarkup) {
		return err
	}

	t.logger.Warn("[telegram] markdown rejected, sending as plain text")
	return t.retry.Do(ctx, "telegram-send-plain", func() error {
		return t.post(ctx, text, "")
	})
}

func (t *Telegram) post(ctx context.Context, text, parseMode string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram: encode: %w", utils.ErrPermanent, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: telegram: build request: %w", utils.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}

	desc := out.Description
	if desc == "" {
		desc = strings.TrimSpace(string(raw))
	}
	switch {
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(desc), "can't parse entities"):
		return fmt.Errorf("%w: %w: %s", utils.ErrPermanent, errBadMarkup, desc)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram: api error %d: %s", resp.StatusCode, desc)
	default:
		return fmt.Errorf("%w: telegram: api error %d: %s", utils.ErrPermanent, resp.StatusCode, desc)
	}
}
