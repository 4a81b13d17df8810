package notify

import (
	"context"
	"fmt"
	"strings"

	"property-scraper/config"
	"property-scraper/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Notifier reports finished runs to the operator
type Notifier interface {
	RunFinished(ctx context.Context, run models.Run) error
}

// Nop discards notifications
type Nop struct{}

// RunFinished does nothing
func (Nop) RunFinished(context.Context, models.Run) error { return nil }

// Telegram sends run notifications to one chat
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	linkURL string
}

// New returns a Telegram notifier when a token and chat are configured, Nop otherwise.
// linkURL is the UI base used to link each run, e.g. "http://localhost:8501".
func New(cfg config.TelegramConfig, linkURL string) (Notifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, eris.Wrap(err, "notify: init telegram bot")
	}
	zap.L().Info("telegram notifications enabled", zap.String("bot", bot.Self.UserName))
	return NewTelegram(bot, cfg.ChatID, linkURL), nil
}

// NewTelegram wraps an authorized bot
func NewTelegram(bot *tgbotapi.BotAPI, chatID int64, linkURL string) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, linkURL: strings.TrimSuffix(linkURL, "/")}
}

// RunFinished sends a summary of the run. The bot API takes no context, so
// the send runs in the background and RunFinished returns when ctx is done.
func (t *Telegram) RunFinished(ctx context.Context, run models.Run) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "notify: send message for run %s", run.ID)
	}

	msg := tgbotapi.NewMessage(t.chatID, FormatRun(run, t.linkURL))
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return eris.Wrapf(err, "notify: send message for run %s", run.ID)
		}
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "notify: send message for run %s", run.ID)
	}
}

// FormatRun renders the notification text for a finished run
func FormatRun(run models.Run, linkURL string) string {
	var b strings.Builder

	step := "Step 1 (instruments)"
	if run.Kind == models.RunKindAddresses {
		step = "Step 2 (addresses)"
	}

	if run.Status == models.RunStatusDone {
		fmt.Fprintf(&b, "✅ %s finished\n", step)
	} else {
		fmt.Fprintf(&b, "❌ %s failed\n", step)
	}

	if len(run.InstrumentTypes) > 0 {
		fmt.Fprintf(&b, "Types: %s\n", strings.Join(run.InstrumentTypes, ", "))
	}
	if dr := run.DateRange(); dr != "" {
		fmt.Fprintf(&b, "Dates: %s\n", dr)
	}

	switch {
	case run.Status != models.RunStatusDone:
		fmt.Fprintf(&b, "Error: %s\n", run.ErrorMessage)
	case run.Kind == models.RunKindAddresses:
		fmt.Fprintf(&b, "Addresses: %d of %d (%.1f%%)\n", run.AddressesFound, run.TotalRecords, run.SuccessRate)
	default:
		fmt.Fprintf(&b, "Records: %d\n", run.TotalRecords)
	}

	if linkURL != "" {
		fmt.Fprintf(&b, "%s/runs/%s", strings.TrimSuffix(linkURL, "/"), run.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}
