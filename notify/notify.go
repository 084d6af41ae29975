// Package notify posts a short run summary to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bloomberg-lite/pipeline"
)

// maxFailures caps the failure lines included in one message.
const maxFailures = 10

// Sender sends messages to Telegram.
type Sender interface {
	SendHTML(ctx context.Context, chatID int64, text string) (int, error)
}

// TelegramSender implements Sender using tgbotapi.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender authenticates the bot token. endpoint may be empty for
// the public Telegram API; it has the tgbotapi form ".../bot%s/%s".
func NewTelegramSender(token, endpoint string, client *http.Client) (*TelegramSender, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("notify: connect telegram: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

// SendHTML sends an HTML-formatted message and returns its message id.
func (s *TelegramSender) SendHTML(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	resp, err := s.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("notify: send message: %w", err)
	}
	return resp.MessageID, nil
}

// Config holds notifier settings.
type Config struct {
	ChatID int64
	// DashboardURL is linked from the message when set.
	DashboardURL string
}

// Notifier sends run summaries. A Notifier without a sender or chat is a
// no-op, so the pipeline can always be given one.
type Notifier struct {
	sender Sender
	config Config
}

// New creates a Notifier.
func New(sender Sender, cfg Config) *Notifier {
	return &Notifier{sender: sender, config: cfg}
}

// Enabled reports whether summaries are actually sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil && n.config.ChatID != 0
}

// Notify sends the summary of one run.
func (n *Notifier) Notify(ctx context.Context, sum pipeline.Summary) error {
	if !n.Enabled() {
		slog.Debug("notification skipped, telegram not configured", "run_id", sum.RunID)
		return nil
	}
	msgID, err := n.sender.SendHTML(ctx, n.config.ChatID, FormatSummary(sum, n.config.DashboardURL))
	if err != nil {
		return err
	}
	slog.Info("run summary sent", "run_id", sum.RunID, "message_id", msgID)
	return nil
}

// FormatSummary renders a run summary as Telegram HTML.
func FormatSummary(sum pipeline.Summary, dashboardURL string) string {
	var b strings.Builder

	status := "✅"
	if !sum.Usable() {
		status = "❌"
	} else if len(sum.Failures) > 0 {
		status = "⚠️"
	}
	fmt.Fprintf(&b, "%s <b>Bloomberg-Lite %s run</b>\n", status, html.EscapeString(string(sum.Mode)))
	fmt.Fprintf(&b, "<i>%s · %s</i>\n\n", sum.StartedAt.UTC().Format("2006-01-02 15:04 UTC"), sum.Duration().Round(time.Second))

	if sum.Mode != pipeline.ModeGenOnly {
		fmt.Fprintf(&b, "📈 Metrics: %d ok, %d skipped, %d failed\n", sum.Metrics.Succeeded, sum.Metrics.Skipped, sum.Metrics.Failed)
		fmt.Fprintf(&b, "📰 Feeds: %d ok, %d skipped, %d failed\n", sum.Feeds.Succeeded, sum.Feeds.Skipped, sum.Feeds.Failed)
		fmt.Fprintf(&b, "💾 %d observations, %d stories stored, %d pruned\n", sum.ObservationsStored, sum.StoriesStored, sum.StoriesPruned)
	}
	if sum.Mode != pipeline.ModeFetchOnly {
		if sum.Generated {
			b.WriteString("🖥 Dashboard generated\n")
		} else {
			fmt.Fprintf(&b, "🖥 Dashboard failed: %s\n", html.EscapeString(sum.GenerateErr))
		}
	}

	if len(sum.Failures) > 0 {
		b.WriteString("\n")
		for i, f := range sum.Failures {
			if i == maxFailures {
				fmt.Fprintf(&b, "… and %d more\n", len(sum.Failures)-maxFailures)
				break
			}
			mark := "✗"
			if f.Skipped {
				mark = "–"
			}
			fmt.Fprintf(&b, "%s <code>%s</code>: %s\n", mark, html.EscapeString(f.Item), html.EscapeString(f.Reason))
		}
	}

	if dashboardURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Open dashboard</a>", html.EscapeString(dashboardURL))
	}
	return strings.TrimRight(b.String(), "\n")
}
