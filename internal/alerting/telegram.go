package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Timeout  time.Duration
	// MinSeverity drops alerts below this level.
	MinSeverity Severity
	// APIBaseURL overrides the Bot API endpoint.
	APIBaseURL string
}

// TelegramAlerter sends alerts via the Telegram Bot API.
type TelegramAlerter struct {
	cfg    TelegramConfig
	client *http.Client
	now    func() time.Time
}

// NewTelegramAlerter creates a new Telegram alerter.
func NewTelegramAlerter(cfg TelegramConfig) *TelegramAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultTelegramAPI
	}

	return &TelegramAlerter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if severity < t.cfg.MinSeverity {
		return nil
	}
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendSessionSummary sends a formatted run summary.
func (t *TelegramAlerter) SendSessionSummary(ctx context.Context, s SessionSummary) error {
	return t.send(ctx, t.formatSessionSummary(s))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIBaseURL, "/"), t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(respBody, &telegramResp); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error: %s", telegramResp.Description)
	}

	return nil
}

func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>[%s]</b>\n%s", severity.Emoji(), severity.String(), html.EscapeString(message))

	if details := FormatFields(fields...); details != "" {
		b.WriteString("\n\n<b>Details:</b>\n")
		b.WriteString(html.EscapeString(details))
	}

	fmt.Fprintf(&b, "\n\n<i>%s</i>", t.now().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func (t *TelegramAlerter) formatSessionSummary(s SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Session Summary</b> %s\n", html.EscapeString(s.Symbol))
	fmt.Fprintf(&b, "<b>Run:</b> %s → %s (%s)\n\n",
		s.Start.Format("2006-01-02 15:04"),
		s.End.Format("15:04"),
		s.Duration().Round(time.Second),
	)

	b.WriteString("<b>Cycles:</b>\n")
	for _, name := range s.OutcomeNames() {
		fmt.Fprintf(&b, "• %s: %d\n", name, s.Outcomes[name])
	}
	fmt.Fprintf(&b, "• Fill rate: %s%%\n\n", s.FillRate().StringFixed(1))

	fmt.Fprintf(&b, "<b>Volume:</b>\n• Bought: %d\n• Sold: %d\n• Reprices: %d", s.BoughtVolume, s.SoldVolume, s.Reprices)

	if s.StopReason != "" {
		fmt.Fprintf(&b, "\n\n<b>Stopped:</b> %s", html.EscapeString(s.StopReason))
	}
	return b.String()
}
