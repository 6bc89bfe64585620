package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the context of one chemistry alert.
type Notification struct {
	DeviceName   string
	DeviceSerial string
	Metric       string
	Value        decimal.Decimal
	Threshold    decimal.Decimal
	Unit         string
	MeasuredAt   time.Time
	Channels     []string
}

// Notifier delivers chemistry alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert text via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("device", note.DeviceSerial).
		Str("metric", note.Metric).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert dispatched (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Pool Chemistry Alert]\n")
	builder.WriteString(fmt.Sprintf("Pool: %s (%s)\n", note.DeviceName, note.DeviceSerial))
	builder.WriteString(fmt.Sprintf("Metric: %s\n", note.Metric))
	unit := note.Unit
	if unit == "" {
		unit = "ppm"
	}
	builder.WriteString(fmt.Sprintf("Value: %s %s (threshold %s %s)\n",
		note.Value.StringFixed(2), unit, note.Threshold.StringFixed(2), unit))
	if !note.MeasuredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Measured: %s UTC\n", note.MeasuredAt.UTC().Format(time.RFC3339)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
