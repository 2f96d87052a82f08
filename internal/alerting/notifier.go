package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/market"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	payload := map[string]string{
		"chat_id": strconv.FormatInt(event.DestinationID, 10),
		"text":    renderEvent(event),
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int64("chat_id", event.DestinationID).
		Str("kind", string(event.Kind)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderEvent(event Event) string {
	switch event.Kind {
	case KindAlertTriggered:
		if event.Alert != nil {
			return renderAlert(*event.Alert)
		}
	case KindSummary:
		if event.Summary != nil {
			return renderSummary(*event.Summary)
		}
	}
	return fmt.Sprintf("[marketwatch] %s", event.Kind)
}

func renderAlert(payload AlertPayload) string {
	rule := payload.Rule
	builder := strings.Builder{}
	builder.WriteString("[Price Alert]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s (%s)\n", strings.ToUpper(rule.Slug), rule.Category))
	builder.WriteString(fmt.Sprintf("Condition: %s %s\n", rule.Direction, rule.TargetPrice.String()))
	builder.WriteString(fmt.Sprintf("Observed: %s\n", payload.ObservedPrice.String()))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", payload.ObservedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var summarySlugs = map[market.Category][]string{
	market.CategoryGold:     {"sekkeh", "18ayar", "abshodeh"},
	market.CategoryCrypto:   {"btc", "eth", "usdt"},
	market.CategoryCurrency: {"usd", "eur", "gbp"},
}

func renderSummary(payload SummaryPayload) string {
	snap := payload.Snapshot
	builder := strings.Builder{}
	builder.WriteString("[Market Summary]\n")
	for _, cat := range market.Categories() {
		assets, ok := snap.Assets[cat]
		if !ok || len(assets) == 0 {
			continue
		}
		builder.WriteString(fmt.Sprintf("%s (%d assets)\n", cat, len(assets)))
		for _, slug := range summarySlugs[cat] {
			if price, ok := snap.Resolve(cat, slug); ok {
				builder.WriteString(fmt.Sprintf("  %s: %s\n", strings.ToUpper(slug), price.String()))
			}
		}
	}
	if !snap.LastUpdatedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Updated: %s UTC\n", snap.LastUpdatedAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
