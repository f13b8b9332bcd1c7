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

	"commissiond/internal/heat"
)

// Digest is the periodic summary of lead vendor heat.
type Digest struct {
	AsOf    time.Time
	Total   int
	Hottest []heat.Score
	Coldest []heat.Score
	Note    string
}

// Notifier delivers digests.
type Notifier interface {
	Notify(ctx context.Context, digest Digest) error
}

// TelegramNotifier posts digests through the Telegram Bot API.
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
		logger:   logger.With().Str("component", "digest_telegram").Logger(),
	}
}

// Notify sends the rendered digest via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, digest Digest) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderDigest(digest),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().Time("as_of", digest.AsOf).
		Int("vendors", digest.Total).
		Msg("heat digest sent")
	return nil
}

// RenderDigest formats a digest as plain text.
func RenderDigest(d Digest) string {
	var b strings.Builder
	b.WriteString("[Lead Vendor Heat]\n")
	fmt.Fprintf(&b, "As of: %s UTC\n", d.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Vendors scored: %d\n", d.Total)

	if d.Total == 0 {
		b.WriteString("No vendor activity.\n")
	}
	writeSection(&b, "Hottest", d.Hottest)
	writeSection(&b, "Coldest", d.Coldest)

	if d.Note != "" {
		b.WriteString(d.Note)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, scores []heat.Score) {
	if len(scores) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, s := range scores {
		fmt.Fprintf(b, "%d. %s  %.1f (%s, %s)\n", s.Rank, s.EntityID, s.Score, s.Level, s.Trend)
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
