package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TelegramSink posts text messages through the Bot API
type TelegramSink struct {
	httpClient *http.Client
	endpoint   string
	chatID     string
}

// NewTelegramSink creates a sink for one chat
func NewTelegramSink(apiURL, token, chatID string, timeout time.Duration) *TelegramSink {
	return &TelegramSink{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(apiURL, "/") + "/bot" + token + "/sendMessage",
		chatID:     chatID,
	}
}

// Name returns the sink tag
func (t *TelegramSink) Name() string {
	return "telegram"
}

// Send posts one message
func (t *TelegramSink) Send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
