// Package notify implements the two delivery channels (chat, push) a
// worker calls once it claims a dispatch job.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrRecipientBlocked is returned when the provider reports the
// recipient can no longer receive messages — the caller must detach the
// stored handle and mark the alert failed without retry.
var ErrRecipientBlocked = fmt.Errorf("notify: recipient blocked")

const telegramBaseURL = "https://api.telegram.org"

// ChatSender delivers a message via the Telegram Bot API.
type ChatSender struct {
	token   string
	client  *http.Client
	baseURL string
}

// NewChatSender builds a sender against a bot token.
func NewChatSender(token string) *ChatSender {
	return &ChatSender{token: strings.TrimSpace(token), client: &http.Client{Timeout: 8 * time.Second}, baseURL: telegramBaseURL}
}

// NewChatSenderWithBaseURL builds a sender against a non-default Bot
// API base URL (a self-hosted Bot API server, or a test double).
func NewChatSenderWithBaseURL(token, baseURL string, client *http.Client) *ChatSender {
	return &ChatSender{token: strings.TrimSpace(token), client: client, baseURL: baseURL}
}

// Send posts message to chatID. A 403 ("bot was blocked by the user")
// maps to ErrRecipientBlocked; any other non-2xx is a plain error the
// caller's retry/backoff policy handles.
func (s *ChatSender) Send(chatID, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	body, err := json.Marshal(map[string]any{
		"chat_id":                  strings.TrimSpace(chatID),
		"text":                     message,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrRecipientBlocked
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
