package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NtfyClient publishes notifications to an ntfy server.
type NtfyClient struct {
	server string
	topic  string
	client *http.Client
}

// Ensure NtfyClient implements Notifier
var _ Notifier = (*NtfyClient)(nil)

// NewNtfyClient creates a client publishing to topic on server
func NewNtfyClient(server, topic string) *NtfyClient {
	return &NtfyClient{
		server: server,
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type ntfyMessage struct {
	Topic   string   `json:"topic"`
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message"`
	Tags    []string `json:"tags,omitempty"`
}

// Send publishes n using ntfy's JSON publishing endpoint
func (c *NtfyClient) Send(n Notification) error {
	msg := ntfyMessage{
		Topic:   c.topic,
		Title:   n.Title,
		Message: n.Message,
	}
	if n.Keyword != "" {
		msg.Tags = []string{"warning", n.Keyword}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode ntfy message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.server+"/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ntfy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	return nil
}
