// Package chat provides the client boundary for the chat platform used to
// announce campaigns, post status reports, and deliver archives.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tmxbot/envimix/internal/logger"
)

// Ref is the opaque tracking pair returned for a posted message.
type Ref struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Zero reports whether the ref has not been assigned yet.
func (r Ref) Zero() bool {
	return r.ChannelID == "" || r.MessageID == ""
}

// File is a message attachment.
type File struct {
	Name string
	Data []byte
}

// Message is the content posted to a channel, with optional attachments.
type Message struct {
	Content string
	Files   []File
}

// Client defines the interface for chat-platform operations
type Client interface {
	// Send posts a message to a channel and returns its tracking ref
	Send(ctx context.Context, channelID string, msg Message) (Ref, error)
	// Edit replaces the content and attachments of an existing message
	Edit(ctx context.Context, ref Ref, msg Message) error
}

// HTTPClient talks to the platform's bot gateway over HTTP
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPClient creates a new chat gateway client
func NewHTTPClient(baseURL, token string, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // attachments can be large
		},
		log: log,
	}
}

// Send posts a message to a channel and returns its tracking ref
func (c *HTTPClient) Send(ctx context.Context, channelID string, msg Message) (Ref, error) {
	path := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)

	var resp struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := c.doMultipart(ctx, http.MethodPost, path, msg, &resp); err != nil {
		return Ref{}, err
	}
	return Ref{ChannelID: resp.ChannelID, MessageID: resp.ID}, nil
}

// Edit replaces the content and attachments of an existing message
func (c *HTTPClient) Edit(ctx context.Context, ref Ref, msg Message) error {
	if ref.Zero() {
		return fmt.Errorf("chat: cannot edit message without a ref")
	}
	path := fmt.Sprintf("%s/channels/%s/messages/%s", c.baseURL, ref.ChannelID, ref.MessageID)
	return c.doMultipart(ctx, http.MethodPatch, path, msg, nil)
}

// doMultipart sends the message as a multipart request: a JSON part with the
// content plus one part per attachment.
func (c *HTTPClient) doMultipart(ctx context.Context, method, url string, msg Message, response interface{}) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	payload, err := json.Marshal(map[string]string{"content": msg.Content})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	for i, f := range msg.Files {
		part, err := mw.CreateFormFile(fmt.Sprintf("files[%d]", i), f.Name)
		if err != nil {
			return fmt.Errorf("failed to attach %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("failed to attach %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	c.log.Debug("Chat request", "method", method, "url", url, "files", len(msg.Files))

	req, err := http.NewRequestWithContext(ctx, method, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to chat platform: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat platform returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
