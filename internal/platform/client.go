package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// Client is the HTTP implementation of the cloud collaborators, speaking the
// platform public API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Entry
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a client for a region ("mypurecloud.com" style) or a full
// base URL (used by tests).
func NewClient(logger *logrus.Entry, regionOrBaseURL, accessToken string, opts ...Option) *Client {
	base := strings.TrimRight(regionOrBaseURL, "/")
	if !strings.Contains(base, "://") {
		base = "https://api." + base
	}
	c := &Client{
		baseURL:    base,
		token:      accessToken,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger.WithField("component", "platform"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) Login(ctx context.Context) (User, error) {
	// Token-based auth: a login is just proving the token by resolving the
	// current user. The OAuth dance itself is outside this component.
	return c.CurrentUser(ctx)
}

func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var user User
	if err := c.doJSON(ctx, http.MethodGet, "/api/v2/users/me", nil, &user); err != nil {
		return User{}, fmt.Errorf("get current user: %w", err)
	}
	return user, nil
}

func (c *Client) CreateChannel(ctx context.Context) (Channel, error) {
	var channel Channel
	if err := c.doJSON(ctx, http.MethodPost, "/api/v2/notifications/channels", struct{}{}, &channel); err != nil {
		return Channel{}, fmt.Errorf("create notification channel: %w", err)
	}
	return channel, nil
}

func (c *Client) Subscribe(ctx context.Context, channelID string, topics []string) error {
	body := make([]map[string]string, 0, len(topics))
	for _, topic := range topics {
		body = append(body, map[string]string{"id": topic})
	}
	path := "/api/v2/notifications/channels/" + channelID + "/subscriptions"
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("subscribe to topics: %w", err)
	}
	return nil
}

func (c *Client) MessageText(ctx context.Context, conversationID, messageID string) (string, error) {
	var message struct {
		NormalizedMessage struct {
			Text string `json:"text"`
		} `json:"normalizedMessage"`
	}
	path := "/api/v2/conversations/messages/" + conversationID + "/messages/" + messageID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &message); err != nil {
		return "", fmt.Errorf("get message text: %w", err)
	}
	return message.NormalizedMessage.Text, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		message := strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("platform api %s %s returned %d: %s", method, path, resp.StatusCode, message)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
