package telegramclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	defaultUserAgent = "esus-pec-automation/0.1"
)

var telegramTracer = otel.Tracer("esus.internal.messaging.telegram")

// Config controls how the Telegram client behaves.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client wraps the Bot API methods used by the automation and the notifier bot.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegramclient: bot token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		token:      strings.TrimSpace(cfg.Token),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendMessage posts text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*Message, error) {
	return c.send(ctx, SendMessageRequest{ChatID: chatID, Text: text})
}

// Reply answers msg in its own chat, quoting it.
func (c *Client) Reply(ctx context.Context, msg *Message, text string) (*Message, error) {
	if msg == nil {
		return nil, errors.New("telegramclient: reply target required")
	}
	return c.send(ctx, SendMessageRequest{
		ChatID:           strconv.FormatInt(msg.Chat.ID, 10),
		Text:             text,
		ReplyToMessageID: msg.MessageID,
	})
}

func (c *Client) send(ctx context.Context, req SendMessageRequest) (*Message, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, span := telegramTracer.Start(ctx, "telegram.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("telegram.chat_id", req.ChatID))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("telegramclient: marshal message payload: %w", err)
	}
	var msg Message
	if err := c.invoke(ctx, "sendMessage", body, &msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.logger.Debug("telegram message sent", "chat_id", req.ChatID, "message_id", msg.MessageID)
	return &msg, nil
}

// GetUpdates long-polls for updates newer than offset. The HTTP client
// timeout must exceed the poll timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: []string{"message"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("telegramclient: marshal updates payload: %w", err)
	}
	var updates []Update
	if err := c.invoke(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetMe returns the bot's own account; used as a credential check.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.invoke(ctx, "getMe", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpMethod := http.MethodGet
	if body != nil {
		httpMethod = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.buildURL(method), bodyReader)
	if err != nil {
		return fmt.Errorf("telegramclient: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("telegramclient: http error: %w", redact(err, c.token))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegramclient: read response: %w", err)
	}

	var envelope response
	if err := json.Unmarshal(data, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("telegramclient: decode response: %w", err)
	}
	if !envelope.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("telegramclient: decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) buildURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + strings.TrimLeft(method, "/")
}

// redact keeps the token out of transport errors, which embed the URL.
func redact(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<token>"))
}

type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	StatusCode  int
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegramclient: %s (status=%d)", e.Description, e.StatusCode)
	}
	return fmt.Sprintf("telegramclient: http status %d", e.StatusCode)
}
