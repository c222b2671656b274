package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PromptRequest is the body of POST /prompt
type PromptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
	Front    bool     `json:"front,omitempty"`
}

// PromptResponse is returned by POST /prompt
type PromptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// Client talks to a ComfyUI server
type Client struct {
	baseURL    *url.URL
	clientID   string
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClientID sets the client id instead of generating one
func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithLogger sets the zap logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the server at baseURL (e.g. "http://127.0.0.1:8188")
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ComfyUI URL '%s': %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid ComfyUI URL '%s': scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		clientID:   uuid.NewString(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("daedalus/comfy"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientID returns the id the client identifies itself with
func (c *Client) ClientID() string {
	return c.clientID
}

// WebsocketURL returns the /ws endpoint for this client
func (c *Client) WebsocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": []string{c.clientID}}.Encode()
	return u.String()
}

// QueuePrompt submits workflow for execution. front places it at the head of the queue.
func (c *Client) QueuePrompt(ctx context.Context, workflow Workflow, front bool) (*PromptResponse, error) {
	ctx, span := c.tracer.Start(ctx, "comfy.QueuePrompt",
		trace.WithAttributes(
			attribute.Int("workflow.nodes", len(workflow)),
			attribute.Bool("queue.front", front),
		))
	defer span.End()

	body, err := json.Marshal(PromptRequest{Prompt: workflow, ClientID: c.clientID, Front: front})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt: %w", err)
	}

	endpoint := c.baseURL.JoinPath("prompt").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, sdkerrors.NewError("QUEUE_FAILED", "POST /prompt", fmt.Errorf("%w: %w", sdkerrors.ErrQueueFailed, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%w: status %d: %s", sdkerrors.ErrQueueFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt rejected")
		return nil, sdkerrors.NewError("QUEUE_FAILED", "POST /prompt", err)
	}

	var out PromptResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode prompt response: %w", err)
	}

	span.SetAttributes(attribute.String("prompt.id", out.PromptID))
	c.logger.Debug("Prompt queued",
		zap.String("prompt_id", out.PromptID),
		zap.Int("number", out.Number),
		zap.Bool("front", front))
	return &out, nil
}
