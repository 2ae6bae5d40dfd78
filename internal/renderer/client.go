package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/config"
	log "github.com/sirupsen/logrus"
)

// ErrNotConfigured indicates the render API settings are missing.
var ErrNotConfigured = errors.New("renderer: not configured")

// SubmitRequest carries one card render job to the external API.
type SubmitRequest struct {
	CardID   string          `json:"reference"`    // Our card id, echoed back for correlation.
	CardType string          `json:"card_type"`    // Card template category.
	Params   json.RawMessage `json:"params"`       // Render parameters, passed through.
	Priority bool            `json:"priority"`     // Feature toggle, does not reorder work.
	Callback string          `json:"callback_url"` // Webhook URL for completion notices.
}

// submitResponse mirrors the render API's acknowledgement envelope.
type submitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// Client submits render jobs to the external rendering API. Completion arrives
// later over the webhook, never on this call.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	httpClient  *http.Client
}

// NewClient constructs a Client from renderer config.
func NewClient(cfg config.RendererConfig) *Client {
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether the client can reach a render API.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Submit sends one render job and returns the external task id the renderer
// assigned to it.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	req.Callback = c.callbackURL
	payload, errMarshal := json.Marshal(req)
	if errMarshal != nil {
		return "", fmt.Errorf("renderer: marshal request: %w", errMarshal)
	}

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(payload))
	if errReq != nil {
		return "", fmt.Errorf("renderer: build request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, errDo := c.httpClient.Do(httpReq)
	if errDo != nil {
		return "", fmt.Errorf("renderer: submit: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return "", fmt.Errorf("renderer: read response: %w", errRead)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("renderer: submit returned status %d", resp.StatusCode)
	}

	var ack submitResponse
	if errUnmarshal := json.Unmarshal(body, &ack); errUnmarshal != nil {
		return "", fmt.Errorf("renderer: decode response: %w", errUnmarshal)
	}
	if ack.Code != 200 || strings.TrimSpace(ack.Data.TaskID) == "" {
		return "", fmt.Errorf("renderer: submit rejected with code %d: %s", ack.Code, ack.Msg)
	}

	log.WithFields(log.Fields{
		"card_id":          req.CardID,
		"external_task_id": ack.Data.TaskID,
		"elapsed":          time.Since(started),
	}).Debug("renderer: job submitted")
	return strings.TrimSpace(ack.Data.TaskID), nil
}
