package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"sceneplus/internal/capture"
	"sceneplus/internal/config"
	"sceneplus/internal/logging"
	"sceneplus/internal/merge"
)

// HTTPDoer describes the HTTP client used to reach Home Assistant.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("home assistant %s %s returned %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("home assistant %s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the Home Assistant REST API. It implements
// capture.StateProvider, capture.Resolver and capture.Reloader.
type Client struct {
	baseURL string
	token   string
	client  HTTPDoer
	logger  *slog.Logger
}

var (
	_ capture.StateProvider = (*Client)(nil)
	_ capture.Resolver      = (*Client)(nil)
	_ capture.Reloader      = (*Client)(nil)
)

// NewClient constructs a client for baseURL authenticated with a long-lived
// access token.
func NewClient(baseURL, token string, client HTTPDoer, logger *slog.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
		logger:  logging.NewComponentLogger(logger, "homeassistant"),
	}
}

// NewFromConfig builds a client from the [home_assistant] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, &http.Client{Timeout: cfg.HomeAssistantTimeout()}, logger)
}

// Configured reports whether a URL and token are present.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// Ping checks that the API answers and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SnapshotAll captures every entity state in one request.
func (c *Client) SnapshotAll(ctx context.Context) (merge.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	states, err := capture.DecodeStates(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, c.logger).Debug("captured entity states", logging.Int("entities", len(states)))
	return capture.SnapshotFromStates(states), nil
}

// Resolve returns the scene record id behind a scene entity, taken from its
// id attribute.
func (c *Client) Resolve(ctx context.Context, entityID string) (string, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return "", capture.ErrNotFound
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return "", fmt.Errorf("%s: %w", entityID, capture.ErrNotFound)
		}
		return "", err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var state capture.State
	if err := dec.Decode(&state); err != nil {
		return "", fmt.Errorf("decode state of %s: %w", entityID, err)
	}
	switch id := state.Attributes["id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		return id.String(), nil
	}
	return "", fmt.Errorf("%s has no scene id attribute: %w", entityID, capture.ErrNotFound)
}

// ReloadScenes calls the scene.reload service.
func (c *Client) ReloadScenes(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/services/scene/reload", []byte("{}"))
	if err != nil {
		return err
	}
	resp.Body.Close()
	logging.WithContext(ctx, c.logger).Info("requested scene reload",
		logging.String(logging.FieldEventType, "scene_reload_requested"),
	)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	if !c.Configured() {
		return nil, errors.New("home assistant url and token are not configured")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build home assistant request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
