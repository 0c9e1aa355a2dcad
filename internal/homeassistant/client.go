// Package homeassistant provides clients for the Home Assistant API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/herald-home/herald/internal/httpkit"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	watcher    readyChecker // set via SetWatcher for health status
}

// readyChecker is satisfied by connwatch.Watcher. Defined here to avoid
// importing connwatch directly, keeping the dependency one-directional.
type readyChecker interface {
	IsReady() bool
}

// SetWatcher sets the connection watcher for health status queries.
func (c *Client) SetWatcher(w readyChecker) {
	c.watcher = w
}

// IsReady reports whether Home Assistant is currently reachable.
// Returns true if no watcher is configured.
func (c *Client) IsReady() bool {
	if c.watcher == nil {
		return true
	}
	return c.watcher.IsReady()
}

// NewClient creates a new Home Assistant client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetState retrieves a single entity state.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+entityID, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.post(ctx, path, data, nil)
}

// serviceResponse is the envelope returned when a service is called
// with ?return_response.
type serviceResponse struct {
	ServiceResponse json.RawMessage `json:"service_response"`
}

// CallServiceResponse calls a service with return_response and returns
// the raw service response payload.
func (c *Client) CallServiceResponse(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/services/%s/%s?return_response", url.PathEscape(domain), url.PathEscape(service))
	var resp serviceResponse
	if err := c.post(ctx, path, data, &resp); err != nil {
		return nil, err
	}
	return resp.ServiceResponse, nil
}

// conversationResult mirrors the conversation.process response shape:
// {"response": {"speech": {"plain": {"speech": "..."}}}}.
type conversationResult struct {
	Response struct {
		Speech struct {
			Plain struct {
				Speech string `json:"speech"`
			} `json:"plain"`
		} `json:"speech"`
	} `json:"response"`
}

// Converse sends text to a conversation agent and returns the plain
// speech reply. An empty reply is an error so that callers can fall
// back to the original text.
func (c *Client) Converse(ctx context.Context, agentID, text string) (string, error) {
	raw, err := c.CallServiceResponse(ctx, "conversation", "process", map[string]any{
		"agent_id": agentID,
		"text":     text,
	})
	if err != nil {
		return "", fmt.Errorf("conversation.process: %w", err)
	}

	var result conversationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode conversation response: %w", err)
	}

	reply := result.Response.Speech.Plain.Speech
	if reply == "" {
		return "", fmt.Errorf("conversation agent %s returned empty speech", agentID)
	}
	return reply, nil
}

// PlayerState is the media-player state captured before ducking so the
// restore step can return the player to where it was.
type PlayerState struct {
	EntityID    string
	State       string
	VolumeLevel float64
	HasVolume   bool
}

// PlayerState fetches the current playback state and volume of a media
// player. Players that do not expose volume_level report HasVolume false.
func (c *Client) PlayerState(ctx context.Context, entityID string) (*PlayerState, error) {
	state, err := c.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}

	ps := &PlayerState{
		EntityID: entityID,
		State:    state.State,
	}
	if v, ok := state.Attributes["volume_level"].(float64); ok {
		ps.VolumeLevel = v
		ps.HasVolume = true
	}
	return ps, nil
}

// SetVolume sets a media player's volume level (0.0–1.0).
func (c *Client) SetVolume(ctx context.Context, entityID string, level float64) error {
	return c.CallService(ctx, "media_player", "volume_set", map[string]any{
		"entity_id":    entityID,
		"volume_level": level,
	})
}

// PlayMedia plays a media URL on a player. With announce set, players
// that support it pause current playback and resume afterwards.
func (c *Client) PlayMedia(ctx context.Context, entityID, mediaURL string, announce bool) error {
	return c.CallService(ctx, "media_player", "play_media", map[string]any{
		"entity_id":          entityID,
		"media_content_id":   mediaURL,
		"media_content_type": "music",
		"announce":           announce,
	})
}

// Speak invokes a TTS engine entity against a media player. Voice and
// language are optional; empty values are omitted from the call.
func (c *Client) Speak(ctx context.Context, engine, mediaPlayer, message, language, voice string) error {
	data := map[string]any{
		"entity_id":              engine,
		"media_player_entity_id": mediaPlayer,
		"message":                message,
		"cache":                  true,
	}
	if language != "" {
		data["language"] = language
	}
	if voice != "" {
		data["options"] = map[string]any{"voice": voice}
	}
	return c.CallService(ctx, "tts", "speak", data)
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request to the HA API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
