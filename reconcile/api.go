package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xiaoyuanzhu-com/sync-alarm/models"
)

var (
	// ErrTransport means the server could not be reached or failed on its
	// side. The mutation is queued and replayed on reconnect.
	ErrTransport = errors.New("transport failure")

	// ErrNotFound means the server does not know the alarm id
	ErrNotFound = errors.New("alarm not found")

	// ErrRejected means the server refused the request as invalid
	ErrRejected = errors.New("request rejected")

	// ErrBadResponse means the server accepted the request but its answer
	// could not be read. The change may have been committed.
	ErrBadResponse = errors.New("unreadable response")
)

// API is the HTTP surface the engine talks to
type API interface {
	ListAlarms(ctx context.Context) ([]models.Alarm, error)
	CreateAlarm(ctx context.Context, title, clock string) (models.Alarm, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) (models.Alarm, error)
	DeleteAlarm(ctx context.Context, id int64) error
	SnoozeAlarm(ctx context.Context, id int64) (models.Alarm, error)
}

// HTTPAPI calls the sync-alarm REST endpoints
type HTTPAPI struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAPI creates a client for the server at baseURL (e.g. "http://host:3000")
func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// errorEnvelope mirrors the server's error body
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *HTTPAPI) ListAlarms(ctx context.Context) ([]models.Alarm, error) {
	var alarms []models.Alarm
	if err := h.do(ctx, http.MethodGet, "/api/alarms", nil, &alarms); err != nil {
		return nil, err
	}
	if alarms == nil {
		alarms = []models.Alarm{}
	}
	return alarms, nil
}

func (h *HTTPAPI) CreateAlarm(ctx context.Context, title, clock string) (models.Alarm, error) {
	var alarm models.Alarm
	body := map[string]string{"title": title, "time": clock}
	err := h.do(ctx, http.MethodPost, "/api/alarms", body, &alarm)
	return alarm, err
}

func (h *HTTPAPI) SetEnabled(ctx context.Context, id int64, enabled bool) (models.Alarm, error) {
	var alarm models.Alarm
	body := map[string]bool{"enabled": enabled}
	err := h.do(ctx, http.MethodPatch, fmt.Sprintf("/api/alarms/%d", id), body, &alarm)
	return alarm, err
}

func (h *HTTPAPI) DeleteAlarm(ctx context.Context, id int64) error {
	return h.do(ctx, http.MethodDelete, fmt.Sprintf("/api/alarms/%d", id), nil, nil)
}

func (h *HTTPAPI) SnoozeAlarm(ctx context.Context, id int64) (models.Alarm, error) {
	var alarm models.Alarm
	err := h.do(ctx, http.MethodPost, fmt.Sprintf("/api/alarms/%d/snooze", id), nil, &alarm)
	return alarm, err
}

// do sends one request and decodes the {"data": ...} envelope into out
func (h *HTTPAPI) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}

	if resp.StatusCode >= 300 {
		var env errorEnvelope
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, msg)
		default:
			return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBadResponse, method, path, err)
	}
	return nil
}

// pushURL turns the server's base URL into the websocket endpoint
func pushURL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// Presence fetches the server's current presence snapshot
func (h *HTTPAPI) Presence(ctx context.Context) (Presence, error) {
	var p Presence
	err := h.do(ctx, http.MethodGet, "/api/presence", nil, &p)
	return p, err
}
