// API client for the ride server
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/shared"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "http://127.0.0.1:8000"

// RideService talks to the ride server's HTTP API.
type RideService struct {
	baseURL    string
	httpClient *http.Client
}

// NewRideService creates a client for the ride server at baseURL.
func NewRideService(baseURL string, client *http.Client) *RideService {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &RideService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// NewHTTPClient returns a client that sends token as a bearer credential, or [http.DefaultClient] when token is empty.
func NewHTTPClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return http.DefaultClient
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// BaseURL returns the server root the client talks to.
func (a *RideService) BaseURL() string { return a.baseURL }

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// errorBody is the server's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

// Detail returns the server supplied error message, if any.
func (r *APIResponse) Detail() string {
	var e errorBody
	if err := json.Unmarshal(r.Body, &e); err != nil {
		return ""
	}
	return e.Detail
}

// OK reports a 2xx status.
func (r *APIResponse) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Config fetches the public client configuration.
func (a *RideService) Config(ctx context.Context) (models.RemoteConfig, error) {
	var cfg models.RemoteConfig
	resp, err := a.Get(ctx, "/api/config")
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", shared.ErrConfigLoad, err)
	}
	if !resp.OK() {
		return cfg, fmt.Errorf("%w: status %d", shared.ErrConfigLoad, resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", shared.ErrConfigLoad, err)
	}
	return cfg, nil
}

// Login creates or joins a ride. A rejection wraps [shared.ErrAuth] with the server's detail.
func (a *RideService) Login(ctx context.Context, username string, action models.Action, rideID string) (models.Session, error) {
	var session models.Session

	form := url.Values{"username": {username}, "action": {string(action)}}
	if rideID != "" {
		form.Set("ride_id", rideID)
	}

	resp, err := a.PostForm(ctx, "/api/login", form)
	if err != nil {
		return session, fmt.Errorf("%w: %v", shared.ErrAuth, err)
	}
	if !resp.OK() {
		detail := resp.Detail()
		if detail == "" {
			detail = "login failed"
		}
		return session, fmt.Errorf("%w: %s", shared.ErrAuth, detail)
	}

	if err := json.Unmarshal(resp.Body, &session); err != nil {
		return session, fmt.Errorf("%w: invalid login response: %v", shared.ErrAuth, err)
	}
	if session.SessionID == "" || session.RideID == "" {
		return session, fmt.Errorf("%w: login response is missing the session", shared.ErrAuth)
	}
	if session.Username == "" {
		session.Username = username
	}
	return session, nil
}

// Logout ends a session on the server.
func (a *RideService) Logout(ctx context.Context, sessionID string) error {
	resp, err := a.PostForm(ctx, "/api/logout", url.Values{"session_id": {sessionID}})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: logout status %d", shared.ErrAPIRequest, resp.StatusCode)
	}
	return nil
}

// RideUsers lists the riders of one ride.
func (a *RideService) RideUsers(ctx context.Context, rideID string) ([]models.Rider, error) {
	return a.users(ctx, "/api/ride/"+url.PathEscape(rideID)+"/users", rideID)
}

// AllUsers lists the riders of every live ride, grouped by ride.
func (a *RideService) AllUsers(ctx context.Context) ([]models.Rider, error) {
	return a.users(ctx, "/api/users", "")
}

func (a *RideService) users(ctx context.Context, path, rideID string) ([]models.Rider, error) {
	resp, err := a.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", shared.ErrRideNotFound, rideID)
	case !resp.OK():
		return nil, fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var body struct {
		Users []models.Rider `json:"users"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return body.Users, nil
}

// WebSocketURL maps the base URL onto the realtime endpoint for sessionID.
func (a *RideService) WebSocketURL(sessionID string) string {
	base := a.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + url.PathEscape(sessionID)
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *RideService) Get(ctx context.Context, path string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return a.do(req)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *RideService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

// PostForm performs a form-encoded POST request.
func (a *RideService) PostForm(ctx context.Context, path string, form url.Values) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func (a *RideService) do(req *http.Request) (*APIResponse, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}

	var jsonData any
	if err := json.Unmarshal(body, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, nil
}
