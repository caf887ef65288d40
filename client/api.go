package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// User is an account as returned by the REST API.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	AvatarURL string     `json:"avatar_url"`
	CreatedAt time.Time  `json:"created_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// API is a client for the server's REST endpoints. The session cookie from
// login or signup is held in a jar and sent on subsequent requests.
type API struct {
	baseURL *url.URL
	http    *http.Client
}

// NewAPI creates an API client for the given base URL, e.g.
// "http://localhost:8080".
func NewAPI(baseURL string) (*API, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parsing base URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("client: creating cookie jar: %w", err)
	}
	return &API{
		baseURL: u,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Token returns the current session JWT, or an empty string if not logged
// in. Pass it to Dial to authenticate the WebSocket connection.
func (a *API) Token() string {
	for _, c := range a.http.Jar.Cookies(a.baseURL) {
		if c.Name == "jwt" {
			return c.Value
		}
	}
	return ""
}

// Signup registers a new account and starts a session.
func (a *API) Signup(ctx context.Context, email, fullName, password string) (*User, error) {
	var u User
	err := a.do(ctx, "POST", "/api/auth/signup", map[string]string{
		"email":     email,
		"full_name": fullName,
		"password":  password,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login authenticates and starts a session.
func (a *API) Login(ctx context.Context, email, password string) (*User, error) {
	var u User
	err := a.do(ctx, "POST", "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout ends the session.
func (a *API) Logout(ctx context.Context) error {
	return a.do(ctx, "POST", "/api/auth/logout", nil, nil)
}

// Check returns the account for the current session.
func (a *API) Check(ctx context.Context) (*User, error) {
	var u User
	if err := a.do(ctx, "GET", "/api/auth/check", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Users lists every other account for the sidebar.
func (a *API) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := a.do(ctx, "GET", "/api/messages/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Messages fetches the full conversation history with the given peer, oldest
// first.
func (a *API) Messages(ctx context.Context, peerID string) ([]Message, error) {
	var msgs []Message
	if err := a.do(ctx, "GET", "/api/messages/"+peerID, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send sends a message to the given peer. Either text or imageDataURL may be
// empty, but not both. The persisted message, with its server-assigned ID
// and timestamp, is returned.
func (a *API) Send(ctx context.Context, peerID, text, imageDataURL string) (*Message, error) {
	var m Message
	err := a.do(ctx, "POST", "/api/messages/send/"+peerID, map[string]string{
		"text":  text,
		"image": imageDataURL,
	}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decoding response: %w", err)
		}
	}
	return nil
}
