package remote

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

	"golang.org/x/oauth2"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

// Client is a Store backed by the document server HTTP API.
type Client struct {
	baseURL    string
	collection string
	token      string
	httpClient *http.Client
}

// NewClient creates an anonymous client for collection on the server at baseURL.
func NewClient(baseURL, collection string) *Client {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{},
	}
}

// WithToken returns a copy of c that sends token as a bearer credential on
// every request.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	if token == "" {
		cp.httpClient = &http.Client{}
		return &cp
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	cp.httpClient = oauth2.NewClient(context.Background(), ts)
	return &cp
}

// Store returns a client authenticated as id.
func (c *Client) Store(id Identity) Store {
	return c.WithToken(id.Token)
}

// authResponse is the body returned by the register and login endpoints.
type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for an Identity.
func (c *Client) Login(ctx context.Context, email, password string) (Identity, error) {
	return c.authenticate(ctx, "login", email, password)
}

// Register creates an account and returns its Identity.
func (c *Client) Register(ctx context.Context, email, password string) (Identity, error) {
	return c.authenticate(ctx, "register", email, password)
}

func (c *Client) authenticate(ctx context.Context, action, email, password string) (Identity, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/"+action, credentials{Email: email, Password: password}, &resp)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrAuth):
		return Identity{}, err
	default:
		// Validation and conflict responses are credential problems too.
		return Identity{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return Identity{UserID: resp.User.ID, Email: resp.User.Email, Token: resp.Token}, nil
}

func (c *Client) documentsPath() string {
	return "/api/v1/collections/" + url.PathEscape(c.collection) + "/documents"
}

// Add creates a document and returns its id.
func (c *Client) Add(ctx context.Context, entry model.WorkEntry) (string, error) {
	var doc model.WorkEntry
	if err := c.do(ctx, http.MethodPost, c.documentsPath(), documentBody(entry), &doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// List returns every document in the collection.
func (c *Client) List(ctx context.Context) ([]model.WorkEntry, error) {
	var docs []model.WorkEntry
	if err := c.do(ctx, http.MethodGet, c.documentsPath(), nil, &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.WorkEntry{}
	}
	return docs, nil
}

// Update overwrites the fields of document id.
func (c *Client) Update(ctx context.Context, id string, entry model.WorkEntry) error {
	return c.do(ctx, http.MethodPatch, c.documentsPath()+"/"+url.PathEscape(id), documentBody(entry), nil)
}

// Delete removes document id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.documentsPath()+"/"+url.PathEscape(id), nil, nil)
}

// documentBody drops the fields the server owns.
func documentBody(entry model.WorkEntry) map[string]any {
	return map[string]any{
		"date":            entry.Date,
		"startTime":       entry.StartTime,
		"endTime":         entry.EndTime,
		"hours":           entry.Hours,
		"hourlyRate":      entry.HourlyRate,
		"totalEarnings":   entry.TotalEarnings,
		"withdrawnAmount": entry.WithdrawnAmount,
		"remainingAmount": entry.RemainingAmount,
		"notes":           entry.Notes,
	}
}

// errorResponse is the JSON error body written by the server.
type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case code >= 500:
		return fmt.Errorf("%w: server error %d: %s", ErrUnavailable, code, msg)
	default:
		return fmt.Errorf("request rejected (%d): %s", code, msg)
	}
}
