package agencylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Agencyline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API mounted at baseURL + "/api".
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Question is a client-facing question on a work log. Response is a string
// for approval and text questions and a []string for multiple_choice.
type Question struct {
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Response any      `json:"response,omitempty"`
}

// WorkLog represents the API work log model (partial).
type WorkLog struct {
	ID              string     `json:"id"`
	WebsiteID       string     `json:"websiteId"`
	DeveloperID     string     `json:"developerId"`
	Type            string     `json:"type"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description"`
	DurationMinutes int        `json:"durationMinutes"`
	Tags            []string   `json:"tags"`
	Status          string     `json:"status,omitempty"`
	ClientResponse  *string    `json:"clientResponse,omitempty"`
	IsStarred       bool       `json:"isStarred"`
	Attachments     []string   `json:"attachments"`
	Questions       []Question `json:"questions"`
	CreatedAt       string     `json:"createdAt"`
	UpdatedAt       string     `json:"updatedAt"`
}

type NewWorkLog struct {
	WebsiteID       string     `json:"websiteId"`
	Type            string     `json:"type,omitempty"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description"`
	DurationMinutes int        `json:"durationMinutes,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Attachments     []string   `json:"attachments,omitempty"`
	Questions       []Question `json:"questions,omitempty"`
}

// WorkLogUpdate leaves nil fields untouched.
type WorkLogUpdate struct {
	Status         *string    `json:"status,omitempty"`
	ClientResponse *string    `json:"clientResponse,omitempty"`
	IsStarred      *bool      `json:"isStarred,omitempty"`
	Questions      []Question `json:"questions,omitempty"`
}

type FeedOptions struct {
	WebsiteID   string
	Type        string
	StarredOnly bool
	Page        int
	Limit       int
}

type FeedPage struct {
	Items   []WorkLog
	Page    int
	Limit   int
	HasMore bool
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
	ActorID    string `json:"actorId"`
	Payload    string `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"nextCursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// CreateWorkLog logs work against a website.
func (c *Client) CreateWorkLog(ctx context.Context, in NewWorkLog) (WorkLog, error) {
	var resp WorkLog
	_, err := c.do(ctx, http.MethodPost, "worklogs", in, &resp)
	return resp, err
}

// WorkLogs returns one page of the feed.
func (c *Client) WorkLogs(ctx context.Context, opts FeedOptions) (FeedPage, error) {
	q := url.Values{}
	if opts.WebsiteID != "" {
		q.Set("websiteId", opts.WebsiteID)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.StarredOnly {
		q.Set("isStarred", "true")
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "worklogs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var page FeedPage
	header, err := c.do(ctx, http.MethodGet, endpoint, nil, &page.Items)
	if err != nil {
		return page, err
	}
	page.HasMore = header.Get("X-Has-More") == "true"
	page.Page, _ = strconv.Atoi(header.Get("X-Page"))
	page.Limit, _ = strconv.Atoi(header.Get("X-Limit"))
	return page, nil
}

func (c *Client) WorkLog(ctx context.Context, id string) (WorkLog, error) {
	var resp WorkLog
	_, err := c.do(ctx, http.MethodGet, "worklogs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateWorkLog reviews, stars or answers a work log.
func (c *Client) UpdateWorkLog(ctx context.Context, id string, upd WorkLogUpdate) (WorkLog, error) {
	var resp WorkLog
	_, err := c.do(ctx, http.MethodPut, "worklogs/"+url.PathEscape(id), upd, &resp)
	return resp, err
}

func (c *Client) DeleteWorkLog(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "worklogs/"+url.PathEscape(id), nil, nil)
	return err
}

// Upload stores attachments and returns their references, in order.
// files maps file names to their content.
func (c *Client) Upload(ctx context.Context, names []string, files map[string][]byte) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := mw.CreateFormFile("attachments", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp struct {
		Files []string `json:"files"`
	}
	if _, err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) (http.Header, error) {
	var r io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
		r = &buf
	}
	req, err := c.newRequest(ctx, method, endpoint, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) (http.Header, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return resp.Header, apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, err
		}
	}
	return resp.Header, nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
