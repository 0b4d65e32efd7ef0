// Package profile calls the external user-profile service. The arena only
// resolves ids; this client fetches the display data behind them.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// User is the subset of profile data the arena hands back to clients.
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DisplayPicture string `json:"displayPicture"`
}

type userInfoResponse struct {
	User User `json:"user"`
}

type Client struct {
	baseURL        string
	http           *fasthttp.Client
	defaultTimeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserInfo fetches GET /api/user/info/{id} and returns name and picture.
// Implements the arena's ProfileSource port.
func (c *Client) UserInfo(ctx context.Context, id string) (string, string, error) {
	u, err := c.fetch(ctx, id)
	if err != nil {
		return "", "", err
	}
	return u.Name, u.DisplayPicture, nil
}

func (c *Client) fetch(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("empty user id")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/api/user/info/" + url.PathEscape(id))
	req.Header.SetContentType("application/json")

	deadline := time.Now().Add(c.defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("profile api error: status=%d", status)
	}
	var out userInfoResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode profile response: %w", err)
	}
	return &out.User, nil
}
