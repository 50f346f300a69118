package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/astromechza/boardsync/pkg/protocol"
)

// UserHeader identifies the calling user to the board server.
const UserHeader = "X-Boardsync-User"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Transport sends requests. The dispatcher only depends on this.
type Transport interface {
	Do(ctx context.Context, req Request) error
}

type Client struct {
	baseUrl *url.URL
	http    *http.Client
	user    string
}

var _ Transport = (*Client)(nil)

func NewClient(baseUrl *url.URL, user string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseUrl: baseUrl, http: httpClient, user: user}
}

func (c *Client) Do(ctx context.Context, req Request) error {
	return c.do(ctx, req, nil)
}

// Join asks to be admitted to a board.
func (c *Client) Join(ctx context.Context, boardID, passphrase string) (protocol.JoinStatus, error) {
	var out protocol.JoinResponse
	req := Request{Method: http.MethodPost, Path: boardPath(boardID, "join"), Entity: boardID,
		Body: protocol.JoinRequestBody{Passphrase: passphrase}}
	if err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	u := c.baseUrl.JoinPath(req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(UserHeader, c.user)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: req.Method, Path: req.Path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
