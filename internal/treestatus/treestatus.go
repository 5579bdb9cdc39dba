// Package treestatus is a client for the Tree Status API, the worker's
// collaborator for deciding whether a repository accepts landings right
// now.
package treestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultURL matches TreeStatus.DEFAULT_URL in the original.
const DefaultURL = "https://treestatus.mozilla-releng.net"

// openStatuses mirrors TreeStatus.OPEN_STATUSES: a repo is open for
// landing under either status. "approval required" still lets landings
// through; the worker makes no approval check of its own, and a push the
// server rejects as needing approval is deferred
// (worktree.TreeApprovalRequired).
var openStatuses = map[string]bool{
	"approval required": true,
	"open":               true,
}

// Client talks to a Tree Status API instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client. An empty url falls back to DefaultURL.
func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(url, "/") + "/",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError reports a non-2xx response from the Tree Status API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tree status API error (%d): %s", e.StatusCode, e.Detail)
}

type treeResponse struct {
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// getTree fetches a single tree's status document.
func (c *Client) getTree(ctx context.Context, tree string) (*treeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"trees/"+tree, nil)
	if err != nil {
		return nil, fmt.Errorf("building tree status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("communicating with tree status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody errorResponse
		json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: errBody.Detail}
	}

	var out treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding tree status response: %w", err)
	}
	return &out, nil
}

// IsOpen reports whether repositoryName currently accepts landings.
// Unknown trees (400/404) are treated as open, matching the original's
// "we assume missing trees are open" fallback — a repository this
// service doesn't know about in Tree Status shouldn't block landings.
func (c *Client) IsOpen(ctx context.Context, repositoryName string) (bool, error) {
	if repositoryName == "" {
		return false, fmt.Errorf("tree status: repository name must not be empty")
	}

	resp, err := c.getTree(ctx, repositoryName)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && (apiErr.StatusCode == 400 || apiErr.StatusCode == 404) {
			return true, nil
		}
		return false, err
	}

	return openStatuses[resp.Result.Status], nil
}

func asAPIError(err error, target **APIError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*APIError); ok {
			*target = ae
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Ping checks connectivity to the Tree Status API: any HTTP response,
// whatever its status code, counts as reachable. The service's health
// check handler does not call it.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"swagger.json", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}
