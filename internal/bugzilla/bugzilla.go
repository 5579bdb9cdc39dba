// Package bugzilla is a narrow client for BMO's REST API, used to push
// landed-revision metadata back onto a bug after a successful landing.
package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DefaultURL is BMO's production REST endpoint.
const DefaultURL = "https://bugzilla.mozilla.org"

// Client is a thin wrapper around BMO's REST API, authenticated with an
// API key rather than a username/password pair.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{}}
}

// UpdateBug PUTs the given fields onto a bug, satisfying uplift.BugTracker.
// Mirrors bmo.update_bug's PUT /rest/bug/<id> call.
func (c *Client) UpdateBug(ctx context.Context, bugID int, fields map[string]string) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling bug update fields: %w", err)
	}

	url := fmt.Sprintf("%s/rest/bug/%d", c.baseURL, bugID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building bug update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bugzilla-API-Key", c.apiKey)
	req.Header.Set("User-Agent", "landingd")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("updating bug %d: %w", bugID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("bugzilla returned status %d updating bug %d", resp.StatusCode, bugID)
	}
	return nil
}
