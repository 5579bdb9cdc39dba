// Package review is a narrow client for the external code-review service
// (Phabricator's Conduit API in the original), exposing only the revision,
// diff, and repository data the Stack Resolver and Assessment Engine need.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mozilla-lando/landingd/internal/stack"
)

// Revision is the subset of Conduit's differential.revision.search payload
// this service consumes.
type Revision struct {
	ID                int
	PHID              string
	RepositoryPHID    string
	DiffPHID          string
	DiffID            int
	AuthorPHID        string
	Title             string
	BugID             int
	Accepted          bool
	BlockingReviewers []string
	SecureRevision    bool
	Closed            bool
}

// Diff is the subset of differential.querydiffs this service consumes.
type Diff struct {
	ID            int
	PHID          string
	RevisionID    int
	AuthorName    string
	AuthorEmail   string
	CommitMessage string
	RawDiff       string
	Warnings      []string
}

// Repository is the subset of diffusion.repository.search this service
// consumes.
type Repository struct {
	PHID               string
	ShortName          string
	URL                string
	NextSoftFreezeDate *time.Time
	NextMergeDate      *time.Time
}

// Service is the narrow collaborator contract consumed by internal/api
// and this package's PatchSource — deliberately small so test fakes can stand in for
// the real Conduit HTTP client.
type Service interface {
	GetRevision(ctx context.Context, id int) (*Revision, error)
	GetDiff(ctx context.Context, id int) (*Diff, error)
	GetRepository(ctx context.Context, phid string) (*Repository, error)
	GetStackGraph(ctx context.Context, seedRevisionID int) (*stack.Graph, error)
}

// Client is the real Conduit-backed implementation of Service.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// NewClient builds a Client against a Conduit-compatible API base URL.
func NewClient(apiURL, apiKey string) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/") + "/api",
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError reports a Conduit-style error_code/error_info response.
type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("review service: %s: %s", e.Code, e.Info)
}

type conduitEnvelope struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode *string         `json:"error_code"`
	ErrorInfo *string         `json:"error_info"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api.token", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building review service request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling review service %s: %w", method, err)
	}
	defer resp.Body.Close()

	var env conduitEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding review service response for %s: %w", method, err)
	}
	if env.ErrorCode != nil {
		info := ""
		if env.ErrorInfo != nil {
			info = *env.ErrorInfo
		}
		return nil, &APIError{Code: *env.ErrorCode, Info: info}
	}
	return env.Result, nil
}

type revisionWire struct {
	Data []struct {
		ID     int    `json:"id"`
		PHID   string `json:"phid"`
		Fields struct {
			Title          string `json:"title"`
			BugzillaBugID  *int   `json:"bugzilla.bug-id"`
			RepositoryPHID string `json:"repositoryPHID"`
			DiffPHID       string `json:"diffPHID"`
			Status         struct {
				Value string `json:"value"`
			} `json:"status"`
		} `json:"fields"`
		Attachments struct {
			Reviewers struct {
				Reviewers []struct {
					ReviewerPHID string `json:"reviewerPHID"`
					Status       string `json:"status"`
					IsBlocking   bool   `json:"isBlocking"`
				} `json:"reviewers"`
			} `json:"reviewers"`
		} `json:"attachments"`
	} `json:"data"`
}

// GetRevision fetches a revision by its integer id.
func (c *Client) GetRevision(ctx context.Context, id int) (*Revision, error) {
	params := url.Values{}
	params.Set("constraints[ids][0]", strconv.Itoa(id))
	params.Set("attachments[reviewers]", "1")

	raw, err := c.call(ctx, "differential.revision.search", params)
	if err != nil {
		return nil, fmt.Errorf("getting revision %d: %w", id, err)
	}

	var wire revisionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parsing revision %d: %w", id, err)
	}
	if len(wire.Data) == 0 {
		return nil, fmt.Errorf("revision %d not found", id)
	}

	d := wire.Data[0]
	rev := &Revision{
		ID:             d.ID,
		PHID:           d.PHID,
		Title:          d.Fields.Title,
		RepositoryPHID: d.Fields.RepositoryPHID,
		DiffPHID:       d.Fields.DiffPHID,
		Accepted:       d.Fields.Status.Value == "accepted",
		Closed:         d.Fields.Status.Value == "published" || d.Fields.Status.Value == "abandoned",
	}
	if d.Fields.BugzillaBugID != nil {
		rev.BugID = *d.Fields.BugzillaBugID
	}
	for _, r := range d.Attachments.Reviewers.Reviewers {
		if r.IsBlocking && r.Status != "accepted" {
			rev.BlockingReviewers = append(rev.BlockingReviewers, r.ReviewerPHID)
		}
	}
	return rev, nil
}

type diffWire struct {
	ID            int    `json:"id"`
	PHID          string `json:"phid"`
	RevisionID    int    `json:"revisionID"`
	AuthorName    string `json:"authorName"`
	AuthorEmail   string `json:"authorEmail"`
	CommitMessage string `json:"commitMessage"`
}

// GetDiff fetches a diff's metadata and raw contents by integer id.
func (c *Client) GetDiff(ctx context.Context, id int) (*Diff, error) {
	params := url.Values{}
	params.Set("ids[0]", strconv.Itoa(id))

	raw, err := c.call(ctx, "differential.querydiffs", params)
	if err != nil {
		return nil, fmt.Errorf("getting diff %d: %w", id, err)
	}

	var wires map[string]diffWire
	if err := json.Unmarshal(raw, &wires); err != nil {
		return nil, fmt.Errorf("parsing diff %d: %w", id, err)
	}
	wire, ok := wires[strconv.Itoa(id)]
	if !ok {
		return nil, fmt.Errorf("diff %d not found", id)
	}

	rawDiffParams := url.Values{}
	rawDiffParams.Set("diffID", strconv.Itoa(id))
	rawDiff, err := c.call(ctx, "differential.getrawdiff", rawDiffParams)
	if err != nil {
		return nil, fmt.Errorf("getting raw diff %d: %w", id, err)
	}
	var rawDiffStr string
	if err := json.Unmarshal(rawDiff, &rawDiffStr); err != nil {
		return nil, fmt.Errorf("parsing raw diff %d: %w", id, err)
	}

	return &Diff{
		ID:            wire.ID,
		PHID:          wire.PHID,
		RevisionID:    wire.RevisionID,
		AuthorName:    wire.AuthorName,
		AuthorEmail:   wire.AuthorEmail,
		CommitMessage: wire.CommitMessage,
		RawDiff:       rawDiffStr,
	}, nil
}

type repositoryWire struct {
	Data []struct {
		PHID   string `json:"phid"`
		Fields struct {
			ShortName string `json:"shortName"`
			URL       string `json:"callsignWrapped"`
		} `json:"fields"`
	} `json:"data"`
}

// GetRepository fetches a repository's metadata by PHID.
func (c *Client) GetRepository(ctx context.Context, phid string) (*Repository, error) {
	params := url.Values{}
	params.Set("constraints[phids][0]", phid)

	raw, err := c.call(ctx, "diffusion.repository.search", params)
	if err != nil {
		return nil, fmt.Errorf("getting repository %s: %w", phid, err)
	}

	var wire repositoryWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parsing repository %s: %w", phid, err)
	}
	if len(wire.Data) == 0 {
		return nil, fmt.Errorf("repository %s not found", phid)
	}

	d := wire.Data[0]
	return &Repository{
		PHID:      d.PHID,
		ShortName: d.Fields.ShortName,
		URL:       d.Fields.URL,
	}, nil
}

type edgeWire struct {
	Data []struct {
		SourcePHID      string `json:"sourcePHID"`
		DestinationPHID string `json:"destinationPHID"`
		EdgeType        string `json:"edgeType"`
	} `json:"data"`
}

// stackEdges walks revision.parent/revision.child edges outward from the
// given PHID frontier until no new revisions are discovered, the same
// repeated-closure approach build_stack_graph uses against edge.search.
// Returns every PHID visited and every (child, parent) edge found.
func (c *Client) stackEdges(ctx context.Context, seedPHID string) (map[string]bool, [][2]string, error) {
	phids := map[string]bool{seedPHID: true}
	var parentEdges [][2]string
	frontier := []string{seedPHID}

	for len(frontier) > 0 {
		params := url.Values{}
		params.Set("types[0]", "revision.parent")
		params.Set("types[1]", "revision.child")
		for i, phid := range frontier {
			params.Set(fmt.Sprintf("sourcePHIDs[%d]", i), phid)
		}

		raw, err := c.call(ctx, "edge.search", params)
		if err != nil {
			return nil, nil, fmt.Errorf("searching stack edges: %w", err)
		}
		var wire edgeWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, nil, fmt.Errorf("parsing stack edges: %w", err)
		}

		next := map[string]bool{}
		for _, e := range wire.Data {
			if !phids[e.SourcePHID] {
				next[e.SourcePHID] = true
			}
			if !phids[e.DestinationPHID] {
				next[e.DestinationPHID] = true
			}
			if e.EdgeType == "revision.parent" {
				parentEdges = append(parentEdges, [2]string{e.SourcePHID, e.DestinationPHID})
			}
		}

		frontier = frontier[:0]
		for phid := range next {
			phids[phid] = true
			frontier = append(frontier, phid)
		}
	}

	return phids, parentEdges, nil
}

// getRevisionsByPHIDs batch-fetches revision metadata for a set of PHIDs
// in a single differential.revision.search call.
func (c *Client) getRevisionsByPHIDs(ctx context.Context, phids []string) (map[string]*Revision, error) {
	params := url.Values{}
	for i, phid := range phids {
		params.Set(fmt.Sprintf("constraints[phids][%d]", i), phid)
	}

	raw, err := c.call(ctx, "differential.revision.search", params)
	if err != nil {
		return nil, fmt.Errorf("batch-fetching revisions: %w", err)
	}
	var wire revisionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parsing batch revisions: %w", err)
	}

	out := make(map[string]*Revision, len(wire.Data))
	for _, d := range wire.Data {
		rev := &Revision{
			ID:             d.ID,
			PHID:           d.PHID,
			Title:          d.Fields.Title,
			RepositoryPHID: d.Fields.RepositoryPHID,
			DiffPHID:       d.Fields.DiffPHID,
			Accepted:       d.Fields.Status.Value == "accepted",
			Closed:         d.Fields.Status.Value == "published" || d.Fields.Status.Value == "abandoned",
		}
		if d.Fields.BugzillaBugID != nil {
			rev.BugID = *d.Fields.BugzillaBugID
		}
		out[d.PHID] = rev
	}
	return out, nil
}

// GetStackGraph walks the revision dependency graph from seedRevisionID
// via Conduit's edge.search (the same revision.parent/revision.child
// closure build_stack_graph computes), then batch-fetches every
// discovered revision's status and repository so the result can be fed
// straight into internal/stack.CalculateLandableSubgraphs. Node and edge
// identities use the revision's integer id (stringified), matching the
// id the rest of this package's callers key revisions by.
func (c *Client) GetStackGraph(ctx context.Context, seedRevisionID int) (*stack.Graph, error) {
	seed, err := c.GetRevision(ctx, seedRevisionID)
	if err != nil {
		return nil, fmt.Errorf("fetching seed revision %d: %w", seedRevisionID, err)
	}

	phids, parentEdges, err := c.stackEdges(ctx, seed.PHID)
	if err != nil {
		return nil, err
	}

	phidList := make([]string, 0, len(phids))
	for phid := range phids {
		phidList = append(phidList, phid)
	}
	revsByPHID, err := c.getRevisionsByPHIDs(ctx, phidList)
	if err != nil {
		return nil, err
	}
	revsByPHID[seed.PHID] = seed

	// stack.Revision.RepositoryID is keyed by the repository's short name,
	// not its PHID, so it lines up with how internal/api's RepositoryLookup
	// and internal/config identify repositories everywhere else.
	shortNames := map[string]string{}
	nodes := make(map[stack.RevisionID]*stack.Revision, len(revsByPHID))
	for _, rev := range revsByPHID {
		shortName, ok := shortNames[rev.RepositoryPHID]
		if !ok && rev.RepositoryPHID != "" {
			if repo, err := c.GetRepository(ctx, rev.RepositoryPHID); err == nil {
				shortName = repo.ShortName
			}
			shortNames[rev.RepositoryPHID] = shortName
		}
		id := stack.RevisionID(strconv.Itoa(rev.ID))
		nodes[id] = &stack.Revision{
			ID:           id,
			RepositoryID: shortName,
			Status:       stack.Status{Closed: rev.Closed},
		}
	}

	edges := make([]stack.Edge, 0, len(parentEdges))
	for _, e := range parentEdges {
		child, childOK := revsByPHID[e[0]]
		parent, parentOK := revsByPHID[e[1]]
		if !childOK || !parentOK {
			continue
		}
		edges = append(edges, stack.Edge{
			Child:  stack.RevisionID(strconv.Itoa(child.ID)),
			Parent: stack.RevisionID(strconv.Itoa(parent.ID)),
		})
	}

	return stack.BuildGraph(nodes, edges), nil
}

// TriggerRepoUpdate asks the review service to refresh its view of a
// repository after a push, the Conduit diffusion.looksoon call the
// original's phab_trigger_repo_update Celery task fires. Satisfies
// worker.RepoUpdateNotifier.
func (c *Client) TriggerRepoUpdate(ctx context.Context, phabIdentifier string) error {
	params := url.Values{}
	params.Set("callsigns[0]", phabIdentifier)

	if _, err := c.call(ctx, "diffusion.looksoon", params); err != nil {
		return fmt.Errorf("triggering repo update for %s: %w", phabIdentifier, err)
	}
	return nil
}
