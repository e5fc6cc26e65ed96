package askdelphi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	// DefaultAPIServer is the content (editing) API host.
	DefaultAPIServer = "https://edit.api.askdelphi.com"
	// DefaultPortalServer hosts the portal-code exchange endpoint.
	DefaultPortalServer = "https://portal.askdelphi.com"

	// defaultPageSize is the topiclist page size used by GetAllTopics.
	defaultPageSize = 50
	// maxPages bounds pagination so a misbehaving server can never make
	// GetAllTopics loop forever.
	maxPages = 400
)

// Client wraps authenticated calls to the AskDelphi content API.
// It is safe for concurrent use by the download worker pool.
type Client struct {
	apiServer  string
	creds      *Credentials
	httpClient *http.Client
	logger     Logger
	idgen      IDGenerator

	// authMu serializes token acquisition so concurrent workers hitting
	// an expired token trigger a single refresh.
	authMu sync.Mutex
	tokens *TokenManager
}

// NewClient creates a Client. The credentials must carry all three IDs;
// authentication state lives in the TokenManager.
func NewClient(apiServer string, creds *Credentials, tokens *TokenManager, httpClient *http.Client, logger Logger, idgen IDGenerator) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		apiServer:  strings.TrimRight(apiServer, "/"),
		creds:      creds,
		httpClient: httpClient,
		logger:     logger,
		idgen:      idgen,
		tokens:     tokens,
	}, nil
}

// Authenticate eagerly establishes a usable API token. CLI commands call
// this once up front so credential problems surface before any work starts.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	_, err := c.tokens.Authenticate(ctx)
	return err
}

// GetContentDesign fetches the project's topic types, relations, and tag
// hierarchies.
func (c *Client) GetContentDesign(ctx context.Context) (*ContentDesign, error) {
	var design ContentDesign
	err := c.request(ctx, http.MethodGet,
		"v1/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/contentdesign",
		nil, &design)
	if err != nil {
		return nil, fmt.Errorf("fetching content design: %w", err)
	}
	return &design, nil
}

// SearchTopics runs one page of a topic search. An empty query matches all
// topics.
func (c *Client) SearchTopics(ctx context.Context, query string, topicTypeIDs []string, limit, offset int) ([]TopicSummary, int, error) {
	body := searchRequest{
		Query:        query,
		Skip:         offset,
		Take:         limit,
		TopicTypeIDs: topicTypeIDs,
	}

	var resp searchResponse
	err := c.request(ctx, http.MethodPost,
		"v1/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topiclist",
		body, &resp)
	if err != nil {
		return nil, 0, fmt.Errorf("searching topics: %w", err)
	}
	return resp.TopicList.Result, resp.TopicList.TotalAvailable, nil
}

// GetAllTopics pages through the full topic list. Pagination stops on the
// first empty page; totalAvailable reported by the server is advisory only.
func (c *Client) GetAllTopics(ctx context.Context, topicTypeIDs []string) ([]TopicSummary, error) {
	var all []TopicSummary
	offset := 0

	for page := 0; ; page++ {
		if page >= maxPages {
			return all, fmt.Errorf("pagination did not terminate after %d pages", maxPages)
		}

		items, total, err := c.SearchTopics(ctx, "", topicTypeIDs, defaultPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		all = append(all, items...)
		offset += defaultPageSize
		c.logger.Debug("fetched topic page", "have", len(all), "reported_total", total)
	}

	c.logger.Info("topic list fetched", "count", len(all))
	return all, nil
}

// CreateTopic creates a topic with a client-generated ID and returns the
// server's record of it.
func (c *Client) CreateTopic(ctx context.Context, title, topicTypeID string) (*CreatedTopic, error) {
	body := createTopicRequest{
		TopicID:     c.idgen.New(),
		TopicTitle:  title,
		TopicTypeID: topicTypeID,
	}

	var created CreatedTopic
	err := c.request(ctx, http.MethodPost,
		"v4/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic",
		body, &created)
	if err != nil {
		return nil, fmt.Errorf("creating topic %q: %w", title, err)
	}
	if created.TopicID == "" {
		created.TopicID = body.TopicID
	}
	return &created, nil
}

// GetTopicParts fetches the editor parts of one topic version, flattened
// from the group/editor layout into a part map.
func (c *Client) GetTopicParts(ctx context.Context, topicID, versionID string) (map[string]Part, error) {
	endpoint := fmt.Sprintf(
		"v3/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/topicVersion/%s/part",
		topicID, versionID)

	var resp topicPartsResponse
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching parts for topic %s: %w", topicID, err)
	}
	return flattenParts(&resp), nil
}

// UpdateTopicPart replaces the content of one part. The topic must be
// checked out and versionID must be the checkout's working version.
func (c *Client) UpdateTopicPart(ctx context.Context, topicID, versionID, partID string, part Part) error {
	endpoint := fmt.Sprintf(
		"v2/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/topicVersion/%s/part/%s",
		topicID, versionID, partID)

	body := updatePartRequest{Part: partPayload{
		ID:      partID,
		Name:    part.Name,
		Type:    part.Type,
		Content: part.Content,
	}}

	if err := c.request(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("updating part %s of topic %s: %w", partID, topicID, err)
	}
	return nil
}

// UpdateTopicTitle renames a checked-out topic version.
func (c *Client) UpdateTopicTitle(ctx context.Context, topicID, versionID, title string) error {
	endpoint := fmt.Sprintf(
		"v2/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/topicVersion/%s",
		topicID, versionID)

	if err := c.request(ctx, http.MethodPut, endpoint, updateTitleRequest{Title: title}, nil); err != nil {
		return fmt.Errorf("updating title of topic %s: %w", topicID, err)
	}
	return nil
}

// CheckoutTopic acquires the exclusive edit lock and returns the working
// version ID that subsequent part updates must target.
func (c *Client) CheckoutTopic(ctx context.Context, topicID string) (string, error) {
	var resp workflowResponse
	err := c.workflow(ctx, topicID, workflowRequest{Action: workflowActionCheckOut}, &resp)
	if err != nil {
		return "", fmt.Errorf("checking out topic %s: %w", topicID, err)
	}
	if resp.versionID() == "" {
		return "", fmt.Errorf("checkout of topic %s returned no version ID", topicID)
	}
	return resp.versionID(), nil
}

// CheckinTopic releases the edit lock, committing the working version.
func (c *Client) CheckinTopic(ctx context.Context, topicID, versionID string) error {
	applyDefault := true
	err := c.workflow(ctx, topicID, workflowRequest{
		Action:              workflowActionCheckIn,
		TopicVersionID:      versionID,
		ApplyToDefaultStage: &applyDefault,
	}, nil)
	if err != nil {
		return fmt.Errorf("checking in topic %s: %w", topicID, err)
	}
	return nil
}

// CancelCheckout releases the edit lock and discards the working version.
func (c *Client) CancelCheckout(ctx context.Context, topicID, versionID string) error {
	err := c.workflow(ctx, topicID, workflowRequest{
		Action:         workflowActionCancel,
		TopicVersionID: versionID,
	}, nil)
	if err != nil {
		return fmt.Errorf("cancelling checkout of topic %s: %w", topicID, err)
	}
	return nil
}

// IsTopicCheckedOut queries the edit-lock state without side effects.
func (c *Client) IsTopicCheckedOut(ctx context.Context, topicID string) (bool, string, error) {
	endpoint := fmt.Sprintf(
		"v3/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/workflowstate",
		topicID)

	var state WorkflowState
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &state); err != nil {
		return false, "", fmt.Errorf("fetching workflow state of topic %s: %w", topicID, err)
	}
	if !state.CheckedOut() {
		return false, "", nil
	}
	return true, state.CheckedOutBy, nil
}

// GetTopicRelations fetches the outgoing relations of a topic.
func (c *Client) GetTopicRelations(ctx context.Context, topicID string) (*TopicRelations, error) {
	endpoint := fmt.Sprintf(
		"v1/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/relation",
		topicID)

	var rel TopicRelations
	if err := c.request(ctx, http.MethodGet, endpoint, nil, &rel); err != nil {
		return nil, fmt.Errorf("fetching relations of topic %s: %w", topicID, err)
	}
	return &rel, nil
}

func (c *Client) workflow(ctx context.Context, topicID string, body workflowRequest, out any) error {
	endpoint := fmt.Sprintf(
		"v3/tenant/{tenantId}/project/{projectId}/acl/{aclEntryId}/topic/%s/workflowstate",
		topicID)
	return c.request(ctx, http.MethodPost, endpoint, body, out)
}

// request performs one authenticated API call. A 401 triggers exactly one
// token refresh and retry; a second 401 is surfaced.
func (c *Client) request(ctx context.Context, method, endpoint string, body, out any) error {
	for attempt := 0; ; attempt++ {
		c.authMu.Lock()
		token, err := c.tokens.Authenticate(ctx)
		c.authMu.Unlock()
		if err != nil {
			return err
		}

		err = c.do(ctx, method, endpoint, token, body, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.logger.Debug("got 401, refreshing API token", "endpoint", endpoint)
			c.authMu.Lock()
			c.tokens.Invalidate()
			c.authMu.Unlock()
			continue
		}
		return err
	}
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body, out any) error {
	u := c.apiServer + "/" + c.expand(endpoint)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "method", method, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: truncate(string(data), 500)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}

	payload, err := unwrapEnvelope(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

// expand substitutes the credential placeholders used in endpoint templates.
func (c *Client) expand(endpoint string) string {
	r := strings.NewReplacer(
		"{tenantId}", c.creds.TenantID,
		"{projectId}", c.creds.ProjectID,
		"{aclEntryId}", c.creds.ACLEntryID,
	)
	return strings.TrimPrefix(r.Replace(endpoint), "/")
}

// unwrapEnvelope strips the {success, errorMessage, response} wrapper when
// present. A payload without a success field is returned as-is.
func unwrapEnvelope(data []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not an object (e.g. a bare array): hand it to the caller.
		return data, nil
	}
	if env.Success == nil {
		return data, nil
	}
	if !*env.Success {
		msg := env.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &APIError{StatusCode: http.StatusOK, Message: msg}
	}
	if len(env.Response) == 0 {
		return data, nil
	}
	return env.Response, nil
}

// flattenParts converts the grouped editor layout into the part map used by
// snapshots.
func flattenParts(resp *topicPartsResponse) map[string]Part {
	groups := resp.Groups
	if len(groups) == 0 && resp.TopicEditorData != nil {
		groups = resp.TopicEditorData.Groups
	}
	if len(groups) == 0 {
		groups = resp.PartGroups
	}

	parts := make(map[string]Part)
	for _, g := range groups {
		for _, e := range g.editors() {
			id := e.partID()
			if id == "" {
				continue
			}
			parts[id] = Part{
				ID:      id,
				Name:    e.partName(),
				Type:    e.partType(),
				Group:   g.groupName(),
				Content: e.contentValue(),
			}
		}
	}
	return parts
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
