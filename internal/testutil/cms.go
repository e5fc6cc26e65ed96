package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PartFixture is one content part held by the fake CMS.
type PartFixture struct {
	Name    string
	Type    string
	Group   string
	Content string
}

// TopicFixture is one topic held by the fake CMS.
type TopicFixture struct {
	ID             string
	VersionID      string
	Title          string
	TypeID         string
	TypeTitle      string
	Parts          map[string]PartFixture
	CheckedOut     bool
	CheckedOutBy   string
	WorkingVersion string
}

// FakeCMS simulates the portal, publication, and content API servers on a
// single httptest server. All three roles share one base URL, which the
// token manager and client accept happily.
type FakeCMS struct {
	Server *httptest.Server

	mu sync.Mutex

	// PortalCode is the one valid, one-shot portal code.
	PortalCode  string
	codeUsed    bool
	accessToken string
	refresh     string
	apiToken    string

	// RejectAPIToken makes every content API call answer 401, regardless
	// of the presented token. Used to exercise the single-retry path.
	RejectAPIToken bool

	// FailParts lists topic IDs whose part fetch answers 500.
	FailParts map[string]bool

	// EndlessTopicList makes every topiclist page come back full of
	// synthetic topics, simulating a server whose paging never ends.
	EndlessTopicList bool

	topics map[string]*TopicFixture
	design []map[string]string

	// Log records mutating operations in order, e.g. "checkout t1".
	Log []string

	counts    map[string]int
	seq       int
	rotations int
}

// NewFakeCMS starts a fake CMS with the given portal code. Close the
// returned server with t.Cleanup or defer.
func NewFakeCMS(portalCode string) *FakeCMS {
	f := &FakeCMS{
		PortalCode:  portalCode,
		accessToken: "access-1",
		refresh:     "refresh-1",
		topics:      make(map[string]*TopicFixture),
		counts:      make(map[string]int),
	}
	f.apiToken = MintJWT(time.Now().Add(time.Hour))
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// MintJWT produces an unsigned-verification-friendly HS256 JWT with the
// given expiry.
func MintJWT(exp time.Time) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "editing-api",
	})
	s, err := tok.SignedString([]byte("fake-cms-secret"))
	if err != nil {
		panic(err)
	}
	return s
}

// URL returns the base URL serving all three server roles.
func (f *FakeCMS) URL() string { return f.Server.URL }

// Close shuts the underlying test server down.
func (f *FakeCMS) Close() { f.Server.Close() }

// AddTopic registers a topic fixture.
func (f *FakeCMS) AddTopic(t *TopicFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.Parts == nil {
		t.Parts = make(map[string]PartFixture)
	}
	f.topics[t.ID] = t
}

// Topic returns the current state of a topic fixture.
func (f *FakeCMS) Topic(id string) *TopicFixture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topics[id]
}

// AddTopicType registers one content-design topic type.
func (f *FakeCMS) AddTopicType(key, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.design = append(f.design, map[string]string{"key": key, "title": title})
}

// APIToken returns the currently accepted editing API token.
func (f *FakeCMS) APIToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiToken
}

// RotateAPIToken invalidates the currently issued API token server-side,
// forcing the next content API call to 401 until a new token is fetched.
func (f *FakeCMS) RotateAPIToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Skew the expiry so the minted JWT always differs from the current
	// one; MintJWT is deterministic and exp has one-second resolution.
	f.rotations++
	f.apiToken = MintJWT(time.Now().Add(time.Hour + time.Duration(f.rotations)*time.Second))
}

// Count returns how many requests hit the given endpoint key. Keys:
// "registration", "refresh", "apitoken", "topiclist", "parts", "workflow",
// "partupdate", "title", "create", "contentdesign", "api".
func (f *FakeCMS) Count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[key]
}

// TotalRequests returns the number of HTTP requests served.
func (f *FakeCMS) TotalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts["total"]
}

func (f *FakeCMS) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts["total"]++

	path := r.URL.Path
	switch {
	case path == "/api/session/registration":
		f.counts["registration"]++
		f.handleRegistration(w, r)
	case path == "/api/token/refresh":
		f.counts["refresh"]++
		f.handleRefresh(w, r)
	case path == "/api/token/EditingApiToken":
		f.counts["apitoken"]++
		f.handleAPIToken(w, r)
	default:
		f.counts["api"]++
		f.handleAPI(w, r)
	}
}

func (f *FakeCMS) handleRegistration(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("sessionCode")
	if code == "" || code != f.PortalCode || f.codeUsed {
		http.Error(w, "invalid session code", http.StatusNotFound)
		return
	}
	f.codeUsed = true
	writeJSON(w, map[string]string{
		"accessToken":  f.accessToken,
		"refreshToken": f.refresh,
		"url":          f.Server.URL + "/publication/site/index",
	})
}

func (f *FakeCMS) handleRefresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("token") != f.accessToken || q.Get("refreshToken") != f.refresh {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	f.seq++
	f.accessToken = fmt.Sprintf("access-%d", f.seq+1)
	f.refresh = fmt.Sprintf("refresh-%d", f.seq+1)
	writeJSON(w, map[string]string{
		"accessToken":  f.accessToken,
		"refreshToken": f.refresh,
	})
}

func (f *FakeCMS) handleAPIToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.accessToken {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}
	// The real endpoint returns the JWT wrapped in JSON quotes.
	fmt.Fprintf(w, "%q", f.apiToken)
}

// handleAPI routes content API paths of the form
// /vN/tenant/T/project/P/acl/A/<rest>.
func (f *FakeCMS) handleAPI(w http.ResponseWriter, r *http.Request) {
	if f.RejectAPIToken || r.Header.Get("Authorization") != "Bearer "+f.apiToken {
		http.Error(w, "invalid API token", http.StatusUnauthorized)
		return
	}

	rest := apiSuffix(r.URL.Path)
	seg := strings.Split(rest, "/")

	switch {
	case rest == "topiclist" && r.Method == http.MethodPost:
		f.counts["topiclist"]++
		f.handleTopicList(w, r)
	case rest == "contentdesign" && r.Method == http.MethodGet:
		f.counts["contentdesign"]++
		writeEnvelope(w, map[string]any{"topicTypes": f.design})
	case rest == "topic" && r.Method == http.MethodPost:
		f.counts["create"]++
		f.handleCreate(w, r)
	case len(seg) == 5 && seg[0] == "topic" && seg[2] == "topicVersion" && seg[4] == "part" && r.Method == http.MethodGet:
		f.counts["parts"]++
		f.handleParts(w, seg[1], seg[3])
	case len(seg) == 6 && seg[0] == "topic" && seg[2] == "topicVersion" && seg[4] == "part" && r.Method == http.MethodPut:
		f.counts["partupdate"]++
		f.handlePartUpdate(w, r, seg[1], seg[3], seg[5])
	case len(seg) == 4 && seg[0] == "topic" && seg[2] == "topicVersion" && r.Method == http.MethodPut:
		f.counts["title"]++
		f.handleTitle(w, r, seg[1], seg[3])
	case len(seg) == 3 && seg[0] == "topic" && seg[2] == "workflowstate" && r.Method == http.MethodPost:
		f.counts["workflow"]++
		f.handleWorkflow(w, r, seg[1])
	case len(seg) == 3 && seg[0] == "topic" && seg[2] == "workflowstate" && r.Method == http.MethodGet:
		f.counts["workflowstate"]++
		f.handleWorkflowState(w, seg[1])
	case len(seg) == 3 && seg[0] == "topic" && seg[2] == "relation" && r.Method == http.MethodGet:
		f.counts["relation"]++
		writeEnvelope(w, map[string]any{"relations": []any{}})
	default:
		http.Error(w, "not found: "+rest, http.StatusNotFound)
	}
}

// apiSuffix strips the /vN/tenant/T/project/P/acl/A prefix.
func apiSuffix(path string) string {
	seg := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(seg) >= 7 && seg[1] == "tenant" && seg[3] == "project" && seg[5] == "acl" {
		return strings.Join(seg[7:], "/")
	}
	return strings.Join(seg, "/")
}

func (f *FakeCMS) handleTopicList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query        string   `json:"query"`
		Skip         int      `json:"skip"`
		Take         int      `json:"take"`
		TopicTypeIDs []string `json:"topicTypeIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if f.EndlessTopicList {
		rows := make([]map[string]any, req.Take)
		for i := range rows {
			id := fmt.Sprintf("t-%06d", req.Skip+i)
			rows[i] = map[string]any{
				"topicGuid":       id,
				"title":           "Topic " + id,
				"topicTypeId":     "type-a",
				"topicVersionKey": "v-" + id,
			}
		}
		writeEnvelope(w, map[string]any{
			"topicList": map[string]any{
				"result":         rows,
				"totalAvailable": req.Skip + req.Take + 1,
			},
		})
		return
	}

	ids := make([]string, 0, len(f.topics))
	for id, t := range f.topics {
		if len(req.TopicTypeIDs) > 0 && !contains(req.TopicTypeIDs, t.TypeID) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []map[string]any
	for i := req.Skip; i < len(ids) && i < req.Skip+req.Take; i++ {
		t := f.topics[ids[i]]
		rows = append(rows, map[string]any{
			"topicGuid":       t.ID,
			"title":           t.Title,
			"topicTypeId":     t.TypeID,
			"topicTypeTitle":  t.TypeTitle,
			"topicVersionKey": t.VersionID,
		})
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	writeEnvelope(w, map[string]any{
		"topicList": map[string]any{
			"result":         rows,
			"totalAvailable": len(ids),
		},
	})
}

func (f *FakeCMS) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicID     string `json:"topicId"`
		TopicTitle  string `json:"topicTitle"`
		TopicTypeID string `json:"topicTypeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TopicID == "" {
		http.Error(w, "bad create request", http.StatusBadRequest)
		return
	}
	version := "v-" + req.TopicID
	f.topics[req.TopicID] = &TopicFixture{
		ID:        req.TopicID,
		VersionID: version,
		Title:     req.TopicTitle,
		TypeID:    req.TopicTypeID,
		Parts:     make(map[string]PartFixture),
	}
	f.Log = append(f.Log, "create "+req.TopicID)
	writeEnvelope(w, map[string]string{
		"topicId":         req.TopicID,
		"topicVersionKey": version,
	})
}

func (f *FakeCMS) handleParts(w http.ResponseWriter, topicID, versionID string) {
	if f.FailParts[topicID] {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	t, ok := f.topics[topicID]
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}
	_ = versionID

	byGroup := make(map[string][]map[string]any)
	var partIDs []string
	for id := range t.Parts {
		partIDs = append(partIDs, id)
	}
	sort.Strings(partIDs)
	for _, id := range partIDs {
		p := t.Parts[id]
		group := p.Group
		if group == "" {
			group = "default"
		}
		byGroup[group] = append(byGroup[group], map[string]any{
			"id":    id,
			"name":  p.Name,
			"type":  p.Type,
			"value": p.Content,
		})
	}

	var groupNames []string
	for g := range byGroup {
		groupNames = append(groupNames, g)
	}
	sort.Strings(groupNames)

	var groups []map[string]any
	for _, g := range groupNames {
		groups = append(groups, map[string]any{
			"name":    g,
			"editors": byGroup[g],
		})
	}
	if groups == nil {
		groups = []map[string]any{}
	}

	writeEnvelope(w, map[string]any{
		"topicEditorData": map[string]any{"groups": groups},
	})
}

func (f *FakeCMS) handlePartUpdate(w http.ResponseWriter, r *http.Request, topicID, versionID, partID string) {
	t, ok := f.topics[topicID]
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}
	if !t.CheckedOut || versionID != t.WorkingVersion {
		http.Error(w, "topic is not checked out at this version", http.StatusConflict)
		return
	}

	var req struct {
		Part struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Type    string `json:"type"`
			Content string `json:"content"`
		} `json:"part"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := t.Parts[partID]
	if req.Part.Name != "" {
		p.Name = req.Part.Name
	}
	if req.Part.Type != "" {
		p.Type = req.Part.Type
	}
	p.Content = req.Part.Content
	t.Parts[partID] = p

	f.Log = append(f.Log, "partupdate "+topicID+" "+partID)
	writeEnvelope(w, map[string]any{})
}

func (f *FakeCMS) handleTitle(w http.ResponseWriter, r *http.Request, topicID, versionID string) {
	t, ok := f.topics[topicID]
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}
	if !t.CheckedOut || versionID != t.WorkingVersion {
		http.Error(w, "topic is not checked out at this version", http.StatusConflict)
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.Title = req.Title
	f.Log = append(f.Log, "title "+topicID)
	writeEnvelope(w, map[string]any{})
}

func (f *FakeCMS) handleWorkflow(w http.ResponseWriter, r *http.Request, topicID string) {
	t, ok := f.topics[topicID]
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}

	var req struct {
		Action         int    `json:"action"`
		TopicVersionID string `json:"topicVersionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Action {
	case 0: // check out
		if t.CheckedOut {
			http.Error(w, "already checked out by "+t.CheckedOutBy, http.StatusConflict)
			return
		}
		f.seq++
		t.CheckedOut = true
		t.CheckedOutBy = "adsync-test"
		t.WorkingVersion = fmt.Sprintf("w-%d", f.seq)
		f.Log = append(f.Log, "checkout "+topicID)
		writeEnvelope(w, map[string]string{"topicVersionId": t.WorkingVersion})
	case 1: // check in
		if !t.CheckedOut || req.TopicVersionID != t.WorkingVersion {
			http.Error(w, "not checked out at this version", http.StatusConflict)
			return
		}
		t.VersionID = t.WorkingVersion
		t.CheckedOut = false
		t.CheckedOutBy = ""
		t.WorkingVersion = ""
		f.Log = append(f.Log, "checkin "+topicID)
		writeEnvelope(w, map[string]any{})
	case 2: // cancel
		if !t.CheckedOut {
			http.Error(w, "not checked out", http.StatusConflict)
			return
		}
		t.CheckedOut = false
		t.CheckedOutBy = ""
		t.WorkingVersion = ""
		f.Log = append(f.Log, "cancel "+topicID)
		writeEnvelope(w, map[string]any{})
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

func (f *FakeCMS) handleWorkflowState(w http.ResponseWriter, topicID string) {
	t, ok := f.topics[topicID]
	if !ok {
		http.Error(w, "no such topic", http.StatusNotFound)
		return
	}
	state := "available"
	if t.CheckedOut {
		state = "checkedout"
	}
	writeEnvelope(w, map[string]string{
		"state":        state,
		"checkedOutBy": t.CheckedOutBy,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeEnvelope wraps the payload in the API's success envelope.
func writeEnvelope(w http.ResponseWriter, response any) {
	writeJSON(w, map[string]any{
		"success":      true,
		"errorMessage": "",
		"response":     response,
	})
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

