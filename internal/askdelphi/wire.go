package askdelphi

import (
	"encoding/json"
	"strings"
)

// envelope is the wrapper some API endpoints put around their payload.
// Endpoints that respond bare are handled by the caller decoding the body
// directly when no success field is present.
type envelope struct {
	Success      *bool           `json:"success"`
	ErrorMessage string          `json:"errorMessage"`
	Response     json.RawMessage `json:"response"`
}

// ContentDesign describes the project's schema: available topic types,
// relation types, and tag hierarchies.
type ContentDesign struct {
	TopicTypes     []TopicType       `json:"topicTypes"`
	Relations      []json.RawMessage `json:"relations"`
	TagHierarchies []json.RawMessage `json:"tagHierarchies"`
}

// TopicType is one entry of the content design's topic type list.
type TopicType struct {
	Key       string `json:"key"`
	Title     string `json:"title"`
	Namespace string `json:"namespace"`
}

// searchRequest is the body of the topiclist endpoint.
type searchRequest struct {
	Query        string   `json:"query"`
	Skip         int      `json:"skip"`
	Take         int      `json:"take"`
	TopicTypeIDs []string `json:"topicTypeIds,omitempty"`
}

type searchResponse struct {
	TopicList struct {
		Result         []TopicSummary `json:"result"`
		TotalAvailable int            `json:"totalAvailable"`
	} `json:"topicList"`
}

// TopicSummary is one row of a topic search result. The API has shifted
// field names across versions, so several aliases are carried and resolved
// through the accessor methods.
type TopicSummary struct {
	TopicGuid       string            `json:"topicGuid"`
	TopicID         string            `json:"topicId"`
	Title           string            `json:"title"`
	TopicTitle      string            `json:"topicTitle"`
	TopicTypeID     string            `json:"topicTypeId"`
	TopicTypeTitle  string            `json:"topicTypeTitle"`
	TypeName        string            `json:"typeName"`
	TopicVersionKey string            `json:"topicVersionKey"`
	TopicVersionID  string            `json:"topicVersionId"`
	Tags            []json.RawMessage `json:"tags"`
}

// ID returns the topic's GUID regardless of which alias the server used.
func (t *TopicSummary) ID() string {
	if t.TopicGuid != "" {
		return t.TopicGuid
	}
	return t.TopicID
}

// VersionID returns the topic's current version key.
func (t *TopicSummary) VersionID() string {
	if t.TopicVersionKey != "" {
		return t.TopicVersionKey
	}
	return t.TopicVersionID
}

// DisplayTitle returns the topic title.
func (t *TopicSummary) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.TopicTitle
}

// TypeTitle returns the human-readable topic type name.
func (t *TopicSummary) TypeTitle() string {
	if t.TopicTypeTitle != "" {
		return t.TopicTypeTitle
	}
	return t.TypeName
}

// createTopicRequest is the body of the v4 topic creation endpoint.
// The topic ID is generated client-side.
type createTopicRequest struct {
	TopicID        string `json:"topicId"`
	TopicTitle     string `json:"topicTitle"`
	TopicTypeID    string `json:"topicTypeId"`
	CopyParentTags bool   `json:"copyParentTags"`
}

// CreatedTopic is the result of creating a topic.
type CreatedTopic struct {
	TopicID         string `json:"topicId"`
	TopicVersionKey string `json:"topicVersionKey"`
}

// topicPartsResponse is the editor layout of one topic version: part groups,
// each holding editors that carry the actual content values.
type topicPartsResponse struct {
	TopicEditorData *partGroups `json:"topicEditorData"`
	Groups          []partGroup `json:"groups"`
	PartGroups      []partGroup `json:"partGroups"`
}

type partGroups struct {
	Groups []partGroup `json:"groups"`
}

type partGroup struct {
	PartGroupID string       `json:"partGroupId"`
	Name        string       `json:"name"`
	Title       string       `json:"title"`
	Editors     []partEditor `json:"editors"`
	Parts       []partEditor `json:"parts"`
}

func (g *partGroup) groupName() string {
	switch {
	case g.Name != "":
		return g.Name
	case g.Title != "":
		return g.Title
	case g.PartGroupID != "":
		return g.PartGroupID
	}
	return "default"
}

func (g *partGroup) editors() []partEditor {
	if len(g.Editors) > 0 {
		return g.Editors
	}
	return g.Parts
}

type partEditor struct {
	ID         string          `json:"id"`
	PartID     string          `json:"partId"`
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	Type       string          `json:"type"`
	EditorType string          `json:"editorType"`
	Value      json.RawMessage `json:"value"`
	Content    json.RawMessage `json:"content"`
	Data       json.RawMessage `json:"data"`
}

func (e *partEditor) partID() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.PartID != "":
		return e.PartID
	}
	return e.Name
}

func (e *partEditor) partName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Title
}

func (e *partEditor) partType() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EditorType
}

// contentValue returns the editor's payload as a string. Rich-text parts
// arrive as JSON strings; structured parts are kept as their raw JSON text.
func (e *partEditor) contentValue() string {
	for _, raw := range []json.RawMessage{e.Value, e.Content, e.Data} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	return ""
}

// updatePartRequest is the body of the part update endpoint.
type updatePartRequest struct {
	Part partPayload `json:"part"`
}

type partPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// Workflow state actions for the workflowstate endpoint.
const (
	workflowActionCheckOut = 0
	workflowActionCheckIn  = 1
	workflowActionCancel   = 2
)

type workflowRequest struct {
	Action              int    `json:"action"`
	TopicVersionID      string `json:"topicVersionId,omitempty"`
	ApplyToDefaultStage *bool  `json:"applyToDefaultStage,omitempty"`
}

type workflowResponse struct {
	TopicVersionID  string `json:"topicVersionId"`
	TopicVersionKey string `json:"topicVersionKey"`
}

func (w *workflowResponse) versionID() string {
	if w.TopicVersionID != "" {
		return w.TopicVersionID
	}
	return w.TopicVersionKey
}

// WorkflowState is the side-effect-free checkout status of a topic.
type WorkflowState struct {
	State        string `json:"state"`
	CheckedOutBy string `json:"checkedOutBy"`
}

// CheckedOut reports whether the topic is currently locked for editing.
func (w *WorkflowState) CheckedOut() bool {
	return strings.EqualFold(w.State, "checkedout")
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

// TopicRelations holds the outgoing relations of a topic.
type TopicRelations struct {
	Relations []json.RawMessage `json:"relations"`
}
