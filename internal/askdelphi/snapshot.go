package askdelphi

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// SnapshotVersion is the format version written into new exports.
const SnapshotVersion = "1.0"

// Snapshot is the point-in-time copy of a project's content. It is
// immutable once written; uploads read snapshots back and diff them.
type Snapshot struct {
	Metadata      SnapshotMetadata `json:"_metadata"`
	ContentDesign SnapshotDesign   `json:"content_design"`
	Topics        map[string]Topic `json:"topics"`
}

// SnapshotMetadata records where and when an export was taken.
type SnapshotMetadata struct {
	Version       string `json:"version"`
	ExportedAt    string `json:"exported_at"`
	TenantID      string `json:"tenant_id"`
	ProjectID     string `json:"project_id"`
	ACLEntryID    string `json:"acl_entry_id"`
	TopicCount    int    `json:"topic_count"`
	IncludesParts bool   `json:"includes_parts"`
	Source        string `json:"source"`
}

// SnapshotDesign is the exported slice of the project's content design.
type SnapshotDesign struct {
	TopicTypes     []TopicType       `json:"topic_types"`
	Relations      []json.RawMessage `json:"relations"`
	TagHierarchies []json.RawMessage `json:"tag_hierarchies"`
}

// Topic is one content record: identity, type, and its named parts.
// FetchError marks topics whose parts could not be downloaded; they are
// kept in the snapshot so a failed fetch is visible, and skipped on diff.
type Topic struct {
	ID             string            `json:"id"`
	VersionID      string            `json:"version_id"`
	Title          string            `json:"title"`
	TopicTypeID    string            `json:"topic_type_id"`
	TopicTypeTitle string            `json:"topic_type_title"`
	Tags           []json.RawMessage `json:"tags,omitempty"`
	Parts          map[string]Part   `json:"parts"`
	FetchError     string            `json:"fetch_error,omitempty"`
	Checksum       string            `json:"_checksum,omitempty"`
}

// Part is the unit of update granularity: a named, typed content fragment.
type Part struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Group   string `json:"group,omitempty"`
	Content string `json:"content"`
}

// NewTopicEntry builds a snapshot topic from a search result row and its
// (possibly nil) parts, stamping the change-detection checksum.
func NewTopicEntry(summary TopicSummary, parts map[string]Part) Topic {
	if parts == nil {
		parts = map[string]Part{}
	}
	t := Topic{
		ID:             summary.ID(),
		VersionID:      summary.VersionID(),
		Title:          summary.DisplayTitle(),
		TopicTypeID:    summary.TopicTypeID,
		TopicTypeTitle: summary.TypeTitle(),
		Tags:           summary.Tags,
		Parts:          parts,
	}
	t.Checksum = t.checksum()
	return t
}

// checksum digests the normalized topic. Volatile fields (version ID, the
// checksum itself) are excluded so a round-tripped export hashes the same.
func (t Topic) checksum() string {
	data, err := json.Marshal(t.normalized())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum[:8])
}

// normalized returns a copy with volatile fields cleared for comparison.
func (t Topic) normalized() Topic {
	t.VersionID = ""
	t.Checksum = ""
	t.FetchError = ""
	return t
}

// EncodeSnapshot writes the snapshot as indented JSON. Map keys serialize
// in sorted order, so identical content always produces identical bytes
// regardless of download concurrency.
func EncodeSnapshot(w io.Writer, snap *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot parses and validates a snapshot document. Validation fails
// fast on documents missing the metadata or topics sections.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	// Decode into a raw map first to distinguish "absent" from "empty".
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if _, ok := raw["_metadata"]; !ok {
		return nil, fmt.Errorf("invalid snapshot: missing _metadata section")
	}
	if _, ok := raw["topics"]; !ok {
		return nil, fmt.Errorf("invalid snapshot: missing topics section")
	}

	var snap Snapshot
	if err := json.Unmarshal(raw["_metadata"], &snap.Metadata); err != nil {
		return nil, fmt.Errorf("parsing snapshot metadata: %w", err)
	}
	if err := json.Unmarshal(raw["topics"], &snap.Topics); err != nil {
		return nil, fmt.Errorf("parsing snapshot topics: %w", err)
	}
	if design, ok := raw["content_design"]; ok {
		if err := json.Unmarshal(design, &snap.ContentDesign); err != nil {
			return nil, fmt.Errorf("parsing snapshot content design: %w", err)
		}
	}
	if snap.Topics == nil {
		snap.Topics = map[string]Topic{}
	}
	return &snap, nil
}

// NewSnapshotMetadata stamps export metadata for the given credentials.
func NewSnapshotMetadata(creds *Credentials, topicCount int, includesParts bool, now time.Time) SnapshotMetadata {
	return SnapshotMetadata{
		Version:       SnapshotVersion,
		ExportedAt:    now.UTC().Format(time.RFC3339),
		TenantID:      creds.TenantID,
		ProjectID:     creds.ProjectID,
		ACLEntryID:    creds.ACLEntryID,
		TopicCount:    topicCount,
		IncludesParts: includesParts,
		Source:        "adsync",
	}
}
