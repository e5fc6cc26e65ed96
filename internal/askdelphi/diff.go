package askdelphi

import "sort"

// Part change kinds reported by the diff.
const (
	PartAdded    = "added"
	PartModified = "modified"
	PartDeleted  = "deleted"
)

// PartChange describes one changed part within a modified topic.
type PartChange struct {
	PartID string
	Name   string
	Kind   string
}

// TopicChange describes one modified topic: a title rename and/or a set of
// part-level changes.
type TopicChange struct {
	TopicID      string
	Title        string
	OldTitle     string
	TitleChanged bool
	Parts        []PartChange
}

// ChangeReport is the full diff between a baseline snapshot and an edited
// one. Deleted topics are reported but never acted on.
type ChangeReport struct {
	NewTopics       []string
	ModifiedTopics  []TopicChange
	DeletedTopics   []string
	UnchangedTopics []string
}

// HasChanges reports whether anything differs.
func (r *ChangeReport) HasChanges() bool {
	return len(r.NewTopics) > 0 || len(r.ModifiedTopics) > 0 || len(r.DeletedTopics) > 0
}

// TotalChanges counts new, modified, and deleted topics.
func (r *ChangeReport) TotalChanges() int {
	return len(r.NewTopics) + len(r.ModifiedTopics) + len(r.DeletedTopics)
}

// DetectChanges diffs an edited snapshot against its baseline. Comparison
// uses normalized checksums, so volatile fields (version IDs, timestamps,
// the stored checksums themselves) never produce spurious changes. Topics
// whose baseline or edited entry carries a fetch error are treated as
// unchanged: there is no trustworthy content to compare.
func DetectChanges(baseline, edited *Snapshot) *ChangeReport {
	report := &ChangeReport{}

	for _, id := range sortedTopicIDs(edited.Topics) {
		topic := edited.Topics[id]
		orig, ok := baseline.Topics[id]
		if !ok {
			report.NewTopics = append(report.NewTopics, id)
			continue
		}

		if topic.FetchError != "" || orig.FetchError != "" {
			report.UnchangedTopics = append(report.UnchangedTopics, id)
			continue
		}

		if orig.checksum() == topic.checksum() {
			report.UnchangedTopics = append(report.UnchangedTopics, id)
			continue
		}

		change := TopicChange{
			TopicID:  id,
			Title:    topic.Title,
			OldTitle: orig.Title,
			Parts:    diffParts(orig.Parts, topic.Parts),
		}
		change.TitleChanged = orig.Title != topic.Title
		report.ModifiedTopics = append(report.ModifiedTopics, change)
	}

	for _, id := range sortedTopicIDs(baseline.Topics) {
		if _, ok := edited.Topics[id]; !ok {
			report.DeletedTopics = append(report.DeletedTopics, id)
		}
	}

	return report
}

// diffParts compares two part maps by content string inequality.
func diffParts(original, edited map[string]Part) []PartChange {
	var changes []PartChange

	for _, id := range sortedPartIDs(edited) {
		part := edited[id]
		orig, ok := original[id]
		switch {
		case !ok:
			changes = append(changes, PartChange{PartID: id, Name: part.Name, Kind: PartAdded})
		case orig.Content != part.Content:
			changes = append(changes, PartChange{PartID: id, Name: part.Name, Kind: PartModified})
		}
	}

	for _, id := range sortedPartIDs(original) {
		if _, ok := edited[id]; !ok {
			changes = append(changes, PartChange{PartID: id, Name: original[id].Name, Kind: PartDeleted})
		}
	}

	return changes
}

func sortedTopicIDs(topics map[string]Topic) []string {
	ids := make([]string, 0, len(topics))
	for id := range topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedPartIDs(parts map[string]Part) []string {
	ids := make([]string, 0, len(parts))
	for id := range parts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
