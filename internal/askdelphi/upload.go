package askdelphi

import (
	"context"
	"fmt"
	"time"
)

// UploadedTopic records one successfully applied topic change.
type UploadedTopic struct {
	TopicID      string
	Title        string
	PartsUpdated int
}

// UploadFailure records a topic whose changes could not be applied.
type UploadFailure struct {
	TopicID string
	Title   string
	Err     error
}

// UploadReport accumulates the outcome of an upload run. A single topic's
// failure never aborts the run; it lands in Errors and the next topic
// proceeds.
type UploadReport struct {
	Created  []UploadedTopic
	Updated  []UploadedTopic
	Errors   []UploadFailure
	Warnings []string
	DryRun   bool
}

// UploadOptions controls how changes are applied.
type UploadOptions struct {
	// Delay is an optional pause between topics.
	Delay time.Duration
}

// Uploader applies a ChangeReport to the remote project. Topics are
// processed strictly sequentially: checkout/checkin is a serialized lock
// protocol, so concurrency buys nothing here.
type Uploader struct {
	client *Client
	logger Logger
}

// NewUploader creates an Uploader.
func NewUploader(client *Client, logger Logger) *Uploader {
	return &Uploader{client: client, logger: logger}
}

// Apply pushes the report's changes using the edited snapshot as the source
// of content. For each modified topic: checkout, title update when renamed,
// one part update per added/changed part, checkin. A failure at any step
// cancels that topic's checkout and moves on.
func (u *Uploader) Apply(ctx context.Context, report *ChangeReport, edited *Snapshot, opts UploadOptions) *UploadReport {
	result := &UploadReport{}

	for _, topicID := range report.NewTopics {
		topic := edited.Topics[topicID]
		created, err := u.client.CreateTopic(ctx, topic.Title, topic.TopicTypeID)
		if err != nil {
			u.logger.Error("topic creation failed", "topic", topicID, "error", err)
			result.Errors = append(result.Errors, UploadFailure{TopicID: topicID, Title: topic.Title, Err: err})
			continue
		}
		u.logger.Info("topic created", "topic", created.TopicID, "title", topic.Title)
		result.Created = append(result.Created, UploadedTopic{TopicID: created.TopicID, Title: topic.Title})
		if len(topic.Parts) > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("topic %s created without parts: seed its content with a follow-up upload", created.TopicID))
		}
		u.pause(ctx, opts.Delay)
	}

	for _, change := range report.ModifiedTopics {
		topic := edited.Topics[change.TopicID]
		updated, err := u.applyTopicChange(ctx, change, topic)
		if err != nil {
			u.logger.Error("topic update failed", "topic", change.TopicID, "error", err)
			result.Errors = append(result.Errors, UploadFailure{TopicID: change.TopicID, Title: topic.Title, Err: err})
		} else {
			result.Updated = append(result.Updated, *updated)
		}
		u.pause(ctx, opts.Delay)
	}

	for _, topicID := range report.DeletedTopics {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("topic %s is absent from the edited snapshot but was not deleted remotely", topicID))
	}

	return result
}

// applyTopicChange runs the checkout → update → checkin sequence for one
// modified topic.
func (u *Uploader) applyTopicChange(ctx context.Context, change TopicChange, topic Topic) (*UploadedTopic, error) {
	u.resetStaleCheckout(ctx, change.TopicID, topic.VersionID)

	workingVersion, err := u.client.CheckoutTopic(ctx, change.TopicID)
	if err != nil {
		if IsConflict(err) {
			return nil, fmt.Errorf("topic is checked out by another session: %w", err)
		}
		return nil, err
	}
	u.logger.Info("topic checked out", "topic", change.TopicID, "version", workingVersion)

	if change.TitleChanged {
		if err := u.client.UpdateTopicTitle(ctx, change.TopicID, workingVersion, topic.Title); err != nil {
			u.cancel(ctx, change.TopicID, workingVersion)
			return nil, err
		}
		u.logger.Info("title updated", "topic", change.TopicID, "old", change.OldTitle, "new", topic.Title)
	}

	partsUpdated := 0
	for _, pc := range change.Parts {
		if pc.Kind == PartDeleted {
			// Remote part deletion is not supported; the part simply
			// keeps its server-side content.
			u.logger.Warn("part removed locally but kept remotely", "topic", change.TopicID, "part", pc.PartID)
			continue
		}
		part, ok := topic.Parts[pc.PartID]
		if !ok {
			continue
		}
		if err := u.client.UpdateTopicPart(ctx, change.TopicID, workingVersion, pc.PartID, part); err != nil {
			u.cancel(ctx, change.TopicID, workingVersion)
			return nil, err
		}
		partsUpdated++
	}

	if err := u.client.CheckinTopic(ctx, change.TopicID, workingVersion); err != nil {
		u.cancel(ctx, change.TopicID, workingVersion)
		return nil, err
	}
	u.logger.Info("topic checked in", "topic", change.TopicID, "parts_updated", partsUpdated)

	return &UploadedTopic{TopicID: change.TopicID, Title: topic.Title, PartsUpdated: partsUpdated}, nil
}

// resetStaleCheckout cancels a leftover checkout from an earlier aborted
// run so our own checkout starts clean. Best effort: a topic checked out by
// someone else will fail at the checkout step with a conflict.
func (u *Uploader) resetStaleCheckout(ctx context.Context, topicID, versionID string) {
	checkedOut, by, err := u.client.IsTopicCheckedOut(ctx, topicID)
	if err != nil || !checkedOut {
		return
	}
	u.logger.Debug("topic already checked out, attempting cancel", "topic", topicID, "by", by)
	if err := u.client.CancelCheckout(ctx, topicID, versionID); err != nil {
		u.logger.Debug("could not cancel existing checkout", "topic", topicID, "error", err)
	}
}

func (u *Uploader) cancel(ctx context.Context, topicID, versionID string) {
	if err := u.client.CancelCheckout(ctx, topicID, versionID); err != nil {
		u.logger.Warn("could not cancel checkout after failure", "topic", topicID, "error", err)
	}
}

func (u *Uploader) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
