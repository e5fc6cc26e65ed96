package askdelphi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the download pool width when none is configured.
const DefaultWorkers = 10

// ExportOptions controls a bulk download.
type ExportOptions struct {
	// IncludeParts fetches every topic's content parts. When false the
	// export carries topic metadata only.
	IncludeParts bool

	// Workers bounds the part-fetch pool. 1 means fully sequential.
	Workers int

	// TopicTypeIDs restricts the export to the given topic types.
	TopicTypeIDs []string

	// Delay is an optional pause between part fetches within one worker,
	// to stay polite toward the server.
	Delay time.Duration
}

// Exporter performs bulk downloads into snapshot documents.
type Exporter struct {
	client *Client
	creds  *Credentials
	clock  Clock
	logger Logger
}

// NewExporter creates an Exporter.
func NewExporter(client *Client, creds *Credentials, clock Clock, logger Logger) *Exporter {
	return &Exporter{client: client, creds: creds, clock: clock, logger: logger}
}

// Export downloads the content design and all topics (optionally with
// parts) into a snapshot. A single topic's part-fetch failure is recorded
// on its entry and logged, never fatal to the batch. The returned snapshot
// serializes identically for any worker count.
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*Snapshot, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	e.logger.Info("export started", "workers", workers, "include_parts", opts.IncludeParts)

	design, err := e.client.GetContentDesign(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("content design fetched", "topic_types", len(design.TopicTypes))

	summaries, err := e.client.GetAllTopics(ctx, opts.TopicTypeIDs)
	if err != nil {
		return nil, err
	}

	topics := make(map[string]Topic, len(summaries))

	if opts.IncludeParts {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		for _, summary := range summaries {
			g.Go(func() error {
				entry := e.fetchTopic(gctx, summary)
				if entry == nil {
					return nil
				}
				mu.Lock()
				topics[entry.ID] = *entry
				mu.Unlock()
				if opts.Delay > 0 {
					select {
					case <-time.After(opts.Delay):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		// Workers only return errors on context cancellation; per-topic
		// failures are folded into the entries.
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("export cancelled: %w", err)
		}
	} else {
		for _, summary := range summaries {
			if summary.ID() == "" {
				e.logger.Warn("skipping topic without ID", "title", summary.DisplayTitle())
				continue
			}
			topics[summary.ID()] = NewTopicEntry(summary, nil)
		}
	}

	snap := &Snapshot{
		Metadata: NewSnapshotMetadata(e.creds, len(topics), opts.IncludeParts, e.clock.Now()),
		ContentDesign: SnapshotDesign{
			TopicTypes:     design.TopicTypes,
			Relations:      design.Relations,
			TagHierarchies: design.TagHierarchies,
		},
		Topics: topics,
	}

	e.logger.Info("export finished", "topics", len(topics))
	return snap, nil
}

// fetchTopic downloads one topic's parts and builds its snapshot entry.
// Returns nil for rows that carry no usable identity.
func (e *Exporter) fetchTopic(ctx context.Context, summary TopicSummary) *Topic {
	id, versionID := summary.ID(), summary.VersionID()
	if id == "" || versionID == "" {
		e.logger.Warn("skipping topic without ID or version", "title", summary.DisplayTitle())
		return nil
	}

	parts, err := e.client.GetTopicParts(ctx, id, versionID)
	if err != nil {
		e.logger.Error("part fetch failed", "topic", id, "error", err)
		entry := NewTopicEntry(summary, nil)
		entry.FetchError = err.Error()
		return &entry
	}

	entry := NewTopicEntry(summary, parts)
	e.logger.Debug("topic downloaded", "topic", id, "parts", len(parts))
	return &entry
}
