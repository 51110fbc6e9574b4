package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/postpulse/postpulse/internal/metrics"
	"github.com/postpulse/postpulse/internal/timeline"
	"github.com/postpulse/postpulse/pkg/types"
)

// History is the normalized output of one fetch.
type History struct {
	Account    string
	Timestamps []types.Timestamp
	Report     types.FetchReport
}

// Fetch walks account's timeline backward and returns the timestamps of at
// most PageCount*PageSize distinct posts.
func (e *Engine) Fetch(ctx context.Context, account string) (*History, error) {
	start := e.now()
	h := &History{
		Account: account,
		Report: types.FetchReport{
			RunID:     uuid.NewString(),
			StartedAt: start,
		},
	}
	rep := &h.Report

	seen := make(map[int64]struct{}, e.cfg.Ceiling())
	b := newBackoff(e.cfg.Retry)
	var cursor *int64

	for i := 0; i < e.cfg.PageCount; i++ {
		page := types.PageResult{Index: i, Cursor: cursor}

		posts, attempts, err := e.fetchPage(ctx, b, account, cursor)
		page.Attempts = attempts
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("engine: fetch %s: %w", account, ctxErr)
			}
			e.metrics.PageFetched(metrics.PageFailed)
			if i == 0 && errors.Is(err, timeline.ErrAccountNotFound) {
				return nil, fmt.Errorf("engine: fetch %s: %w", account, err)
			}
			slog.Warn("engine: page failed, stopping fetch",
				"account", account, "run_id", rep.RunID, "page", i,
				"attempts", attempts, "error", err)
			page.Error = err.Error()
			rep.Pages = append(rep.Pages, page)
			rep.Failed = true
			break
		}
		b.reset()

		if len(posts) > e.cfg.PageSize {
			posts = posts[:e.cfg.PageSize]
		}
		page.Received = len(posts)
		if len(posts) == 0 {
			e.metrics.PageFetched(metrics.PageEmpty)
			rep.Pages = append(rep.Pages, page)
			rep.Complete = true
			break
		}

		page.MinID = posts[0].ID
		for _, p := range posts {
			if p.ID < page.MinID {
				page.MinID = p.ID
			}
			if _, dup := seen[p.ID]; dup {
				page.Duplicates++
				continue
			}
			seen[p.ID] = struct{}{}

			ts, err := e.norm.Normalize(p.CreatedAt)
			if err != nil {
				page.ParseErrors++
				slog.Debug("engine: skipping post", "account", account, "id", p.ID, "error", err)
				continue
			}
			h.Timestamps = append(h.Timestamps, ts)
			page.Records++
		}

		e.metrics.PageFetched(metrics.PageOK)
		e.metrics.RecordSkipped(metrics.SkipDuplicate, page.Duplicates)
		e.metrics.RecordSkipped(metrics.SkipParse, page.ParseErrors)
		rep.Pages = append(rep.Pages, page)
		rep.Duplicates += page.Duplicates
		rep.ParseErrors += page.ParseErrors

		// Only the boundary post came back: nothing older exists.
		if page.Received == page.Duplicates {
			rep.Complete = true
			break
		}

		next := page.MinID
		cursor = &next
		if i == e.cfg.PageCount-1 {
			rep.Truncated = true
		}
	}

	rep.Posts = len(h.Timestamps)
	rep.Duration = e.now().Sub(start)
	return h, nil
}

// fetchPage requests one page, retrying transient failures with b. It
// returns the number of attempts made.
func (e *Engine) fetchPage(ctx context.Context, b *backoff, account string, cursor *int64) ([]timeline.Post, int, error) {
	for attempt := 1; ; attempt++ {
		posts, err := e.pages.FetchPage(ctx, account, cursor, e.cfg.PageSize)
		if err == nil {
			return posts, attempt, nil
		}
		if attempt >= e.cfg.Retry.MaxAttempts || !retryable(ctx, err) {
			return nil, attempt, err
		}

		d := b.next()
		slog.Warn("engine: page request failed, retrying",
			"account", account, "attempt", attempt, "backoff", d, "error", err)
		e.metrics.PageRetried()
		if err := e.sleep(ctx, d); err != nil {
			return nil, attempt, err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, timeline.ErrCircuitOpen) {
		return false
	}
	return !timeline.Permanent(err)
}
