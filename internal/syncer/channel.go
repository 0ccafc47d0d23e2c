package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/ratelimit"
	"github.com/communityagent/chatsync/internal/storage"
)

// errLimitReached stops a fetch early once the per-channel record limit is
// hit. It is a control signal, not a failure.
var errLimitReached = errors.New("record limit reached")

// channelSyncer syncs exactly one channel end to end: cursor lookup,
// fetch with retry, buffering, and result reporting. It always produces a
// ChannelResult; no outcome escapes as an error.
type channelSyncer struct {
	client           chat.Client
	store            storage.Store
	budget           *ratelimit.Budget
	buffer           *WriteBuffer
	maxRetries       int
	maxRateLimitWait time.Duration
	// retryBackoff is the linear backoff unit between generic-error retries
	// (attempt N sleeps N * retryBackoff).
	retryBackoff time.Duration
	progress     ProgressFunc
	logger       *zap.Logger
}

func (cs *channelSyncer) sync(ctx context.Context, server chat.Server, ch chat.Channel, opts Options) ChannelResult {
	result := ChannelResult{
		ServerID:    server.ID,
		ServerName:  server.Name,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
	}
	key := storage.SanitizeName(ch.Name)

	if opts.Incremental && cs.store.IsChannelUpToDate(server.ID, key) {
		result.Success = true
		result.Skipped = true
		result.SkipReason = "already up to date"
		cs.report("  #%s: skipped (already up to date)", ch.Name)
		return result
	}

	afterID := ""
	if opts.Incremental {
		afterID = cs.store.LastRecordID(server.ID, key)
	}

	yield := func(r chat.Record) error {
		if opts.Limit > 0 && result.RecordCount >= opts.Limit {
			return errLimitReached
		}
		if err := cs.buffer.Enqueue(server.ID, server.Name, ch.ID, ch.Name, r); err != nil {
			return err
		}
		result.RecordCount++
		result.LastRecordID = r.ID
		if result.OldestRecordID == "" {
			result.OldestRecordID = r.ID
		}
		d := r.Date()
		if result.OldestDate == "" || d < result.OldestDate {
			result.OldestDate = d
		}
		if d > result.NewestDate {
			result.NewestDate = d
		}
		// Resume point: a retried fetch picks up after the last record
		// already buffered, so partial progress is never re-fetched.
		afterID = r.ID
		return nil
	}

	var (
		attempts       int
		lastErr        error
		totalRateLimit time.Duration
	)

	for {
		if err := cs.budget.Wait(ctx); err != nil {
			return cs.failed(result, fmt.Errorf("canceled: %w", err))
		}

		err := cs.client.FetchRecords(ctx, server.ID, ch.ID, chat.FetchOptions{
			AfterID:      afterID,
			LookbackDays: opts.Days,
			Limit:        opts.Limit,
		}, yield)

		switch {
		case err == nil, errors.Is(err, errLimitReached):
			cs.budget.OnSuccess()
			result.Success = true
			cs.report("  #%s: %d records", ch.Name, result.RecordCount)
			return result

		case ctx.Err() != nil:
			return cs.failed(result, fmt.Errorf("canceled: %w", ctx.Err()))

		case isRateLimit(err):
			rl, _ := chat.AsRateLimit(err)
			cs.budget.OnRateLimit(rl.RetryAfter)
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = cs.budget.CurrentDelay()
			}
			totalRateLimit += wait
			if cs.maxRateLimitWait > 0 && totalRateLimit > cs.maxRateLimitWait {
				return cs.failed(result, fmt.Errorf("rate limited past cumulative wait budget (%s): %w", cs.maxRateLimitWait, err))
			}
			cs.report("  #%s: rate limited, retrying in %s", ch.Name, wait)
			if serr := sleepCtx(ctx, wait); serr != nil {
				return cs.failed(result, fmt.Errorf("canceled: %w", serr))
			}
			// Rate limits are expected; they do not consume the retry budget.
			continue

		case errors.Is(err, chat.ErrForbidden), errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrAuthFailed):
			// Retrying cannot change a permissions outcome.
			cs.budget.OnError()
			return cs.failed(result, err)

		default:
			cs.budget.OnError()
			lastErr = err
			attempts++
			if attempts > cs.maxRetries {
				return cs.failed(result, fmt.Errorf("failed after %d retries: %w", cs.maxRetries, lastErr))
			}
			cs.logger.Debug("channel fetch retry",
				zap.String("channel", ch.Name),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			backoff := cs.retryBackoff
			if backoff <= 0 {
				backoff = time.Second
			}
			if serr := sleepCtx(ctx, time.Duration(attempts)*backoff); serr != nil {
				return cs.failed(result, fmt.Errorf("canceled: %w", serr))
			}
		}
	}
}

func (cs *channelSyncer) failed(result ChannelResult, err error) ChannelResult {
	result.Success = false
	result.Error = err.Error()
	cs.logger.Warn("channel sync failed",
		zap.String("channel", result.ChannelName),
		zap.String("server", result.ServerName),
		zap.Error(err),
	)
	return result
}

func (cs *channelSyncer) report(format string, args ...any) {
	if cs.progress != nil {
		cs.progress(fmt.Sprintf(format, args...))
	}
}

func isRateLimit(err error) bool {
	_, ok := chat.AsRateLimit(err)
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
