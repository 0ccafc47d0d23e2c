package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/storage"
)

// serverSyncer syncs all policy-selected channels of one server under a
// bounded channel-concurrency gate and finalizes cursors once per server.
type serverSyncer struct {
	client      chat.Client
	store       storage.Store
	buffer      *WriteBuffer
	channels    *channelSyncer
	maxParallel int
	maxChannels int
	priority    []string
	progress    ProgressFunc
	logger      *zap.Logger
}

// sync never lets an error escape: any failure, including a panic in a
// worker, comes back as a failed ServerResult so siblings are unaffected.
func (ss *serverSyncer) sync(ctx context.Context, server chat.Server, opts Options) (result ServerResult) {
	start := time.Now()
	result = ServerResult{ServerID: server.ID, ServerName: server.Name}

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			ss.logger.Error("server sync panicked",
				zap.String("server", server.Name),
				zap.Any("panic", r),
			)
		}
	}()

	ss.report("[%s] Starting sync...", server.Name)

	if err := ss.store.SaveServerMetadata(server); err != nil {
		ss.logger.Warn("saving server metadata failed",
			zap.String("server", server.Name), zap.Error(err))
	}

	all, err := ss.client.ListChannels(ctx, server.ID)
	if err != nil {
		result.Error = fmt.Sprintf("listing channels: %v", err)
		return result
	}

	selected := orderChannels(all, ss.priority, ss.maxChannels)
	if len(all) > len(selected) {
		ss.report("[%s] Limiting to %d of %d channels", server.Name, len(selected), len(all))
	}

	channelResults := ss.fanOut(ctx, server, selected, opts)

	for _, cr := range channelResults {
		switch {
		case cr.Skipped:
			result.ChannelsSkipped++
		case cr.Success:
			result.ChannelsSynced++
			result.RecordsFetched += cr.RecordCount
		default:
			result.ChannelsFailed++
		}
	}
	result.Channels = channelResults

	// One finalize call per server, batching every successful channel's
	// cursor write.
	mode := storage.ModeFull
	if opts.Incremental {
		mode = storage.ModeIncremental
	}
	if err := ss.buffer.FinalizeCursors(channelResults, mode); err != nil {
		ss.logger.Warn("cursor finalize failed",
			zap.String("server", server.Name), zap.Error(err))
	}

	result.Success = true
	ss.report("[%s] Done: %d records, %d channels in %s",
		server.Name, result.RecordsFetched, result.ChannelsSynced, time.Since(start).Round(time.Second))
	return result
}

// fanOut runs channel syncs through a bounded worker pool. Every channel
// yields exactly one result; a worker panic converts to a failed result for
// that channel without cancelling its siblings.
func (ss *serverSyncer) fanOut(ctx context.Context, server chat.Server, channels []chat.Channel, opts Options) []ChannelResult {
	if len(channels) == 0 {
		return nil
	}

	workers := ss.maxParallel
	if workers > len(channels) {
		workers = len(channels)
	}

	jobs := make(chan chat.Channel, len(channels))
	results := make(chan ChannelResult, len(channels))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				results <- ss.syncOne(ctx, server, ch, opts)
			}
		}()
	}

	for _, ch := range channels {
		jobs <- ch
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]ChannelResult, 0, len(channels))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

func (ss *serverSyncer) syncOne(ctx context.Context, server chat.Server, ch chat.Channel, opts Options) (result ChannelResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ChannelResult{
				ServerID:    server.ID,
				ServerName:  server.Name,
				ChannelID:   ch.ID,
				ChannelName: ch.Name,
				Error:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return ss.channels.sync(ctx, server, ch, opts)
}

func (ss *serverSyncer) report(format string, args ...any) {
	if ss.progress != nil {
		ss.progress(fmt.Sprintf(format, args...))
	}
}

// orderChannels applies the deterministic selection policy: configured
// priority names sort first (in their configured order), everything else by
// remote position, then the list is truncated to maxChannels. Priority
// channels are never starved by truncation on servers with many channels.
func orderChannels(channels []chat.Channel, priority []string, maxChannels int) []chat.Channel {
	rank := func(ch chat.Channel) int {
		name := strings.ToLower(ch.Name)
		for i, p := range priority {
			if name == strings.ToLower(p) {
				return -1000 + i
			}
		}
		return ch.Position
	}

	sorted := make([]chat.Channel, len(channels))
	copy(sorted, channels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank(sorted[i]) < rank(sorted[j])
	})

	if maxChannels > 0 && len(sorted) > maxChannels {
		sorted = sorted[:maxChannels]
	}
	return sorted
}
