// Package syncer implements the multi-server parallel sync core: a
// two-level bounded fan-out (servers, then channels per server) over a
// shared rate budget, with batched writes and per-channel incremental
// cursors. Failures are data from the channel level upward; only pre-fan-out
// connection problems abort a run.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/ratelimit"
	"github.com/communityagent/chatsync/internal/storage"
)

// Settings are the orchestrator's concurrency and batching knobs.
type Settings struct {
	MaxServersParallel  int
	MaxChannelsParallel int
	MaxChannelsPerUnit  int
	PriorityChannels    []string
	MaxRetries          int
	// MaxRateLimitWait caps the cumulative rate-limit wait per channel pass;
	// past it the channel fails instead of stalling its slot forever.
	MaxRateLimitWait time.Duration
	BatchSize        int
	FlushInterval    time.Duration
	Progress         ProgressFunc
}

func (s Settings) withDefaults() Settings {
	if s.MaxServersParallel <= 0 {
		s.MaxServersParallel = 5
	}
	if s.MaxChannelsParallel <= 0 {
		s.MaxChannelsParallel = 10
	}
	if s.MaxChannelsPerUnit <= 0 {
		s.MaxChannelsPerUnit = 10
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.MaxRateLimitWait <= 0 {
		s.MaxRateLimitWait = 5 * time.Minute
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = 5 * time.Second
	}
	return s
}

// Orchestrator is the top-level fan-out across servers. It owns the shared
// WriteBuffer's lifecycle and produces the aggregate Summary.
type Orchestrator struct {
	client   chat.Client
	store    storage.Store
	budget   *ratelimit.Budget
	buffer   *WriteBuffer
	settings Settings
	logger   *zap.Logger
}

func NewOrchestrator(client chat.Client, store storage.Store, budget *ratelimit.Budget, settings Settings, logger *zap.Logger) *Orchestrator {
	settings = settings.withDefaults()
	return &Orchestrator{
		client:   client,
		store:    store,
		budget:   budget,
		buffer:   NewWriteBuffer(store, settings.BatchSize, settings.FlushInterval, settings.Progress, logger),
		settings: settings,
		logger:   logger,
	}
}

// Buffer exposes the shared write buffer, mainly for shutdown accounting.
func (o *Orchestrator) Buffer() *WriteBuffer { return o.buffer }

// SyncServers syncs every server under the configured concurrency bounds and
// returns the aggregate summary. Individual server and channel failures are
// captured in the summary, never returned as an error; the run itself only
// errors if it cannot start.
func (o *Orchestrator) SyncServers(ctx context.Context, servers []chat.Server, opts Options) *Summary {
	start := time.Now()
	runID := uuid.New().String()[:8]

	summary := &Summary{
		RunID:        runID,
		TotalServers: len(servers),
	}

	o.logger.Info("starting multi-server sync",
		zap.String("run_id", runID),
		zap.Int("servers", len(servers)),
		zap.Int("max_servers_parallel", o.settings.MaxServersParallel),
		zap.Bool("incremental", opts.Incremental),
	)
	o.report("Starting parallel sync of %d servers...", len(servers))

	// Progressive visibility during a long run: partial results land on disk
	// every flush interval. The stop below drains whatever remains no matter
	// how the fan-out exits.
	o.buffer.StartPeriodicFlush()
	defer func() {
		if err := o.buffer.StopPeriodicFlush(); err != nil {
			o.logger.Warn("final flush error", zap.Error(err))
		}
	}()

	results := o.fanOut(ctx, servers, opts)

	for _, r := range results {
		if r.Success {
			summary.ServersSynced++
		} else {
			summary.ServersFailed++
		}
		summary.TotalRecords += r.RecordsFetched
		summary.TotalChannels += r.ChannelsSynced
	}
	summary.Servers = results
	summary.Duration = time.Since(start)

	o.logger.Info("multi-server sync complete",
		zap.String("run_id", runID),
		zap.Int("servers_synced", summary.ServersSynced),
		zap.Int("servers_failed", summary.ServersFailed),
		zap.Int("total_records", summary.TotalRecords),
		zap.Duration("duration", summary.Duration),
	)
	o.report("Sync complete: %d records from %d channels across %d/%d servers in %s",
		summary.TotalRecords, summary.TotalChannels, summary.ServersSynced,
		summary.TotalServers, summary.Duration.Round(time.Second))

	return summary
}

// fanOut runs server syncs through the outer bounded worker pool. Server
// units isolate their own failures, so every server comes back as exactly
// one result.
func (o *Orchestrator) fanOut(ctx context.Context, servers []chat.Server, opts Options) []ServerResult {
	if len(servers) == 0 {
		return nil
	}

	unit := &serverSyncer{
		client: o.client,
		store:  o.store,
		buffer: o.buffer,
		channels: &channelSyncer{
			client:           o.client,
			store:            o.store,
			budget:           o.budget,
			buffer:           o.buffer,
			maxRetries:       o.settings.MaxRetries,
			maxRateLimitWait: o.settings.MaxRateLimitWait,
			progress:         o.settings.Progress,
			logger:           o.logger,
		},
		maxParallel: o.settings.MaxChannelsParallel,
		maxChannels: o.settings.MaxChannelsPerUnit,
		priority:    o.settings.PriorityChannels,
		progress:    o.settings.Progress,
		logger:      o.logger,
	}

	workers := o.settings.MaxServersParallel
	if workers > len(servers) {
		workers = len(servers)
	}

	jobs := make(chan chat.Server, len(servers))
	results := make(chan ServerResult, len(servers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for server := range jobs {
				results <- unit.sync(ctx, server, opts)
			}
		}()
	}

	for _, s := range servers {
		jobs <- s
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]ServerResult, 0, len(servers))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

func (o *Orchestrator) report(format string, args ...any) {
	if o.settings.Progress != nil {
		o.settings.Progress(fmt.Sprintf(format, args...))
	}
}
