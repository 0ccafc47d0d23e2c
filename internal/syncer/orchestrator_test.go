package syncer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/ratelimit"
)

func testSettings() Settings {
	return Settings{
		MaxServersParallel:  3,
		MaxChannelsParallel: 4,
		MaxChannelsPerUnit:  10,
		MaxRetries:          1,
		BatchSize:           1000,
		FlushInterval:       time.Hour,
	}
}

func testBudget() *ratelimit.Budget {
	return ratelimit.New(time.Microsecond, 10*time.Millisecond, 0)
}

func twoServerFixture() (*mockClient, *mockStore, []chat.Server) {
	client := newMockClient()
	store := newMockStore()

	client.channels["s1"] = []chat.Channel{
		{ID: "c1", Name: "general", Position: 0},
		{ID: "c2", Name: "random", Position: 1},
	}
	client.channels["s2"] = []chat.Channel{
		{ID: "c3", Name: "general", Position: 0},
	}
	now := time.Now().UTC().Truncate(time.Hour)
	client.records[chanKey("s1", "c1")] = recordsN(5, 1, now)
	client.records[chanKey("s1", "c2")] = recordsN(3, 100, now)
	client.records[chanKey("s2", "c3")] = recordsN(4, 200, now)

	servers := []chat.Server{
		{ID: "s1", Name: "Alpha"},
		{ID: "s2", Name: "Beta"},
	}
	return client, store, servers
}

func TestSyncServersSummary(t *testing.T) {
	client, store, servers := twoServerFixture()
	o := NewOrchestrator(client, store, testBudget(), testSettings(), zap.NewNop())

	summary := o.SyncServers(context.Background(), servers, Options{Days: 7, Incremental: true})

	if summary.TotalServers != 2 || summary.ServersSynced != 2 || summary.ServersFailed != 0 {
		t.Fatalf("server counts = %d/%d/%d, want 2 synced, 0 failed",
			summary.TotalServers, summary.ServersSynced, summary.ServersFailed)
	}
	if summary.TotalRecords != 12 {
		t.Errorf("total records = %d, want 12", summary.TotalRecords)
	}
	if summary.TotalChannels != 3 {
		t.Errorf("total channels = %d, want 3", summary.TotalChannels)
	}
	if summary.RunID == "" {
		t.Error("summary missing run ID")
	}

	// Shutdown drained the buffer: everything is in the store.
	if o.Buffer().PendingCount() != 0 {
		t.Errorf("pending = %d after run, want 0", o.Buffer().PendingCount())
	}
	if got := len(store.allRecords("s1", "general")); got != 5 {
		t.Errorf("stored %d records for s1/general, want 5", got)
	}
}

func TestSyncServersIdempotentSkipOnSecondRun(t *testing.T) {
	client, store, servers := twoServerFixture()
	o := NewOrchestrator(client, store, testBudget(), testSettings(), zap.NewNop())
	opts := Options{Days: 7, Incremental: true}

	first := o.SyncServers(context.Background(), servers, opts)
	if first.TotalRecords != 12 {
		t.Fatalf("first run fetched %d records, want 12", first.TotalRecords)
	}

	second := o.SyncServers(context.Background(), servers, opts)
	if second.TotalRecords != 0 {
		t.Errorf("second run fetched %d records, want 0", second.TotalRecords)
	}
	for _, sv := range second.Servers {
		for _, ch := range sv.Channels {
			if !ch.Skipped {
				t.Errorf("%s/#%s not skipped on second run", sv.ServerName, ch.ChannelName)
			}
		}
	}
}

func TestSyncServersCursorAdvancesAcrossRuns(t *testing.T) {
	client, store, servers := twoServerFixture()
	o := NewOrchestrator(client, store, testBudget(), testSettings(), zap.NewNop())

	// Old records so the second run is not skipped as up-to-date.
	old := time.Now().UTC().AddDate(0, 0, -3)
	client.records[chanKey("s1", "c1")] = recordsN(5, 1, old)

	o.SyncServers(context.Background(), servers, Options{Days: 7, Incremental: true})
	if got := store.LastRecordID("s1", "general"); got != "5" {
		t.Fatalf("cursor after first run = %q, want 5", got)
	}

	// New records arrive; an incremental run fetches only those.
	client.mu.Lock()
	client.records[chanKey("s1", "c1")] = recordsN(8, 1, old)
	client.mu.Unlock()

	summary := o.SyncServers(context.Background(), []chat.Server{servers[0]}, Options{Days: 7, Incremental: true})

	var general ChannelResult
	for _, ch := range summary.Servers[0].Channels {
		if ch.ChannelName == "general" {
			general = ch
		}
	}
	if general.RecordCount != 3 {
		t.Errorf("incremental run fetched %d records for general, want 3", general.RecordCount)
	}
	if got := store.LastRecordID("s1", "general"); got != "8" {
		t.Errorf("cursor after second run = %q, want 8 (monotonic advance)", got)
	}
}

func TestSyncServersServerFailureIsolated(t *testing.T) {
	client, store, servers := twoServerFixture()
	delete(client.channels, "s2") // listing s2 now fails

	o := NewOrchestrator(client, store, testBudget(), testSettings(), zap.NewNop())
	summary := o.SyncServers(context.Background(), servers, Options{Days: 7})

	if summary.ServersSynced != 1 || summary.ServersFailed != 1 {
		t.Fatalf("synced/failed = %d/%d, want 1/1", summary.ServersSynced, summary.ServersFailed)
	}
	if summary.TotalRecords != 8 {
		t.Errorf("surviving server fetched %d records, want 8", summary.TotalRecords)
	}
	if errs := summary.Errors(); len(errs) == 0 {
		t.Error("summary does not enumerate the failed server")
	}
}

func TestSyncServersCancellationStillFlushes(t *testing.T) {
	client, store, servers := twoServerFixture()
	client.fetchDelay = 10 * time.Millisecond

	settings := testSettings()
	settings.FlushInterval = time.Hour // only the shutdown drain may flush
	o := NewOrchestrator(client, store, testBudget(), settings, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	o.SyncServers(ctx, servers, Options{Days: 7})

	// Whatever was buffered before cancellation reached the store; nothing
	// is stranded in memory.
	if o.Buffer().PendingCount() != 0 {
		t.Errorf("pending = %d after cancelled run, want 0", o.Buffer().PendingCount())
	}
}

func TestSyncServersEmptyList(t *testing.T) {
	client, store, _ := twoServerFixture()
	o := NewOrchestrator(client, store, testBudget(), testSettings(), zap.NewNop())

	summary := o.SyncServers(context.Background(), nil, Options{})
	if summary.TotalServers != 0 || summary.ServersFailed != 0 {
		t.Errorf("empty run produced %+v", summary)
	}
	if summary.SuccessRate() != 100 {
		t.Errorf("success rate = %f, want 100 for empty run", summary.SuccessRate())
	}
}
