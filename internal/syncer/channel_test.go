package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/ratelimit"
	"github.com/communityagent/chatsync/internal/storage"
)

func newChannelSyncer(client *mockClient, store *mockStore, maxRetries int) *channelSyncer {
	return &channelSyncer{
		client:           client,
		store:            store,
		budget:           ratelimit.New(time.Microsecond, 10*time.Millisecond, 0),
		buffer:           NewWriteBuffer(store, 1000, time.Hour, nil, zap.NewNop()),
		maxRetries:       maxRetries,
		maxRateLimitWait: time.Minute,
		retryBackoff:     time.Millisecond,
		logger:           zap.NewNop(),
	}
}

var (
	testServer  = chat.Server{ID: "s1", Name: "Team"}
	testChannel = chat.Channel{ID: "c1", Name: "general", Position: 0}
)

func TestChannelSyncSuccess(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	client.records[chanKey("s1", "c1")] = recordsN(5, 1, day)

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{Days: 7, Incremental: true})

	if !res.Success || res.Skipped {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.RecordCount != 5 {
		t.Errorf("record count = %d, want 5", res.RecordCount)
	}
	if res.LastRecordID != "5" || res.OldestRecordID != "1" {
		t.Errorf("id range = [%s, %s], want [1, 5]", res.OldestRecordID, res.LastRecordID)
	}
	if res.OldestDate != "2026-08-20" || res.NewestDate != "2026-08-20" {
		t.Errorf("date range = [%s, %s]", res.OldestDate, res.NewestDate)
	}

	// Records flowed through the buffer, not a private accumulator.
	if cs.buffer.PendingCount() != 5 {
		t.Errorf("buffer pending = %d, want 5", cs.buffer.PendingCount())
	}
}

func TestChannelSyncSkipsWhenUpToDate(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	client.records[chanKey("s1", "c1")] = recordsN(3, 1, day)

	today := time.Now().UTC().Format("2006-01-02")
	store.cursors[storeKey("s1", "general")] = cursorWith("3", today)

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{Incremental: true})

	if !res.Skipped || !res.Success {
		t.Fatalf("result = %+v, want skipped success", res)
	}
	if res.SkipReason != "already up to date" {
		t.Errorf("skip reason = %q", res.SkipReason)
	}
	if res.RecordCount != 0 {
		t.Errorf("record count = %d, want 0", res.RecordCount)
	}
	if client.calls("s1", "c1") != 0 {
		t.Error("fetch attempted for an up-to-date channel")
	}
}

func TestChannelSyncIncrementalResumesFromCursor(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	client.records[chanKey("s1", "c1")] = recordsN(10, 1, day)
	store.cursors[storeKey("s1", "general")] = cursorWith("7", "2020-01-01")

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{Incremental: true})

	if res.RecordCount != 3 {
		t.Errorf("record count = %d, want 3 (records after cursor 7)", res.RecordCount)
	}
	if res.OldestRecordID != "8" {
		t.Errorf("oldest fetched = %s, want 8", res.OldestRecordID)
	}
}

func TestChannelSyncRateLimitDoesNotConsumeRetries(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	key := chanKey("s1", "c1")
	client.records[key] = recordsN(2, 1, day)
	client.errQueue[key] = []error{
		&chat.RateLimitError{RetryAfter: time.Millisecond},
		&chat.RateLimitError{RetryAfter: time.Millisecond},
	}

	// Zero generic-retry budget: only the rate-limit path may retry.
	cs := newChannelSyncer(client, store, 0)
	res := cs.sync(context.Background(), testServer, testChannel, Options{})

	if !res.Success {
		t.Fatalf("result = %+v, want success after rate-limit retries", res)
	}
	if client.calls("s1", "c1") != 3 {
		t.Errorf("fetch calls = %d, want 3 (two rate limits, then success)", client.calls("s1", "c1"))
	}
}

func TestChannelSyncRateLimitWaitBudget(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	key := chanKey("s1", "c1")
	client.errAlway[key] = &chat.RateLimitError{RetryAfter: 5 * time.Millisecond}

	cs := newChannelSyncer(client, store, 3)
	cs.maxRateLimitWait = 12 * time.Millisecond

	res := cs.sync(context.Background(), testServer, testChannel, Options{})
	if res.Success {
		t.Fatal("expected failure once the cumulative rate-limit wait budget is exhausted")
	}
	if !strings.Contains(res.Error, "rate limited") {
		t.Errorf("error = %q, want rate-limit wait budget message", res.Error)
	}
}

func TestChannelSyncRetriesThenFails(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	key := chanKey("s1", "c1")
	client.errAlway[key] = errors.New("connection reset")

	cs := newChannelSyncer(client, store, 2)
	cs.retryBackoff = 10 * time.Millisecond
	start := time.Now()
	res := cs.sync(context.Background(), testServer, testChannel, Options{})

	if res.Success {
		t.Fatal("expected failure after retry exhaustion")
	}
	if !strings.Contains(res.Error, "failed after 2 retries") || !strings.Contains(res.Error, "connection reset") {
		t.Errorf("error = %q, want composed retry-exhaustion message", res.Error)
	}
	if client.calls("s1", "c1") != 3 {
		t.Errorf("fetch calls = %d, want 3 (initial + 2 retries)", client.calls("s1", "c1"))
	}
	// Linear backoff: 1 + 2 units between attempts.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed %s, want >= 30ms of linear backoff", elapsed)
	}
}

func TestChannelSyncPermissionErrorNotRetried(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	key := chanKey("s1", "c1")
	client.errAlway[key] = chat.ErrForbidden

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{})

	if res.Success {
		t.Fatal("expected failure on permission error")
	}
	if client.calls("s1", "c1") != 1 {
		t.Errorf("fetch calls = %d, want 1 (permission errors are not retried)", client.calls("s1", "c1"))
	}
}

func TestChannelSyncResumesAfterPartialFetch(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	key := chanKey("s1", "c1")
	client.records[key] = recordsN(6, 1, day)
	client.errQueue[key] = []error{errors.New("mid-stream failure")}
	client.failAt[key] = 3 // yield 3 records, then fail

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{})

	if !res.Success {
		t.Fatalf("result = %+v, want success after resume", res)
	}
	if res.RecordCount != 6 {
		t.Errorf("record count = %d, want 6 with no duplicates", res.RecordCount)
	}

	// The buffered stream must be 1..6 exactly once, in order.
	if _, err := cs.buffer.FlushAll(); err != nil {
		t.Fatal(err)
	}
	got := store.allRecords("s1", "general")
	if len(got) != 6 {
		t.Fatalf("stored %d records, want 6", len(got))
	}
	for i, r := range got {
		if want := recordsN(6, 1, day)[i].ID; r.ID != want {
			t.Fatalf("position %d has ID %s, want %s", i, r.ID, want)
		}
	}
}

func TestChannelSyncHonorsLimit(t *testing.T) {
	client := newMockClient()
	store := newMockStore()
	client.records[chanKey("s1", "c1")] = recordsN(50, 1, day)

	cs := newChannelSyncer(client, store, 3)
	res := cs.sync(context.Background(), testServer, testChannel, Options{Limit: 10})

	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.RecordCount != 10 {
		t.Errorf("record count = %d, want limit of 10", res.RecordCount)
	}
	if res.LastRecordID != "10" {
		t.Errorf("last record = %s, want 10", res.LastRecordID)
	}
}

func cursorWith(lastID, newestDate string) storage.CursorUpdate {
	return storage.CursorUpdate{LastRecordID: lastID, NewestDate: newestDate}
}
