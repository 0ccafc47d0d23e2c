package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/storage"
)

// mockStore is an in-memory storage.Store that records every append in call
// order and tracks cursor state per channel key.
type mockStore struct {
	mu            sync.Mutex
	appends       map[string][][]chat.Record
	cursors       map[string]storage.CursorUpdate
	finalizeCalls int
	appendErr     error
}

func newMockStore() *mockStore {
	return &mockStore{
		appends: make(map[string][][]chat.Record),
		cursors: make(map[string]storage.CursorUpdate),
	}
}

func storeKey(serverID, channelKey string) string {
	return serverID + ":" + channelKey
}

func (m *mockStore) IsChannelUpToDate(serverID, channelKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cursors[storeKey(serverID, channelKey)]
	if !ok {
		return false
	}
	return cur.NewestDate >= time.Now().UTC().Format("2006-01-02")
}

func (m *mockStore) LastRecordID(serverID, channelKey string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[storeKey(serverID, channelKey)].LastRecordID
}

func (m *mockStore) AppendRecords(serverID, serverName, channelID, channelName string, records []chat.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	key := storeKey(serverID, storage.SanitizeName(channelName))
	batch := make([]chat.Record, len(records))
	copy(batch, records)
	m.appends[key] = append(m.appends[key], batch)
	return nil
}

func (m *mockStore) FinalizeCursor(u storage.CursorUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	key := storeKey(u.ServerID, storage.SanitizeName(u.ChannelName))
	cur := m.cursors[key]
	cur.ServerID = u.ServerID
	cur.ChannelName = u.ChannelName
	cur.RecordCount += u.RecordCount
	if cur.LastRecordID == "" || numLess(cur.LastRecordID, u.LastRecordID) {
		cur.LastRecordID = u.LastRecordID
	}
	if u.NewestDate > cur.NewestDate {
		cur.NewestDate = u.NewestDate
	}
	m.cursors[key] = cur
	return nil
}

func (m *mockStore) SaveServerMetadata(s chat.Server) error { return nil }

// allRecords returns the concatenation of every flushed batch for a channel,
// in flush order.
func (m *mockStore) allRecords(serverID, channelKey string) []chat.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Record
	for _, batch := range m.appends[storeKey(serverID, channelKey)] {
		out = append(out, batch...)
	}
	return out
}

func numLess(a, b string) bool {
	na, _ := strconv.Atoi(a)
	nb, _ := strconv.Atoi(b)
	return na < nb
}

// mockClient is a scriptable chat.Client. Errors queued per channel are
// returned one per fetch attempt before the fetch succeeds; errAlways makes
// every attempt fail. failAfter > 0 yields that many records before the
// scripted error, to exercise mid-fetch resume.
type mockClient struct {
	mu       sync.Mutex
	channels map[string][]chat.Channel
	records  map[string][]chat.Record
	errQueue map[string][]error
	errAlway map[string]error
	failAt   map[string]int

	fetchCalls map[string]int
	fetchDelay time.Duration

	inflight    int
	maxInflight int
}

func newMockClient() *mockClient {
	return &mockClient{
		channels:   make(map[string][]chat.Channel),
		records:    make(map[string][]chat.Record),
		errQueue:   make(map[string][]error),
		errAlway:   make(map[string]error),
		failAt:     make(map[string]int),
		fetchCalls: make(map[string]int),
	}
}

func chanKey(serverID, channelID string) string { return serverID + ":" + channelID }

func (m *mockClient) Connect(ctx context.Context) error { return nil }
func (m *mockClient) Close() error                      { return nil }

func (m *mockClient) ListServers(ctx context.Context) ([]chat.Server, error) { return nil, nil }

func (m *mockClient) ListChannels(ctx context.Context, serverID string) ([]chat.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans, ok := m.channels[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", serverID, chat.ErrNotFound)
	}
	return chans, nil
}

func (m *mockClient) FetchRecords(ctx context.Context, serverID, channelID string, opts chat.FetchOptions, yield func(chat.Record) error) error {
	key := chanKey(serverID, channelID)

	m.mu.Lock()
	m.fetchCalls[key]++
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
	var scripted error
	failAt := -1
	if always, ok := m.errAlway[key]; ok {
		scripted = always
		failAt = m.failAt[key]
	} else if q := m.errQueue[key]; len(q) > 0 {
		scripted = q[0]
		m.errQueue[key] = q[1:]
		failAt = m.failAt[key]
	}
	recs := m.records[key]
	delay := m.fetchDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	if scripted != nil && failAt <= 0 {
		return scripted
	}

	yielded := 0
	for _, r := range recs {
		if opts.AfterID != "" && !numLess(opts.AfterID, r.ID) {
			continue
		}
		if err := yield(r); err != nil {
			return err
		}
		yielded++
		if scripted != nil && yielded >= failAt {
			return scripted
		}
	}
	return nil
}

func (m *mockClient) SendRecord(ctx context.Context, channelID, content, replyToID string) (*chat.Record, error) {
	return &chat.Record{ID: "sent", Content: content, Timestamp: time.Now().UTC()}, nil
}

func (m *mockClient) calls(serverID, channelID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[chanKey(serverID, channelID)]
}

func recordsN(n int, startID int, ts time.Time) []chat.Record {
	out := make([]chat.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, chat.Record{
			ID:         strconv.Itoa(startID + i),
			Timestamp:  ts.Add(time.Duration(i) * time.Minute),
			AuthorID:   "u1",
			AuthorName: "alice",
			Content:    fmt.Sprintf("message %d", startID+i),
		})
	}
	return out
}
