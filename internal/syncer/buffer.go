package syncer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/storage"
)

// channelBuffer accumulates one channel's pending records between flushes.
// Records stay in fetch (chronological) order; date bounds are maintained
// incrementally as records arrive.
type channelBuffer struct {
	serverID    string
	serverName  string
	channelID   string
	channelName string
	records     []chat.Record
	oldestDate  string
	newestDate  string
}

func (b *channelBuffer) add(r chat.Record) {
	b.records = append(b.records, r)
	d := r.Date()
	if b.oldestDate == "" || d < b.oldestDate {
		b.oldestDate = d
	}
	if d > b.newestDate {
		b.newestDate = d
	}
}

// WriteBuffer batches fetched records per channel and flushes them to the
// store when a channel crosses the batch threshold or on a periodic timer,
// decoupling fetch throughput from disk I/O. The buffer map mutex is held
// only across map mutation, never across the file write that follows a
// flush; each channel's writes are serialized by a per-channel write lock,
// so unrelated channels still flush in parallel.
type WriteBuffer struct {
	store         storage.Store
	batchSize     int
	flushInterval time.Duration
	progress      ProgressFunc
	logger        *zap.Logger

	mu      sync.Mutex
	buffers map[string]*channelBuffer

	writersMu sync.Mutex
	writers   map[string]*sync.Mutex

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func NewWriteBuffer(store storage.Store, batchSize int, flushInterval time.Duration, progress ProgressFunc, logger *zap.Logger) *WriteBuffer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &WriteBuffer{
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		progress:      progress,
		logger:        logger,
		buffers:       make(map[string]*channelBuffer),
		writers:       make(map[string]*sync.Mutex),
	}
}

func bufferKey(serverID, channelName string) string {
	return serverID + ":" + channelName
}

// Enqueue appends records to the channel's buffer, creating it on first use.
// If the buffer reaches the batch threshold the channel is flushed before
// returning; otherwise Enqueue never blocks on I/O.
func (w *WriteBuffer) Enqueue(serverID, serverName, channelID, channelName string, records ...chat.Record) error {
	if len(records) == 0 {
		return nil
	}
	key := bufferKey(serverID, channelName)

	w.mu.Lock()
	buf, ok := w.buffers[key]
	if !ok {
		buf = &channelBuffer{
			serverID:    serverID,
			serverName:  serverName,
			channelID:   channelID,
			channelName: channelName,
		}
		w.buffers[key] = buf
	}
	for _, r := range records {
		buf.add(r)
	}
	full := len(buf.records) >= w.batchSize
	w.mu.Unlock()

	if full {
		_, err := w.flushKey(key)
		return err
	}
	return nil
}

// FlushOne flushes a single channel's buffer. No-op if nothing is pending.
func (w *WriteBuffer) FlushOne(serverID, channelName string) error {
	_, err := w.flushKey(bufferKey(serverID, channelName))
	return err
}

// FlushAll flushes every buffered channel and returns buffer key to count
// flushed, for progress reporting.
func (w *WriteBuffer) FlushAll() (map[string]int, error) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffers))
	for key := range w.buffers {
		keys = append(keys, key)
	}
	w.mu.Unlock()

	flushed := make(map[string]int, len(keys))
	var firstErr error
	for _, key := range keys {
		n, err := w.flushKey(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			flushed[key] = n
		}
	}
	return flushed, firstErr
}

// flushKey pops and writes whatever is buffered for one channel. The
// channel's write lock is held across both the pop and the append, so two
// concurrent flushes of the same channel cannot reorder its batches in the
// append-only store. Returns the number of records written.
func (w *WriteBuffer) flushKey(key string) (int, error) {
	lock := w.writerFor(key)
	lock.Lock()
	defer lock.Unlock()

	w.mu.Lock()
	buf := w.buffers[key]
	delete(w.buffers, key)
	w.mu.Unlock()

	if buf == nil || len(buf.records) == 0 {
		return 0, nil
	}
	return len(buf.records), w.write(buf)
}

func (w *WriteBuffer) writerFor(key string) *sync.Mutex {
	w.writersMu.Lock()
	defer w.writersMu.Unlock()
	lock, ok := w.writers[key]
	if !ok {
		lock = &sync.Mutex{}
		w.writers[key] = lock
	}
	return lock
}

// write performs the single durable append for one channel's batch.
func (w *WriteBuffer) write(buf *channelBuffer) error {
	if err := w.store.AppendRecords(buf.serverID, buf.serverName, buf.channelID, buf.channelName, buf.records); err != nil {
		w.logger.Error("flush failed",
			zap.String("channel", buf.channelName),
			zap.Int("records", len(buf.records)),
			zap.Error(err),
		)
		return fmt.Errorf("flushing #%s: %w", buf.channelName, err)
	}
	w.report("  Flushed %d records for #%s", len(buf.records), buf.channelName)
	return nil
}

// FinalizeCursors applies one cursor update per channel result. Called once
// per server after all of its channels complete, batching state writes
// instead of updating per message.
func (w *WriteBuffer) FinalizeCursors(results []ChannelResult, mode string) error {
	var firstErr error
	for _, r := range results {
		if !r.Success || r.Skipped || r.RecordCount == 0 {
			continue
		}
		err := w.store.FinalizeCursor(storage.CursorUpdate{
			ServerID:       r.ServerID,
			ServerName:     r.ServerName,
			ChannelID:      r.ChannelID,
			ChannelName:    r.ChannelName,
			LastRecordID:   r.LastRecordID,
			OldestRecordID: r.OldestRecordID,
			RecordCount:    r.RecordCount,
			OldestDate:     r.OldestDate,
			NewestDate:     r.NewestDate,
			Mode:           mode,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartPeriodicFlush begins the background flush loop. Safe to call once per
// run; a second call while running is a no-op.
func (w *WriteBuffer) StartPeriodicFlush() {
	w.loopMu.Lock()
	defer w.loopMu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				flushed, err := w.FlushAll()
				if err != nil {
					w.logger.Warn("periodic flush error", zap.Error(err))
				}
				if len(flushed) > 0 {
					total := 0
					for _, n := range flushed {
						total += n
					}
					w.report("  Background flush: %d records across %d channels", total, len(flushed))
				}
			}
		}
	}(w.stop, w.done)
}

// StopPeriodicFlush cancels the background loop and performs one final
// drain, so no buffered record is lost on orderly shutdown.
func (w *WriteBuffer) StopPeriodicFlush() error {
	w.loopMu.Lock()
	if w.stop != nil {
		close(w.stop)
		<-w.done
		w.stop = nil
		w.done = nil
	}
	w.loopMu.Unlock()

	_, err := w.FlushAll()
	return err
}

// PendingCount is the total number of buffered records across all channels.
func (w *WriteBuffer) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buffers {
		n += len(b.records)
	}
	return n
}

// PendingChannels is the number of channels with buffered records.
func (w *WriteBuffer) PendingChannels() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffers)
}

func (w *WriteBuffer) report(format string, args ...any) {
	if w.progress != nil {
		w.progress(fmt.Sprintf(format, args...))
	}
}
