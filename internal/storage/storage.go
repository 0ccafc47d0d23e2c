// Package storage persists synced chat history as markdown files with YAML
// sync-state cursors, laid out per server and channel under a base directory.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/communityagent/chatsync/internal/chat"
	"github.com/communityagent/chatsync/internal/markdown"
)

// Store is the durable-store contract consumed by the sync core.
type Store interface {
	IsChannelUpToDate(serverID, channelKey string) bool
	LastRecordID(serverID, channelKey string) string
	AppendRecords(serverID, serverName, channelID, channelName string, records []chat.Record) error
	FinalizeCursor(u CursorUpdate) error
	SaveServerMetadata(s chat.Server) error
}

// FileStore implements Store on the local filesystem.
type FileStore struct {
	baseDir string
	logger  *zap.Logger

	// Guards sync_state.yaml read-modify-write cycles. Message appends are
	// per-channel and owned by one writer at a time, so they are not held
	// under this lock.
	stateMu sync.Mutex
}

func NewFileStore(baseDir string, logger *zap.Logger) *FileStore {
	return &FileStore{baseDir: baseDir, logger: logger}
}

func (s *FileStore) BaseDir() string { return s.baseDir }

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// SanitizeName converts a display name into a filesystem-safe key.
func SanitizeName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = unsafeChars.ReplaceAllString(key, "-")
	key = strings.Trim(key, "-")
	if key == "" {
		key = "unnamed"
	}
	return key
}

// serverDir resolves the directory for a server, preferring an existing
// directory with the "-<id>" suffix so renames on the remote side do not
// orphan history.
func (s *FileStore) serverDir(serverID, serverName string) string {
	entries, err := os.ReadDir(s.baseDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasSuffix(e.Name(), "-"+serverID) {
				return filepath.Join(s.baseDir, e.Name())
			}
		}
	}
	if serverName == "" {
		return filepath.Join(s.baseDir, serverID)
	}
	return filepath.Join(s.baseDir, SanitizeName(serverName)+"-"+serverID)
}

func (s *FileStore) stateFile(serverID, serverName string) string {
	return filepath.Join(s.serverDir(serverID, serverName), "sync_state.yaml")
}

func (s *FileStore) loadState(serverID, serverName string) syncState {
	state := syncState{Channels: map[string]Cursor{}}
	data, err := os.ReadFile(s.stateFile(serverID, serverName))
	if err != nil {
		return state
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		s.logger.Warn("corrupt sync state, starting fresh",
			zap.String("server_id", serverID), zap.Error(err))
		return syncState{Channels: map[string]Cursor{}}
	}
	if state.Channels == nil {
		state.Channels = map[string]Cursor{}
	}
	return state
}

func (s *FileStore) saveState(state syncState) error {
	dir := s.serverDir(state.ServerID, state.ServerName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating server dir: %w", err)
	}
	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshaling sync state: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "sync_state.yaml"), data, 0600)
}

// IsChannelUpToDate reports whether the channel's newest synced date has
// reached today (UTC).
func (s *FileStore) IsChannelUpToDate(serverID, channelKey string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	cur, ok := s.loadState(serverID, "").Channels[channelKey]
	if !ok || cur.NewestDate == "" {
		return false
	}
	return cur.NewestDate >= time.Now().UTC().Format("2006-01-02")
}

// LastRecordID returns the stored cursor position, or "" if never synced.
func (s *FileStore) LastRecordID(serverID, channelKey string) string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.loadState(serverID, "").Channels[channelKey].LastRecordID
}

// AppendRecords durably appends a batch to the channel's message file in one
// open/write/close cycle. It does not touch the cursor; callers finalize
// cursors separately, so a re-fetch after a failed append cannot lose
// progress it never recorded.
func (s *FileStore) AppendRecords(serverID, serverName, channelID, channelName string, records []chat.Record) error {
	if len(records) == 0 {
		return nil
	}

	channelDir := filepath.Join(s.serverDir(serverID, serverName), SanitizeName(channelName))
	if err := os.MkdirAll(channelDir, 0750); err != nil {
		return fmt.Errorf("creating channel dir: %w", err)
	}

	path := filepath.Join(channelDir, "messages.md")

	var header string
	if _, err := os.Stat(path); os.IsNotExist(err) {
		header = markdown.ChannelHeader(channelName, channelID, serverName, serverID, time.Now().UTC())
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening messages file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(header + markdown.RenderBatch(records)); err != nil {
		return fmt.Errorf("appending records: %w", err)
	}
	return nil
}

// FinalizeCursor applies one channel's cursor update. The stored
// last_record_id never moves backwards: a finalize carrying an older ID
// keeps the existing position and only accumulates counts and date bounds.
func (s *FileStore) FinalizeCursor(u CursorUpdate) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	state := s.loadState(u.ServerID, u.ServerName)
	state.ServerID = u.ServerID
	if u.ServerName != "" {
		state.ServerName = u.ServerName
	}
	now := time.Now().UTC().Format(time.RFC3339)
	state.LastSync = now

	key := SanitizeName(u.ChannelName)
	cur := state.Channels[key]

	cur.ID = u.ChannelID
	cur.Name = u.ChannelName
	cur.RecordCount += u.RecordCount
	cur.LastSyncAt = now
	if u.Mode != "" {
		cur.Mode = u.Mode
	}

	if u.LastRecordID != "" && recordIDLess(cur.LastRecordID, u.LastRecordID) {
		cur.LastRecordID = u.LastRecordID
	}
	if u.OldestRecordID != "" && (cur.OldestRecordID == "" || recordIDLess(u.OldestRecordID, cur.OldestRecordID)) {
		cur.OldestRecordID = u.OldestRecordID
	}
	if u.OldestDate != "" && (cur.OldestDate == "" || u.OldestDate < cur.OldestDate) {
		cur.OldestDate = u.OldestDate
	}
	if u.NewestDate != "" && u.NewestDate > cur.NewestDate {
		cur.NewestDate = u.NewestDate
	}

	state.Channels[key] = cur
	return s.saveState(state)
}

// SaveServerMetadata writes the server.yaml snapshot for a server.
func (s *FileStore) SaveServerMetadata(sv chat.Server) error {
	dir := s.serverDir(sv.ID, sv.Name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating server dir: %w", err)
	}

	meta := map[string]any{
		"server_id":    sv.ID,
		"server_name":  sv.Name,
		"member_count": sv.MemberCount,
		"synced_at":    time.Now().UTC().Format(time.RFC3339),
	}
	if sv.Icon != "" {
		meta["icon"] = sv.Icon
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling server metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "server.yaml"), data, 0600)
}

// Cursor returns the stored cursor for a channel, if present.
func (s *FileStore) Cursor(serverID, channelKey string) (Cursor, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	cur, ok := s.loadState(serverID, "").Channels[channelKey]
	return cur, ok
}

// recordIDLess orders record IDs numerically when both parse as unsigned
// integers (Discord snowflakes, Telegram update IDs), lexically otherwise.
// The empty ID sorts before everything.
func recordIDLess(a, b string) bool {
	if a == "" {
		return b != ""
	}
	if b == "" {
		return false
	}
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
