package storage

// Cursor is the persisted incremental-sync pointer for one channel. It is
// mutated only through FinalizeCursor, once per sync pass.
type Cursor struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	LastRecordID   string `yaml:"last_record_id"`
	OldestRecordID string `yaml:"oldest_record_id,omitempty"`
	RecordCount    int    `yaml:"record_count"`
	OldestDate     string `yaml:"oldest_date,omitempty"`
	NewestDate     string `yaml:"newest_date,omitempty"`
	LastSyncAt     string `yaml:"last_sync_at"`
	Mode           string `yaml:"mode,omitempty"`
}

// syncState is the on-disk shape of a server's sync_state.yaml.
type syncState struct {
	ServerID   string            `yaml:"server_id"`
	ServerName string            `yaml:"server_name"`
	LastSync   string            `yaml:"last_sync"`
	Channels   map[string]Cursor `yaml:"channels"`
}

// CursorUpdate carries one channel's finalize call. Counts accumulate onto
// the stored cursor; IDs and date bounds replace or extend it.
type CursorUpdate struct {
	ServerID       string
	ServerName     string
	ChannelID      string
	ChannelName    string
	LastRecordID   string
	OldestRecordID string
	RecordCount    int
	OldestDate     string
	NewestDate     string
	Mode           string
}

// Sync modes recorded on cursors.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)
