package chat

import (
	"context"
	"time"
)

// Server is a top-level container of channels (a Discord guild, a Telegram
// chat group).
type Server struct {
	ID          string
	Name        string
	Icon        string
	MemberCount int
}

// Channel is an addressable message stream within a server.
type Channel struct {
	ID       string
	Name     string
	Position int
	Category string
}

type Attachment struct {
	Filename string
	URL      string
}

type Reaction struct {
	Emoji string
	Count int
}

// Record is one message fetched from a remote chat platform.
type Record struct {
	ID          string
	Timestamp   time.Time
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []Attachment
	Reactions   []Reaction
	ReplyToID   string
}

// Date returns the record's UTC calendar date in ISO format.
func (r Record) Date() string {
	return r.Timestamp.UTC().Format("2006-01-02")
}

// FetchOptions controls a history fetch. AfterID takes precedence over
// LookbackDays; Limit of 0 means unlimited.
type FetchOptions struct {
	AfterID      string
	LookbackDays int
	Limit        int
}

// Client is the platform adapter contract. Implementations guarantee that
// FetchRecords yields records in ascending-ID (chronological) order.
type Client interface {
	// Connect establishes and validates the session. Called once before any
	// sync begins; an authentication failure here aborts the whole run.
	Connect(ctx context.Context) error
	Close() error

	ListServers(ctx context.Context) ([]Server, error)
	ListChannels(ctx context.Context, serverID string) ([]Channel, error)

	// FetchRecords streams history, invoking yield once per record. A non-nil
	// error from yield stops the fetch and is returned unchanged.
	FetchRecords(ctx context.Context, serverID, channelID string, opts FetchOptions, yield func(Record) error) error

	SendRecord(ctx context.Context, channelID, content, replyToID string) (*Record, error)
}
