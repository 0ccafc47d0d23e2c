package syncer

import (
	"fmt"
	"time"
)

// ProgressFunc receives human-readable status lines at phase boundaries.
// Purely observational; nil disables reporting.
type ProgressFunc func(msg string)

// Options controls one sync pass.
type Options struct {
	// Days is the lookback window for channels with no stored cursor.
	Days int
	// Limit caps records fetched per channel; 0 means unlimited.
	Limit int
	// Incremental resumes each channel from its stored cursor and skips
	// channels that are already current.
	Incremental bool
}

// ChannelResult is the single outcome record every channel sync produces,
// whether it succeeded, skipped, or failed.
type ChannelResult struct {
	ServerID       string
	ServerName     string
	ChannelID      string
	ChannelName    string
	RecordCount    int
	Success        bool
	Skipped        bool
	SkipReason     string
	Error          string
	LastRecordID   string
	OldestRecordID string
	OldestDate     string
	NewestDate     string
}

// ServerResult aggregates one server's channel outcomes.
type ServerResult struct {
	ServerID        string
	ServerName      string
	Success         bool
	RecordsFetched  int
	ChannelsSynced  int
	ChannelsSkipped int
	ChannelsFailed  int
	Duration        time.Duration
	Error           string
	Channels        []ChannelResult
}

// Summary is the aggregate rollup returned by a full orchestrator run.
type Summary struct {
	RunID         string
	TotalServers  int
	ServersSynced int
	ServersFailed int
	TotalRecords  int
	TotalChannels int
	Duration      time.Duration
	Servers       []ServerResult
}

// Errors enumerates every failed unit with its error string.
func (s *Summary) Errors() []string {
	var errs []string
	for _, sv := range s.Servers {
		if !sv.Success {
			errs = append(errs, fmt.Sprintf("%s: %s", sv.ServerName, sv.Error))
		}
		for _, ch := range sv.Channels {
			if !ch.Success && !ch.Skipped {
				errs = append(errs, fmt.Sprintf("%s/#%s: %s", sv.ServerName, ch.ChannelName, ch.Error))
			}
		}
	}
	return errs
}

// SuccessRate is the percentage of servers that completed.
func (s *Summary) SuccessRate() float64 {
	if s.TotalServers == 0 {
		return 100
	}
	return float64(s.ServersSynced) / float64(s.TotalServers) * 100
}
