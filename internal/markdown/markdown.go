// Package markdown renders fetched chat records as agent-readable markdown.
package markdown

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/communityagent/chatsync/internal/chat"
)

// ChannelHeader renders the front matter written once at the top of a new
// channel message file.
func ChannelHeader(channelName, channelID, serverName, serverID string, lastSync time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# #%s\n\n", channelName)
	fmt.Fprintf(&b, "- Server: %s (%s)\n", serverName, serverID)
	fmt.Fprintf(&b, "- Channel ID: %s\n", channelID)
	fmt.Fprintf(&b, "- First synced: %s\n", lastSync.UTC().Format(time.RFC3339))
	return b.String()
}

// DateHeader renders a date section header.
func DateHeader(date string) string {
	return "## " + date
}

// Message renders one record as a markdown block.
func Message(r chat.Record) string {
	var b strings.Builder

	timeStr := r.Timestamp.UTC().Format("3:04 PM")
	fmt.Fprintf(&b, "### %s - @%s (%s)\n", timeStr, r.AuthorName, r.AuthorID)

	if r.ReplyToID != "" {
		fmt.Fprintf(&b, "\u21b3 replying to %s:\n", r.ReplyToID)
	}

	if r.Content != "" {
		b.WriteString(r.Content)
		b.WriteString("\n")
	}

	for _, a := range r.Attachments {
		fmt.Fprintf(&b, "[attachment: %s %s]\n", a.Filename, a.URL)
	}

	if len(r.Reactions) > 0 {
		b.WriteString(Reactions(r.Reactions))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// Reactions renders reaction emojis with counts, pipe-separated.
func Reactions(reactions []chat.Reaction) string {
	parts := make([]string, 0, len(reactions))
	for _, r := range reactions {
		parts = append(parts, fmt.Sprintf("%s %d", r.Emoji, r.Count))
	}
	return strings.Join(parts, " | ")
}

// GroupByDate buckets records by UTC calendar date, preserving input order
// within each bucket.
func GroupByDate(records []chat.Record) map[string][]chat.Record {
	groups := make(map[string][]chat.Record)
	for _, r := range records {
		d := r.Date()
		groups[d] = append(groups[d], r)
	}
	return groups
}

// RenderBatch renders a batch of records as date-sectioned markdown, oldest
// date first. Records within a date keep their input (chronological) order.
func RenderBatch(records []chat.Record) string {
	groups := GroupByDate(records)

	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var b strings.Builder
	for _, d := range dates {
		b.WriteString("\n")
		b.WriteString(DateHeader(d))
		b.WriteString("\n\n")
		for _, r := range groups[d] {
			b.WriteString(Message(r))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
