package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/communityagent/chatsync/internal/syncer"
)

// FormatSuccessMessage creates a success notification body.
func FormatSuccessMessage(summary *syncer.Summary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Servers: %d/%d\n", summary.ServersSynced, summary.TotalServers))
	sb.WriteString(fmt.Sprintf("Channels: %d\n", summary.TotalChannels))
	sb.WriteString(fmt.Sprintf("Records: %d\n", summary.TotalRecords))
	sb.WriteString(fmt.Sprintf("Duration: %s", summary.Duration.Round(time.Second)))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(summary *syncer.Summary, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Servers: %d/%d\n", summary.ServersSynced, summary.TotalServers))
	sb.WriteString(fmt.Sprintf("Failed: %d\n", summary.ServersFailed))
	sb.WriteString(fmt.Sprintf("Records: %d\n", summary.TotalRecords))
	sb.WriteString(fmt.Sprintf("Duration: %s", summary.Duration.Round(time.Second)))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	// Include first 3 error messages if available
	if errs := summary.Errors(); len(errs) > 0 {
		sb.WriteString("\n\nErrors:\n")
		limit := 3
		if len(errs) < limit {
			limit = len(errs)
		}
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s\n", errs[i]))
		}
		if len(errs) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(errs)-3))
		}
	}

	return sb.String()
}
