package config

import (
	"fmt"
	"regexp"
	"strings"
)

// InvalidChannel represents a priority channel entry that can never match
type InvalidChannel struct {
	Name   string
	Reason string
}

// ValidationErrors collects all sync-target validation errors
type ValidationErrors struct {
	EmptyServers      int
	DuplicateServers  []string
	InvalidChannels   []InvalidChannel
	DuplicateChannels []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return e.EmptyServers > 0 || len(e.DuplicateServers) > 0 ||
		len(e.InvalidChannels) > 0 || len(e.DuplicateChannels) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("sync target validation failed:\n")

	if e.EmptyServers > 0 {
		sb.WriteString(fmt.Sprintf("\n%d empty server ID entries in 'servers'\n", e.EmptyServers))
	}

	if len(e.DuplicateServers) > 0 {
		sb.WriteString("\nDuplicate server IDs:\n")
		for _, id := range e.DuplicateServers {
			sb.WriteString(fmt.Sprintf("  - %s\n", id))
		}
	}

	if len(e.InvalidChannels) > 0 {
		sb.WriteString("\nInvalid priority channels:\n")
		for _, ic := range e.InvalidChannels {
			sb.WriteString(fmt.Sprintf("  - %q (%s)\n", ic.Name, ic.Reason))
		}
		sb.WriteString("\nChannel names match case-insensitively and need at least one letter or digit\n")
	}

	if len(e.DuplicateChannels) > 0 {
		sb.WriteString("\nDuplicate priority channels:\n")
		for _, name := range e.DuplicateChannels {
			sb.WriteString(fmt.Sprintf("  - %s\n", name))
		}
	}

	return sb.String()
}

var channelNamePattern = regexp.MustCompile(`[a-z0-9]`)

// ValidateSyncTargets validates the server ID list and priority channel
// names before a sync run starts, so a bad config fails up front instead of
// silently matching nothing.
func ValidateSyncTargets(servers, priorityChannels []string) error {
	errs := &ValidationErrors{}

	seenServers := make(map[string]bool)
	for _, id := range servers {
		id = strings.TrimSpace(id)
		if id == "" {
			errs.EmptyServers++
			continue
		}
		if seenServers[id] {
			errs.DuplicateServers = append(errs.DuplicateServers, id)
		}
		seenServers[id] = true
	}

	seenChannels := make(map[string]bool)
	for _, name := range priorityChannels {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			errs.InvalidChannels = append(errs.InvalidChannels, InvalidChannel{Name: name, Reason: "empty"})
			continue
		}
		if !channelNamePattern.MatchString(lower) {
			errs.InvalidChannels = append(errs.InvalidChannels, InvalidChannel{Name: name, Reason: "no matchable characters"})
			continue
		}
		if seenChannels[lower] {
			errs.DuplicateChannels = append(errs.DuplicateChannels, name)
		}
		seenChannels[lower] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
