package discord

import (
	"strconv"
	"time"
)

// discordEpochMS is the Discord snowflake epoch (2015-01-01T00:00:00Z).
const discordEpochMS = 1420070400000

// snowflakeFromTime builds the smallest snowflake ID for the given instant,
// usable as an exclusive lower bound in history queries.
func snowflakeFromTime(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMS
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}

// snowflakeTime recovers the timestamp embedded in a snowflake ID.
func snowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	ms := int64(n>>22) + discordEpochMS
	return time.UnixMilli(ms).UTC(), true
}
