package discord

import (
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordEpoch is the first millisecond of 2015, in unix ms.
const discordEpoch = 1420070400000

// snowflakeAt returns the smallest snowflake generated at t. Listing
// messages before it yields exactly the messages older than t. Ids only
// carry milliseconds, so a fractional t rounds up: messages from earlier
// in that millisecond are older than t and must stay listable.
func snowflakeAt(t time.Time) string {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	ms -= discordEpoch
	if ms <= 0 {
		return ""
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}

// CreatedAt returns the creation time encoded in a snowflake id.
func CreatedAt(id string) time.Time {
	t, err := discordgo.SnowflakeTimestamp(id)
	if err != nil {
		return time.Time{}
	}
	return t
}
