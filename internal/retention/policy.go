package retention

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Policy is a channel's retention rule: messages older than InactiveAfter
// are eligible for deletion.
type Policy struct {
	ID            string
	GuildID       string
	ChannelID     string
	InactiveAfter time.Duration
	// LastSweptAt is nil until the first successful sweep.
	LastSweptAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Cutoff is the boundary for a sweep started at tickAt.
func (p Policy) Cutoff(tickAt time.Time) time.Time {
	return tickAt.Add(-p.InactiveAfter)
}

// Validate checks the fields a store needs to persist p.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.ChannelID) == "" {
		return &ValidationError{Field: "channel_id", Reason: "required"}
	}
	if strings.TrimSpace(p.GuildID) == "" {
		return &ValidationError{Field: "guild_id", Reason: "required"}
	}
	if p.InactiveAfter <= 0 {
		return &ValidationError{Field: "inactive_after", Reason: "must be positive"}
	}
	return nil
}

// Unit is the period unit accepted by the configuration commands.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

const (
	DefaultAmount = 30
	DefaultUnit   = Days
)

// Units lists the accepted units in display order.
var Units = []Unit{Seconds, Minutes, Hours, Days}

func (u Unit) size() time.Duration {
	switch u {
	case Seconds:
		return time.Second
	case Minutes:
		return time.Minute
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	}
	return 0
}

// ParseUnit accepts full names, singular forms and short aliases.
// Empty input yields DefaultUnit.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultUnit, nil
	case "s", "sec", "secs", "second", "seconds":
		return Seconds, nil
	case "m", "min", "mins", "minute", "minutes":
		return Minutes, nil
	case "h", "hr", "hrs", "hour", "hours":
		return Hours, nil
	case "d", "day", "days":
		return Days, nil
	}
	return "", &ValidationError{Field: "unit", Reason: "must be one of seconds, minutes, hours, days"}
}

// ToDuration converts amount units into a fixed duration. There is no
// calendar arithmetic: a day is always 24h.
func ToDuration(amount int64, unit Unit) (time.Duration, error) {
	if amount <= 0 {
		return 0, &ValidationError{Field: "amount", Reason: "must be at least 1"}
	}
	size := unit.size()
	if size == 0 {
		return 0, &ValidationError{Field: "unit", Reason: "unknown unit " + string(unit)}
	}
	if amount > math.MaxInt64/int64(size) {
		return 0, &ValidationError{Field: "amount", Reason: "too large"}
	}
	return time.Duration(amount) * size, nil
}

// FormatDuration renders d in the largest unit that divides it evenly,
// e.g. "30 days" or "90 minutes".
func FormatDuration(d time.Duration) string {
	for i := len(Units) - 1; i >= 0; i-- {
		u := Units[i]
		if n := d / u.size(); n > 0 && d%u.size() == 0 {
			name := string(u)
			if n == 1 {
				name = strings.TrimSuffix(name, "s")
			}
			return strconv.FormatInt(int64(n), 10) + " " + name
		}
	}
	return d.String()
}
