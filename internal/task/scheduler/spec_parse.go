package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string split into its kind.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 */10 * * * *" (with seconds), "@hourly", "@every 5m"
//   - interval: a Go duration such as "5m" or "1h30m"
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule classifies raw and checks it parses. Anything with a space or
// a leading '@' is cron; everything else must be a positive duration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		if _, err := specParser.Parse(s); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron schedule %q: %w", s, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like \"*/5 * * * *\" or a duration like \"5m\")", raw)
	}
	if d <= 0 {
		return ParsedSpec{}, errors.New("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}
