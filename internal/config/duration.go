package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-valued field; "" is zero. path names
// the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def for "" and "0".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def)
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"30s\" or \"5m\": %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
