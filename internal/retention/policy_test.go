package retention

import (
	"math"
	"testing"
	"time"
)

func TestToDuration(t *testing.T) {
	tests := []struct {
		amount int64
		unit   string
		want   time.Duration
	}{
		{30, "", 30 * 24 * time.Hour},
		{45, "s", 45 * time.Second},
		{90, "min", 90 * time.Minute},
		{12, "hours", 12 * time.Hour},
		{1, "d", 24 * time.Hour},
		{7, "Days", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		u, err := ParseUnit(tt.unit)
		if err != nil {
			t.Fatalf("ParseUnit(%q): %v", tt.unit, err)
		}
		got, err := ToDuration(tt.amount, u)
		if err != nil {
			t.Fatalf("ToDuration(%d, %s): %v", tt.amount, u, err)
		}
		if got != tt.want {
			t.Fatalf("ToDuration(%d, %s) = %v, want %v", tt.amount, u, got, tt.want)
		}
	}
}

func TestToDurationRejects(t *testing.T) {
	for _, amount := range []int64{0, -3, math.MaxInt64 / 1000} {
		if _, err := ToDuration(amount, Days); !IsValidation(err) {
			t.Fatalf("ToDuration(%d) err = %v, want ValidationError", amount, err)
		}
	}
	if _, err := ParseUnit("weeks"); !IsValidation(err) {
		t.Fatalf("ParseUnit(weeks) err = %v", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	ok := Policy{GuildID: "g", ChannelID: "c", InactiveAfter: time.Second}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, p := range []Policy{
		{GuildID: "g", InactiveAfter: time.Second},
		{ChannelID: "c", InactiveAfter: time.Second},
		{GuildID: "g", ChannelID: "c"},
		{GuildID: "g", ChannelID: "c", InactiveAfter: -time.Second},
	} {
		if err := p.Validate(); !IsValidation(err) {
			t.Fatalf("Validate(%+v) = %v, want ValidationError", p, err)
		}
	}
}

func TestCutoff(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := Policy{InactiveAfter: 30 * 24 * time.Hour}
	if got, want := p.Cutoff(t0.Add(31*24*time.Hour)), t0.Add(24*time.Hour); !got.Equal(want) {
		t.Fatalf("Cutoff = %v, want %v", got, want)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		30 * 24 * time.Hour:     "30 days",
		24 * time.Hour:          "1 day",
		36 * time.Hour:          "36 hours",
		90 * time.Minute:        "90 minutes",
		time.Second:             "1 second",
		1500 * time.Millisecond: "1.5s",
	}
	for d, want := range cases {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
