package slots

import (
	"strings"
	"testing"
	"time"

	"respbot/internal/claims"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1:30", want: 90 * time.Minute},
		{in: "2:30", want: 150 * time.Minute},
		{in: "1:15:00", want: 75 * time.Minute},
		{in: "0:45", want: 45 * time.Minute},
		{in: "9000", want: 150 * time.Minute},
		{in: " 1:00 ", want: time.Hour},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1:60", wantErr: true},
		{in: "1:00:99", wantErr: true},
		{in: "-3600", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "86401", wantErr: true},
		{in: "36028797018971168", wantErr: true},
		{in: "9223372036854775807", wantErr: true},
		{in: "25:00", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDuration(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) = %v, want error", tc.in, got)
				}
				if !claims.IsKind(err, claims.KindValidation) {
					t.Fatalf("ParseDuration(%q) error kind = %v, want validation", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestResolveDuration(t *testing.T) {
	t.Parallel()

	tier1 := Slot{Code: "f4", Name: "F4", Tier: 1}
	tier3 := Slot{Code: "d2", Name: "D2", Tier: 3}
	tier4 := Slot{Code: "x9", Name: "X9", Tier: 4}

	cases := []struct {
		name    string
		slot    Slot
		in      string
		want    time.Duration
		wantSub string
	}{
		{name: "default is the cap", slot: tier1, in: "", want: 2*time.Hour + 30*time.Minute},
		{name: "default for high tier", slot: tier3, in: "", want: 3*time.Hour + 15*time.Minute},
		{name: "explicit within cap", slot: tier1, in: "1:30", want: 90 * time.Minute},
		{name: "exactly the cap", slot: tier1, in: "2:30", want: 150 * time.Minute},
		{name: "high tier cap", slot: tier3, in: "3:15", want: 195 * time.Minute},
		{name: "too short", slot: tier1, in: "0:45", wantSub: "at least"},
		{name: "off the grid", slot: tier1, in: "1:10", wantSub: "15 minute steps"},
		{name: "over the cap", slot: tier1, in: "3:15", wantSub: "2:30"},
		{name: "over the high cap", slot: tier3, in: "3:30", wantSub: "3:15"},
		{name: "unknown tier gets the base cap", slot: tier4, in: "", want: 2*time.Hour + 30*time.Minute},
		{name: "unknown tier rejects the high cap", slot: tier4, in: "3:15", wantSub: "2:30"},
		{name: "huge second count rejected", slot: tier1, in: "36028797018971168", wantSub: "longer than a day"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.slot.ResolveDuration(tc.in)
			if tc.wantSub != "" {
				if err == nil {
					t.Fatalf("ResolveDuration(%q) = %v, want error", tc.in, got)
				}
				if !claims.IsKind(err, claims.KindValidation) {
					t.Fatalf("error kind = %v, want validation", err)
				}
				if !strings.Contains(err.Error(), tc.wantSub) {
					t.Fatalf("error %q does not mention %q", err.Error(), tc.wantSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveDuration(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ResolveDuration(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	if got := FormatDuration(2*time.Hour + 30*time.Minute); got != "2:30" {
		t.Fatalf("FormatDuration = %q, want 2:30", got)
	}
	if got := FormatDuration(-time.Minute); got != "0:00" {
		t.Fatalf("FormatDuration negative = %q, want 0:00", got)
	}
	if got := FormatClock(time.Hour + 5*time.Minute + 9*time.Second); got != "1:05:09" {
		t.Fatalf("FormatClock = %q, want 1:05:09", got)
	}
}
