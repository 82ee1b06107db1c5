package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"respbot/internal/claims"
)

// Duration policy. Claims run between one hour and the tier cap, in quarter
// hour steps. A slot's default duration is its cap, so claiming without a
// duration takes the maximum allowed.
const (
	MinClaim    = time.Hour
	ClaimStep   = 15 * time.Minute
	capLowTier  = 2*time.Hour + 30*time.Minute
	capHighTier = 3*time.Hour + 15*time.Minute

	// maxInputHours bounds parsed input. Anything past a day is nonsense
	// and unbounded values would overflow the duration arithmetic.
	maxInputHours = 24
)

// Cap returns the maximum claim duration for the slot's tier. Only tier 3
// gets the extended cap; every other tier, known or not, gets the base cap.
func (s Slot) Cap() time.Duration {
	if s.Tier == 3 {
		return capHighTier
	}
	return capLowTier
}

// DefaultDuration is the duration used when the claimant names none.
func (s Slot) DefaultDuration() time.Duration { return s.Cap() }

// ParseDuration parses a user-typed claim duration. Accepted forms are
// "H:MM", "H:MM:SS" and a bare integer count of seconds. Range and
// granularity are not checked here; see Slot.CheckDuration.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, claims.NewValidation("", "empty duration")
	}
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		secs, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || secs < 0 {
			return 0, claims.NewValidation("", fmt.Sprintf("cannot read %q as a duration; use H:MM, H:MM:SS or seconds", raw))
		}
		if secs > maxInputHours*60*60 {
			return 0, claims.NewValidation("", fmt.Sprintf("%q is longer than a day", raw))
		}
		return time.Duration(secs) * time.Second, nil
	case 2, 3:
		var fields [3]int64
		for i, p := range parts {
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil || n < 0 || (i > 0 && n > 59) {
				return 0, claims.NewValidation("", fmt.Sprintf("cannot read %q as a duration; use H:MM, H:MM:SS or seconds", raw))
			}
			fields[i] = n
		}
		if fields[0] > maxInputHours {
			return 0, claims.NewValidation("", fmt.Sprintf("%q is longer than a day", raw))
		}
		d := time.Duration(fields[0])*time.Hour + time.Duration(fields[1])*time.Minute
		if len(parts) == 3 {
			d += time.Duration(fields[2]) * time.Second
		}
		return d, nil
	default:
		return 0, claims.NewValidation("", fmt.Sprintf("cannot read %q as a duration; use H:MM, H:MM:SS or seconds", raw))
	}
}

// CheckDuration validates a parsed duration against the policy for this
// slot's tier.
func (s Slot) CheckDuration(d time.Duration) error {
	if d < MinClaim {
		return claims.NewValidation(s.Code, fmt.Sprintf("claims must run at least %s", FormatDuration(MinClaim)))
	}
	if d%ClaimStep != 0 {
		return claims.NewValidation(s.Code, fmt.Sprintf("claim durations go in %d minute steps", int(ClaimStep.Minutes())))
	}
	if limit := s.Cap(); d > limit {
		return claims.NewValidation(s.Code, fmt.Sprintf("the cap for %s is %s", s.Name, FormatDuration(limit)))
	}
	return nil
}

// ResolveDuration turns user input into a valid claim duration for this slot.
// Empty input yields the slot's default.
func (s Slot) ResolveDuration(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return s.DefaultDuration(), nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if err := s.CheckDuration(d); err != nil {
		return 0, err
	}
	return d, nil
}

// FormatDuration renders a duration as H:MM, the same shape users type.
// Sub-minute remainders only show up in test fixtures and are truncated.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	return fmt.Sprintf("%d:%02d", h, m)
}

// FormatClock renders a duration as H:MM:SS for countdown displays.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
