package render

import (
	"fmt"
	"html"
	"time"

	"respbot/internal/claims/scheduler"
	"respbot/internal/eventbus"
	"respbot/internal/slots"
)

// Alert is a rendered point-to-point message for one user.
type Alert struct {
	UserID   int64
	Text     string
	Priority int
}

// AlertFor maps a scheduler event to the direct message it should trigger,
// if any. Claim starts and releases are acknowledged inline by the command
// handler; only transitions the affected user did not initiate alert them.
func AlertFor(ev eventbus.Event, loc *time.Location) (Alert, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch d := ev.Data.(type) {
	case scheduler.OfferMade:
		text := fmt.Sprintf("<b>%s</b> is yours to take. Claim it before %s",
			html.EscapeString(d.Slot.Name), d.Deadline.In(loc).Format("15:04"))
		if d.Desired > 0 {
			text += fmt.Sprintf(" to hold it for your queued %s", slots.FormatDuration(d.Desired))
		}
		text += "."
		return Alert{UserID: d.OffereeID, Text: text, Priority: 7}, true
	case scheduler.OfferExpired:
		return Alert{
			UserID:   d.OffereeID,
			Text:     fmt.Sprintf("Your window for <b>%s</b> has lapsed; the slot moved on.", html.EscapeString(d.Slot.Name)),
			Priority: 5,
		}, true
	case scheduler.ClaimExpired:
		return Alert{
			UserID:   d.HolderID,
			Text:     fmt.Sprintf("Your time on <b>%s</b> is up.", html.EscapeString(d.Slot.Name)),
			Priority: 5,
		}, true
	default:
		return Alert{}, false
	}
}

// GroupLine renders a scheduler event as a one-line announcement for the
// shared group feed. Unlike AlertFor it covers every transition, the feed is
// the group's running record of who holds what.
func GroupLine(ev eventbus.Event, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch d := ev.Data.(type) {
	case scheduler.ClaimStarted:
		return fmt.Sprintf("%s took <b>%s</b> until %s.",
			html.EscapeString(d.HolderName),
			html.EscapeString(d.Slot.Name),
			d.Until.In(loc).Format("15:04")), true
	case scheduler.ClaimReleased:
		return fmt.Sprintf("%s released <b>%s</b> with %s left.",
			html.EscapeString(d.HolderName),
			html.EscapeString(d.Slot.Name),
			slots.FormatDuration(d.Remaining)), true
	case scheduler.ClaimExpired:
		return fmt.Sprintf("%s's time on <b>%s</b> ran out.",
			html.EscapeString(d.HolderName),
			html.EscapeString(d.Slot.Name)), true
	case scheduler.OfferMade:
		return fmt.Sprintf("<b>%s</b> is reserved for %s until %s.",
			html.EscapeString(d.Slot.Name),
			html.EscapeString(d.OffereeName),
			d.Deadline.In(loc).Format("15:04")), true
	case scheduler.OfferExpired:
		return fmt.Sprintf("%s did not take <b>%s</b> in time.",
			html.EscapeString(d.OffereeName),
			html.EscapeString(d.Slot.Name)), true
	default:
		return "", false
	}
}
