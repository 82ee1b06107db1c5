// Package render turns scheduler state and events into user-facing text.
// Output is Telegram HTML; user-supplied names are escaped here and nowhere
// else.
package render

import (
	"fmt"
	"html"
	"strings"

	"respbot/internal/claims/scheduler"
	"respbot/internal/slots"
)

// StatusAll renders the status board for every slot.
func StatusAll(views []scheduler.SlotView) string {
	if len(views) == 0 {
		return "No slots are configured yet."
	}
	var b strings.Builder
	b.WriteString("<b>Slots</b>\n")
	for _, v := range views {
		b.WriteString("\n")
		writeSlot(&b, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatusOne renders a single slot in the same shape as the board.
func StatusOne(v scheduler.SlotView) string {
	var b strings.Builder
	writeSlot(&b, v)
	return strings.TrimRight(b.String(), "\n")
}

func writeSlot(b *strings.Builder, v scheduler.SlotView) {
	fmt.Fprintf(b, "<b>%s</b> (%s)\n", html.EscapeString(v.Slot.Name), v.Slot.Code)
	switch {
	case v.Claim != nil:
		fmt.Fprintf(b, "  held by %s, %s left\n",
			html.EscapeString(v.Claim.HolderName), slots.FormatClock(v.ClaimRemaining))
	case v.Offer != nil:
		fmt.Fprintf(b, "  reserved for %s, %s to accept\n",
			html.EscapeString(v.Offer.OffereeName), slots.FormatClock(v.OfferRemaining))
	default:
		b.WriteString("  free\n")
	}
	if len(v.Queue) > 0 {
		b.WriteString("  queue:")
		for i, e := range v.Queue {
			fmt.Fprintf(b, " %d. %s", i+1, html.EscapeString(e.RequesterName))
			if e.Desired > 0 {
				fmt.Fprintf(b, " (%s)", slots.FormatDuration(e.Desired))
			}
		}
		b.WriteString("\n")
	}
}
