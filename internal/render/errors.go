package render

import (
	"errors"
	"fmt"
	"html"

	"respbot/internal/claims"
	"respbot/internal/slots"
)

// ErrorText renders a domain error as a reply. Unexpected errors get a
// generic line; the details belong in the log, not in chat.
func ErrorText(err error) string {
	var de *claims.Error
	if !errors.As(err, &de) {
		return "Something went wrong, try again in a moment."
	}
	switch de.Kind {
	case claims.KindValidation:
		return html.EscapeString(de.Detail)
	case claims.KindUnknownSlot:
		return fmt.Sprintf("I don't know a slot called <b>%s</b>. Try /status for the list.", html.EscapeString(de.Slot))
	case claims.KindSlotOccupied:
		return fmt.Sprintf("<b>%s</b> is held by %s for another %s. You can /enqueue %s to wait.",
			de.Slot, html.EscapeString(de.HolderName), slots.FormatClock(de.Remaining), de.Slot)
	case claims.KindNotHolder:
		return fmt.Sprintf("Only %s can release <b>%s</b>.", html.EscapeString(de.HolderName), de.Slot)
	case claims.KindAlreadyQueued:
		return fmt.Sprintf("You are already waiting for <b>%s</b>.", de.Slot)
	case claims.KindAlreadyHolder:
		return fmt.Sprintf("You already hold <b>%s</b>; no need to queue for it.", de.Slot)
	case claims.KindQueueFull:
		return fmt.Sprintf("The queue for <b>%s</b> is full (%d waiting). Try again later.", de.Slot, claims.MaxQueueDepth)
	case claims.KindSlotFree:
		return fmt.Sprintf("<b>%s</b> is free right now. Just /claim %s.", de.Slot, de.Slot)
	case claims.KindNotQueued:
		return fmt.Sprintf("You are not in the queue for <b>%s</b>.", de.Slot)
	case claims.KindWrongOfferee:
		return fmt.Sprintf("<b>%s</b> is reserved for %s for another %s.",
			de.Slot, html.EscapeString(de.OffereeName), slots.FormatClock(de.Remaining))
	default:
		return html.EscapeString(de.Error())
	}
}
