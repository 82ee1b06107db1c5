package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"respbot/internal/claims"
	"respbot/internal/claims/scheduler"
	"respbot/internal/eventbus"
	"respbot/internal/slots"
)

func TestStatusRendering(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sl := slots.Slot{Code: "f4", Name: "Fortress <4>", Tier: 1}

	held := scheduler.SlotView{
		Slot: sl, Now: now,
		Claim:          &claims.Claim{Slot: "f4", HolderName: "a<na>", Total: 2 * time.Hour, StartedAt: now.Add(-30 * time.Minute)},
		ClaimRemaining: 90 * time.Minute,
		Queue: []*claims.QueueEntry{
			{RequesterName: "bo", Desired: 90 * time.Minute},
			{RequesterName: "cy"},
		},
	}

	out := StatusOne(held)
	for _, want := range []string{"Fortress &lt;4&gt;", "a&lt;na&gt;", "1:30:00", "1. bo (1:30)", "2. cy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status %q missing %q", out, want)
		}
	}

	free := scheduler.SlotView{Slot: sl, Now: now}
	if !strings.Contains(StatusOne(free), "free") {
		t.Fatalf("free slot status = %q", StatusOne(free))
	}

	offered := scheduler.SlotView{
		Slot: sl, Now: now,
		Offer:          &claims.Offer{Slot: "f4", OffereeName: "bo", OfferedAt: now},
		OfferRemaining: 8 * time.Minute,
	}
	if out := StatusOne(offered); !strings.Contains(out, "reserved for bo") || !strings.Contains(out, "0:08:00") {
		t.Fatalf("offered status = %q", out)
	}

	if got := StatusAll(nil); !strings.Contains(got, "No slots") {
		t.Fatalf("empty board = %q", got)
	}
}

func TestAlertFor(t *testing.T) {
	t.Parallel()

	sl := slots.Slot{Code: "f4", Name: "Fortress 4", Tier: 1}
	deadline := time.Date(2026, 8, 1, 12, 10, 0, 0, time.UTC)

	a, ok := AlertFor(eventbus.Event{Data: scheduler.OfferMade{
		Slot: sl, OffereeID: 7, OffereeName: "bo", Desired: 90 * time.Minute, Deadline: deadline,
	}}, time.UTC)
	if !ok || a.UserID != 7 {
		t.Fatalf("OfferMade alert = %+v, %v", a, ok)
	}
	for _, want := range []string{"Fortress 4", "12:10", "1:30"} {
		if !strings.Contains(a.Text, want) {
			t.Fatalf("offer alert %q missing %q", a.Text, want)
		}
	}

	a, ok = AlertFor(eventbus.Event{Data: scheduler.ClaimExpired{Slot: sl, HolderID: 3, HolderName: "ana"}}, time.UTC)
	if !ok || a.UserID != 3 || !strings.Contains(a.Text, "up") {
		t.Fatalf("ClaimExpired alert = %+v, %v", a, ok)
	}

	// Claim starts are acknowledged inline, not via DM.
	if _, ok := AlertFor(eventbus.Event{Data: scheduler.ClaimStarted{Slot: sl}}, time.UTC); ok {
		t.Fatal("ClaimStarted should not produce an alert")
	}
}

func TestGroupLine(t *testing.T) {
	t.Parallel()

	sl := slots.Slot{Code: "f4", Name: "Fortress 4", Tier: 1}
	until := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)

	line, ok := GroupLine(eventbus.Event{Data: scheduler.ClaimStarted{
		Slot: sl, HolderID: 3, HolderName: "ana", Total: 150 * time.Minute, Until: until,
	}}, time.UTC)
	if !ok || !strings.Contains(line, "ana") || !strings.Contains(line, "14:30") {
		t.Fatalf("claim started line = %q, %v", line, ok)
	}

	line, ok = GroupLine(eventbus.Event{Data: scheduler.ClaimReleased{
		Slot: sl, HolderID: 3, HolderName: "ana", Remaining: 45 * time.Minute,
	}}, time.UTC)
	if !ok || !strings.Contains(line, "0:45") {
		t.Fatalf("claim released line = %q, %v", line, ok)
	}

	line, ok = GroupLine(eventbus.Event{Data: scheduler.OfferExpired{
		Slot: sl, OffereeID: 7, OffereeName: "bo",
	}}, time.UTC)
	if !ok || !strings.Contains(line, "bo") {
		t.Fatalf("offer expired line = %q, %v", line, ok)
	}

	if _, ok := GroupLine(eventbus.Event{Type: "config.reloaded"}, time.UTC); ok {
		t.Fatal("unrelated event should not produce a feed line")
	}
}

func TestErrorText(t *testing.T) {
	t.Parallel()

	occ := &claims.Error{Kind: claims.KindSlotOccupied, Slot: "f4", HolderName: "ana", Remaining: 70 * time.Minute}
	if out := ErrorText(occ); !strings.Contains(out, "ana") || !strings.Contains(out, "1:10:00") {
		t.Fatalf("occupied text = %q", out)
	}

	wrong := &claims.Error{Kind: claims.KindWrongOfferee, Slot: "f4", OffereeName: "bo", Remaining: 5 * time.Minute}
	if out := ErrorText(wrong); !strings.Contains(out, "bo") {
		t.Fatalf("wrong offeree text = %q", out)
	}

	if out := ErrorText(claims.NewValidation("f4", "the cap for F4 is 2:30")); !strings.Contains(out, "2:30") {
		t.Fatalf("validation text = %q", out)
	}

	if out := ErrorText(errors.New("disk on fire")); !strings.Contains(out, "went wrong") {
		t.Fatalf("unexpected error text = %q", out)
	}
}
