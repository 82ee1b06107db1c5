package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"respbot/internal/claims"
	"respbot/internal/eventbus"
	"respbot/internal/slots"
	"respbot/internal/storage"
	logx "respbot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	clock *fakeClock
	gw    storage.Store
	path  string
	bus   eventbus.Bus
	evs   <-chan eventbus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, filepath.Join(t.TempDir(), "resp.json"))
}

func newFixtureAt(t *testing.T, path string) *fixture {
	t.Helper()
	gw, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = gw.Close() })

	clock := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	bus := eventbus.New()
	evs, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)

	svc := New(Config{Location: time.UTC}, logx.Nop(), bus, gw, WithClock(clock.Now))
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := svc.Seed(context.Background(), []slots.Slot{
		{Code: "f4", Name: "Fortress 4", Tier: 1},
		{Code: "d2", Name: "Keep D2", Tier: 3},
	}); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return &fixture{svc: svc, clock: clock, gw: gw, path: path, bus: bus, evs: evs}
}

// nextEvent drains until an event of the wanted type arrives.
func (f *fixture) nextEvent(t *testing.T, wantType string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.evs:
			if ev.Type == wantType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", wantType)
		}
	}
}

func TestClaimFreeSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Claim(ctx, 1, "ana", "F4", "1:30")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if c.Total != 90*time.Minute {
		t.Fatalf("Total = %v, want 1h30m", c.Total)
	}

	ev := f.nextEvent(t, EventClaimStarted)
	started := ev.Data.(ClaimStarted)
	if started.HolderName != "ana" || !started.Until.Equal(c.StartedAt.Add(90*time.Minute)) {
		t.Fatalf("ClaimStarted = %+v", started)
	}

	// A second claimant is told who holds the slot and for how long.
	f.clock.Advance(20 * time.Minute)
	_, err = f.svc.Claim(ctx, 2, "bo", "f4", "")
	if !claims.IsKind(err, claims.KindSlotOccupied) {
		t.Fatalf("second Claim error = %v, want slot_occupied", err)
	}
	de := err.(*claims.Error)
	if de.HolderName != "ana" || de.Remaining != 70*time.Minute {
		t.Fatalf("occupied context = %+v", de)
	}
}

func TestClaimDefaultDurationIsCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c, err := f.svc.Claim(context.Background(), 1, "ana", "d2", "")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if c.Total != 3*time.Hour+15*time.Minute {
		t.Fatalf("tier 3 default = %v, want 3h15m", c.Total)
	}
}

func TestEnqueueRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// A free slot rejects waiters outright.
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); !claims.IsKind(err, claims.KindSlotFree) {
		t.Fatalf("Enqueue on free slot = %v, want slot_free", err)
	}

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "2:30"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 1, "ana", "f4", ""); !claims.IsKind(err, claims.KindAlreadyHolder) {
		t.Fatalf("holder Enqueue = %v, want already_holder", err)
	}

	for i, id := range []int64{2, 3, 4} {
		pos, err := f.svc.Enqueue(ctx, id, "w", "f4", "")
		if err != nil {
			t.Fatalf("Enqueue(%d): %v", id, err)
		}
		if pos != i+1 {
			t.Fatalf("position = %d, want %d", pos, i+1)
		}
	}
	if _, err := f.svc.Enqueue(ctx, 5, "ed", "f4", ""); !claims.IsKind(err, claims.KindQueueFull) {
		t.Fatalf("fourth waiter = %v, want queue_full", err)
	}
	if _, err := f.svc.Enqueue(ctx, 3, "cy", "f4", ""); !claims.IsKind(err, claims.KindAlreadyQueued) {
		t.Fatalf("repeat waiter = %v, want already_queued", err)
	}

	// Bad durations are rejected at enqueue time, not at acceptance.
	if err := f.svc.Dequeue(ctx, 4, "f4"); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 6, "fi", "f4", "0:10"); !claims.IsKind(err, claims.KindValidation) {
		t.Fatalf("bad duration Enqueue = %v, want validation", err)
	}
}

func TestReleaseHandsOffToQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Release(ctx, 1, "f4"); !claims.IsKind(err, claims.KindSlotFree) {
		t.Fatalf("Release on free slot = %v, want slot_free", err)
	}

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "2:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := f.svc.Release(ctx, 2, "f4"); !claims.IsKind(err, claims.KindNotHolder) {
		t.Fatalf("stranger Release = %v, want not_holder", err)
	}

	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", "1:30"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 3, "cy", "f4", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := f.svc.Release(ctx, 1, "f4"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	made := f.nextEvent(t, EventOfferMade).Data.(OfferMade)
	if made.OffereeName != "bo" || made.Desired != 90*time.Minute {
		t.Fatalf("OfferMade = %+v", made)
	}
	if !made.Deadline.Equal(f.clock.Now().Add(DefaultOfferWindow)) {
		t.Fatalf("Deadline = %v", made.Deadline)
	}

	// The reserved slot turns others away with the offeree's name.
	_, err := f.svc.Claim(ctx, 9, "zed", "f4", "")
	if !claims.IsKind(err, claims.KindWrongOfferee) {
		t.Fatalf("stranger Claim on offer = %v, want wrong_offeree", err)
	}
	if de := err.(*claims.Error); de.OffereeName != "bo" {
		t.Fatalf("wrong_offeree context = %+v", de)
	}

	// A duration fixed at enqueue time is binding at acceptance.
	if _, err := f.svc.Claim(ctx, 2, "bo", "f4", "2:00"); !claims.IsKind(err, claims.KindValidation) {
		t.Fatalf("override of fixed duration = %v, want validation", err)
	}
	c, err := f.svc.Claim(ctx, 2, "bo", "f4", "")
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if c.Total != 90*time.Minute {
		t.Fatalf("accepted Total = %v, want the enqueued 1h30m", c.Total)
	}
}

func TestOpenOfferLetsOffereePick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "1:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.svc.Release(ctx, 1, "f4"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// No duration fixed at enqueue time: offeree picks now, default is the cap.
	c, err := f.svc.Claim(ctx, 2, "bo", "f4", "1:15")
	if err != nil {
		t.Fatalf("accept with choice: %v", err)
	}
	if c.Total != 75*time.Minute {
		t.Fatalf("Total = %v, want 1h15m", c.Total)
	}
}

func TestOfferExpiryPassesDownTheQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "1:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); err != nil {
		t.Fatalf("Enqueue bo: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 3, "cy", "f4", ""); err != nil {
		t.Fatalf("Enqueue cy: %v", err)
	}
	if err := f.svc.Release(ctx, 1, "f4"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	f.nextEvent(t, EventOfferMade)

	// bo sleeps through the window; cy is next.
	f.clock.Advance(DefaultOfferWindow + time.Second)
	f.svc.Tick(ctx)
	exp := f.nextEvent(t, EventOfferExpired).Data.(OfferExpired)
	if exp.OffereeName != "bo" {
		t.Fatalf("OfferExpired = %+v", exp)
	}
	made := f.nextEvent(t, EventOfferMade).Data.(OfferMade)
	if made.OffereeName != "cy" {
		t.Fatalf("second OfferMade = %+v", made)
	}

	// cy sleeps too; the queue is empty so the slot goes free.
	f.clock.Advance(DefaultOfferWindow + time.Second)
	f.svc.Tick(ctx)
	f.nextEvent(t, EventOfferExpired)

	v, err := f.svc.Status("f4")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !v.Free() || len(v.Queue) != 0 {
		t.Fatalf("slot should be free and drained: %+v", v)
	}
}

func TestClaimExpiryIsStructural(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "1:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.clock.Advance(time.Hour)
	f.svc.Tick(ctx)
	exp := f.nextEvent(t, EventClaimExpired).Data.(ClaimExpired)
	if exp.HolderName != "ana" {
		t.Fatalf("ClaimExpired = %+v", exp)
	}
	f.nextEvent(t, EventOfferMade)

	// A second sweep finds the claim already gone; no duplicate expiry.
	f.svc.Tick(ctx)
	select {
	case ev := <-f.evs:
		if ev.Type == EventClaimExpired {
			t.Fatalf("duplicate expiry event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRestartRecoversState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "resp.json")
	f := newFixtureAt(t, path)
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "2:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", "1:30"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Fresh process, same snapshot, 30 minutes later.
	gw2, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer gw2.Close()

	clock2 := newClock(f.clock.Now().Add(30 * time.Minute))
	svc2 := New(Config{Location: time.UTC}, logx.Nop(), nil, gw2, WithClock(clock2.Now))
	if err := svc2.Load(ctx); err != nil {
		t.Fatalf("Load after restart: %v", err)
	}

	v, err := svc2.Status("f4")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Claim == nil || v.Claim.HolderName != "ana" {
		t.Fatalf("claim lost across restart: %+v", v)
	}
	// Downtime counts against the claim; remaining is wall-clock derived.
	if v.ClaimRemaining != 90*time.Minute {
		t.Fatalf("ClaimRemaining = %v, want 1h30m", v.ClaimRemaining)
	}
	if len(v.Queue) != 1 || v.Queue[0].RequesterName != "bo" {
		t.Fatalf("queue lost across restart: %+v", v.Queue)
	}

	// A claim that ran out while the process was down expires on the first
	// sweep after boot.
	clock2.Advance(2 * time.Hour)
	svc2.Tick(ctx)
	v, err = svc2.Status("f4")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Claim != nil {
		t.Fatalf("expired claim survived restart sweep: %+v", v.Claim)
	}
	if v.Offer == nil || v.Offer.OffereeName != "bo" {
		t.Fatalf("queue head was not promoted: %+v", v.Offer)
	}
}

func TestSlotLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddSlot(ctx, 99, "N7", "North 7", 3); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if _, err := f.svc.Claim(ctx, 1, "ana", "n7", ""); err != nil {
		t.Fatalf("Claim new slot: %v", err)
	}

	if err := f.svc.RemoveSlot(ctx, 99, "n7"); !claims.IsKind(err, claims.KindValidation) {
		t.Fatalf("RemoveSlot while held = %v, want validation", err)
	}
	if err := f.svc.Release(ctx, 1, "n7"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := f.svc.RemoveSlot(ctx, 99, "n7"); err != nil {
		t.Fatalf("RemoveSlot: %v", err)
	}
	if _, err := f.svc.Status("n7"); !claims.IsKind(err, claims.KindUnknownSlot) {
		t.Fatalf("Status after removal = %v, want unknown_slot", err)
	}

	if _, err := f.svc.Claim(ctx, 1, "ana", "nowhere", ""); !claims.IsKind(err, claims.KindUnknownSlot) {
		t.Fatalf("Claim unknown = %v, want unknown_slot", err)
	}
}

func TestDequeue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Dequeue(ctx, 2, "f4"); !claims.IsKind(err, claims.KindNotQueued) {
		t.Fatalf("Dequeue when absent = %v, want not_queued", err)
	}

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "1:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.svc.Dequeue(ctx, 2, "f4"); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// The queue is empty now, so release leaves the slot free.
	if err := f.svc.Release(ctx, 1, "f4"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	v, err := f.svc.Status("f4")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !v.Free() {
		t.Fatalf("slot should be free: %+v", v)
	}
}

func TestAcceptDropsOwnQueueEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Claim(ctx, 1, "ana", "f4", "1:00"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := f.svc.Release(ctx, 1, "f4"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	f.nextEvent(t, EventOfferMade)

	// bo lines up again while their own offer is still pending, then accepts.
	if _, err := f.svc.Enqueue(ctx, 2, "bo", "f4", "1:30"); err != nil {
		t.Fatalf("Enqueue during offer: %v", err)
	}
	if _, err := f.svc.Claim(ctx, 2, "bo", "f4", "1:15"); err != nil {
		t.Fatalf("accept offer: %v", err)
	}

	// Holding the slot and waiting for it at once would double-book bo.
	v, err := f.svc.Status("f4")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.Claim == nil || v.Claim.HolderID != 2 {
		t.Fatalf("claim = %+v, want held by bo", v.Claim)
	}
	if len(v.Queue) != 0 {
		t.Fatalf("queue = %+v, want empty after acceptance", v.Queue)
	}
	if err := f.svc.Dequeue(ctx, 2, "f4"); !claims.IsKind(err, claims.KindNotQueued) {
		t.Fatalf("Dequeue after acceptance = %v, want not_queued", err)
	}
}
