// Package scheduler owns all claim state and is the only writer of it.
// Every public operation takes one mutex, mutates the in-memory state,
// persists a snapshot and then publishes events, so per slot there is a
// single total order of transitions and observers never see a half-applied
// handoff.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"respbot/internal/claims"
	"respbot/internal/eventbus"
	"respbot/internal/slots"
	"respbot/internal/storage"
	logx "respbot/pkg/logx"
)

const (
	DefaultTickInterval = 15 * time.Second
	DefaultOfferWindow  = 10 * time.Minute

	// auditRetention bounds the append-only audit trail; the daily
	// housekeeping job drops entries past it.
	auditRetention = 90 * 24 * time.Hour
)

// Config carries the scheduler knobs. Zero values fall back to defaults.
type Config struct {
	TickInterval time.Duration
	OfferWindow  time.Duration
	Location     *time.Location
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.OfferWindow <= 0 {
		c.OfferWindow = DefaultOfferWindow
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

type Service struct {
	log logx.Logger
	bus eventbus.Bus
	gw  storage.Store

	mu      sync.Mutex
	cfg     Config
	catalog *slots.Catalog
	state   *claims.Store
	dirty   bool

	cron      *cron.Cron
	tickEntry cron.EntryID

	now func() time.Time
}

// Option tweaks a Service at construction time.
type Option func(*Service)

// WithClock replaces the wall clock. Tests use it to step time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, gw storage.Store, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		gw:      gw,
		cfg:     cfg.withDefaults(),
		catalog: slots.NewCatalog(),
		state:   claims.NewStore(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load restores the persisted snapshot. A corrupt or unreadable snapshot is
// fatal; running with silently emptied state would double-book slots.
// An absent snapshot is a normal first start.
func (s *Service) Load(ctx context.Context) error {
	st, ok, err := s.gw.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler state: %w", err)
	}
	if !ok {
		s.log.Info("no persisted state, starting empty")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range st.Slots {
		if _, err := s.catalog.Add(sl.Code, sl.Name, sl.Tier); err != nil {
			return fmt.Errorf("restore slot %s: %w", sl.Code, err)
		}
		if sl.Claim != nil {
			s.state.SetClaim(&claims.Claim{
				Slot:       sl.Code,
				HolderID:   sl.Claim.HolderID,
				HolderName: sl.Claim.HolderName,
				Total:      time.Duration(sl.Claim.TotalSeconds) * time.Second,
				StartedAt:  sl.Claim.StartedAt,
			})
		}
		if sl.Offer != nil {
			s.state.SetOffer(&claims.Offer{
				Slot:        sl.Code,
				OffereeID:   sl.Offer.OffereeID,
				OffereeName: sl.Offer.OffereeName,
				Desired:     time.Duration(sl.Offer.DesiredSeconds) * time.Second,
				OfferedAt:   sl.Offer.OfferedAt,
			})
		}
		for _, q := range sl.Queue {
			if _, err := s.state.Enqueue(&claims.QueueEntry{
				Slot:          sl.Code,
				RequesterID:   q.RequesterID,
				RequesterName: q.RequesterName,
				Desired:       time.Duration(q.DesiredSeconds) * time.Second,
				EnqueuedAt:    q.EnqueuedAt,
			}); err != nil {
				return fmt.Errorf("restore queue for %s: %w", sl.Code, err)
			}
		}
	}
	s.log.Info("state restored",
		logx.Int("slots", s.catalog.Len()),
		logx.Time("saved_at", st.SavedAt))
	return nil
}

// Seed registers configured slots that the snapshot does not know yet.
// Snapshot slots win; config seeding never mutates restored state.
func (s *Service) Seed(ctx context.Context, seeds []slots.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, seed := range seeds {
		if _, ok := s.catalog.Get(seed.Code); ok {
			continue
		}
		if _, err := s.catalog.Add(seed.Code, seed.Name, seed.Tier); err != nil {
			return fmt.Errorf("seed slot %s: %w", seed.Code, err)
		}
		added++
	}
	if added > 0 {
		s.persistLocked(ctx)
	}
	return nil
}

// Start runs one immediate sweep (expired claims from before a restart are
// resolved here, not stretched) and then schedules the periodic tick.
func (s *Service) Start(ctx context.Context) error {
	s.Tick(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(s.cfg.Location))
	id, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.TickInterval), func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	// Daily housekeeping: a safety flush (catches a snapshot that failed to
	// write and was never retried because no further transitions happened)
	// and audit trail compaction.
	if _, err := c.AddFunc("@daily", func() {
		ctx := context.Background()
		s.Flush(ctx)
		if err := s.gw.PruneAudit(ctx, s.now().Add(-auditRetention)); err != nil {
			s.log.Warn("audit prune failed", logx.Err(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule flush: %w", err)
	}
	s.cron = c
	s.tickEntry = id
	c.Start()
	s.log.Info("scheduler started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("offer_window", s.cfg.OfferWindow))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.Flush(context.Background())
	s.log.Info("scheduler stopped")
}

// Apply reconfigures tick interval and offer window at runtime. Offer
// deadlines are recomputed from stored instants, so a window change takes
// effect for pending offers too.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.cron != nil && cfg.TickInterval != old.TickInterval {
		s.cron.Remove(s.tickEntry)
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
			s.Tick(context.Background())
		})
		if err != nil {
			return fmt.Errorf("reschedule tick: %w", err)
		}
		s.tickEntry = id
		s.log.Info("tick interval changed",
			logx.Duration("from", old.TickInterval),
			logx.Duration("to", cfg.TickInterval))
	}
	return nil
}

// Claim gives the slot to the caller, either outright on a free slot or by
// resolving a pending offer addressed to them. rawDuration may be empty.
func (s *Service) Claim(ctx context.Context, actorID int64, actorName, code, rawDuration string) (claims.Claim, error) {
	s.mu.Lock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		s.mu.Unlock()
		return claims.Claim{}, unknownSlot(code)
	}
	now := s.now()

	if o := s.state.Offer(sl.Code); o != nil {
		if o.OffereeID != actorID {
			err := &claims.Error{
				Kind:        claims.KindWrongOfferee,
				Slot:        sl.Code,
				Detail:      "this slot is reserved for the next in line",
				OffereeName: o.OffereeName,
				Remaining:   o.Remaining(now, s.cfg.OfferWindow),
			}
			s.mu.Unlock()
			return claims.Claim{}, err
		}
		// Accepting the offer. A duration pre-chosen at enqueue time is
		// binding; only an open offer lets the offeree pick now.
		var total time.Duration
		if o.Desired > 0 {
			if strings.TrimSpace(rawDuration) != "" {
				s.mu.Unlock()
				return claims.Claim{}, claims.NewValidation(sl.Code,
					fmt.Sprintf("you queued with %s; claim without a duration to use it", slots.FormatDuration(o.Desired)))
			}
			total = o.Desired
		} else {
			var err error
			total, err = sl.ResolveDuration(rawDuration)
			if err != nil {
				s.mu.Unlock()
				return claims.Claim{}, err
			}
		}
		s.state.ClearOffer(sl.Code)
		// The offeree may have re-enqueued while the offer was pending;
		// holding the slot and waiting for it at once makes no sense.
		s.state.Dequeue(sl.Code, actorID)
		c := s.startClaimLocked(sl, actorID, actorName, total, now)
		ev := s.eventClaimStarted(sl, c)
		s.persistLocked(ctx)
		s.mu.Unlock()

		s.audit(ctx, "claim", sl.Code, actorID, actorName, "accepted offer")
		s.publish(ev)
		return c, nil
	}

	if cur := s.state.Claim(sl.Code); cur != nil {
		err := &claims.Error{
			Kind:       claims.KindSlotOccupied,
			Slot:       sl.Code,
			Detail:     "slot is taken",
			HolderName: cur.HolderName,
			Remaining:  cur.Remaining(now),
		}
		s.mu.Unlock()
		return claims.Claim{}, err
	}

	total, err := sl.ResolveDuration(rawDuration)
	if err != nil {
		s.mu.Unlock()
		return claims.Claim{}, err
	}
	c := s.startClaimLocked(sl, actorID, actorName, total, now)
	ev := s.eventClaimStarted(sl, c)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "claim", sl.Code, actorID, actorName, slots.FormatDuration(total))
	s.publish(ev)
	return c, nil
}

// Release ends the caller's claim early and hands the slot to the queue.
func (s *Service) Release(ctx context.Context, actorID int64, code string) error {
	s.mu.Lock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		s.mu.Unlock()
		return unknownSlot(code)
	}
	now := s.now()

	cur := s.state.Claim(sl.Code)
	if cur == nil {
		err := &claims.Error{Kind: claims.KindSlotFree, Slot: sl.Code, Detail: "nothing to release, the slot is free"}
		s.mu.Unlock()
		return err
	}
	if cur.HolderID != actorID {
		err := &claims.Error{
			Kind:       claims.KindNotHolder,
			Slot:       sl.Code,
			Detail:     "only the holder can release",
			HolderName: cur.HolderName,
			Remaining:  cur.Remaining(now),
		}
		s.mu.Unlock()
		return err
	}

	s.state.ClearClaim(sl.Code)
	events := []eventbus.Event{{
		Type: EventClaimReleased,
		Time: now,
		Data: ClaimReleased{Slot: sl, HolderID: cur.HolderID, HolderName: cur.HolderName, Remaining: cur.Remaining(now)},
	}}
	events = append(events, s.promoteLocked(sl, now)...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "release", sl.Code, actorID, cur.HolderName, "")
	s.publish(events...)
	return nil
}

// Enqueue puts the caller at the back of the slot's queue and returns the
// 1-based position. rawDuration, when given, is parsed and validated now and
// carried through to the eventual offer unchanged.
func (s *Service) Enqueue(ctx context.Context, actorID int64, actorName, code, rawDuration string) (int, error) {
	s.mu.Lock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		s.mu.Unlock()
		return 0, unknownSlot(code)
	}
	now := s.now()

	if cur := s.state.Claim(sl.Code); cur != nil && cur.HolderID == actorID {
		err := &claims.Error{Kind: claims.KindAlreadyHolder, Slot: sl.Code, Detail: "you already hold this slot"}
		s.mu.Unlock()
		return 0, err
	}
	if !s.state.Occupied(sl.Code) {
		err := &claims.Error{Kind: claims.KindSlotFree, Slot: sl.Code, Detail: "the slot is free, claim it instead"}
		s.mu.Unlock()
		return 0, err
	}

	var desired time.Duration
	if strings.TrimSpace(rawDuration) != "" {
		d, err := slots.ParseDuration(rawDuration)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		if err := sl.CheckDuration(d); err != nil {
			s.mu.Unlock()
			return 0, err
		}
		desired = d
	}

	pos, err := s.state.Enqueue(&claims.QueueEntry{
		Slot:          sl.Code,
		RequesterID:   actorID,
		RequesterName: actorName,
		Desired:       desired,
		EnqueuedAt:    now,
	})
	if err != nil {
		s.mu.Unlock()
		s.audit(ctx, "enqueue_rejected", sl.Code, actorID, actorName, err.Error())
		return 0, err
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "enqueue", sl.Code, actorID, actorName, fmt.Sprintf("position %d", pos))
	return pos, nil
}

// Dequeue removes the caller from the slot's queue.
func (s *Service) Dequeue(ctx context.Context, actorID int64, code string) error {
	s.mu.Lock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		s.mu.Unlock()
		return unknownSlot(code)
	}
	if !s.state.Dequeue(sl.Code, actorID) {
		err := &claims.Error{Kind: claims.KindNotQueued, Slot: sl.Code, Detail: "you are not in this queue"}
		s.mu.Unlock()
		return err
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "dequeue", sl.Code, actorID, "", "")
	return nil
}

// Status returns a snapshot of one slot.
func (s *Service) Status(code string) (SlotView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		return SlotView{}, unknownSlot(code)
	}
	return s.viewLocked(sl, s.now()), nil
}

// StatusAll returns snapshots of every slot, sorted by code.
func (s *Service) StatusAll() []SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	all := s.catalog.All()
	out := make([]SlotView, 0, len(all))
	for _, sl := range all {
		out = append(out, s.viewLocked(sl, now))
	}
	return out
}

// AddSlot registers a new claimable slot at runtime.
func (s *Service) AddSlot(ctx context.Context, actorID int64, code, name string, tier int) (slots.Slot, error) {
	s.mu.Lock()
	sl, err := s.catalog.Add(code, name, tier)
	if err != nil {
		s.mu.Unlock()
		return slots.Slot{}, err
	}
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "slot_add", sl.Code, actorID, "", fmt.Sprintf("tier %d", sl.Tier))
	return sl, nil
}

// RemoveSlot retires a slot. It refuses while any claim, offer or waiter
// still references the slot.
func (s *Service) RemoveSlot(ctx context.Context, actorID int64, code string) error {
	s.mu.Lock()
	sl, ok := s.catalog.Get(code)
	if !ok {
		s.mu.Unlock()
		return unknownSlot(code)
	}
	if s.state.InUse(sl.Code) {
		s.mu.Unlock()
		return claims.NewValidation(sl.Code, "slot is in use; wait for it to drain or have waiters dequeue")
	}
	s.catalog.Remove(sl.Code)
	s.state.DropSlot(sl.Code)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.audit(ctx, "slot_remove", sl.Code, actorID, "", "")
	return nil
}

// Tick sweeps every slot once: expired claims are removed and their slots
// handed to the queue, lapsed offers pass to the next waiter. Expiry is
// structural, the claim is gone from the store after the first sweep that
// sees it, so a racing duplicate sweep finds nothing to expire.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var events []eventbus.Event
	changed := false

	for _, sl := range s.catalog.All() {
		if c := s.state.Claim(sl.Code); c != nil && c.Expired(now) {
			s.state.ClearClaim(sl.Code)
			events = append(events, eventbus.Event{
				Type: EventClaimExpired,
				Time: now,
				Data: ClaimExpired{Slot: sl, HolderID: c.HolderID, HolderName: c.HolderName},
			})
			events = append(events, s.promoteLocked(sl, now)...)
			changed = true
		}
		if o := s.state.Offer(sl.Code); o != nil && o.Expired(now, s.cfg.OfferWindow) {
			s.state.ClearOffer(sl.Code)
			events = append(events, eventbus.Event{
				Type: EventOfferExpired,
				Time: now,
				Data: OfferExpired{Slot: sl, OffereeID: o.OffereeID, OffereeName: o.OffereeName},
			})
			events = append(events, s.promoteLocked(sl, now)...)
			changed = true
		}
	}

	if changed || s.dirty {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	for _, ev := range events {
		switch d := ev.Data.(type) {
		case ClaimExpired:
			s.audit(ctx, "expire", d.Slot.Code, d.HolderID, d.HolderName, "")
		case OfferExpired:
			s.audit(ctx, "offer_expire", d.Slot.Code, d.OffereeID, d.OffereeName, "")
		}
	}
	s.publish(events...)
}

// Flush persists the current snapshot unconditionally.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	s.persistLocked(ctx)
	s.mu.Unlock()
}

// OfferWindow returns the currently configured offer window.
func (s *Service) OfferWindow() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.OfferWindow
}

func (s *Service) startClaimLocked(sl slots.Slot, holderID int64, holderName string, total time.Duration, now time.Time) claims.Claim {
	c := &claims.Claim{
		Slot:       sl.Code,
		HolderID:   holderID,
		HolderName: holderName,
		Total:      total,
		StartedAt:  now,
	}
	s.state.SetClaim(c)
	return *c
}

func (s *Service) eventClaimStarted(sl slots.Slot, c claims.Claim) eventbus.Event {
	return eventbus.Event{
		Type: EventClaimStarted,
		Time: c.StartedAt,
		Data: ClaimStarted{
			Slot:       sl,
			HolderID:   c.HolderID,
			HolderName: c.HolderName,
			Total:      c.Total,
			Until:      c.StartedAt.Add(c.Total),
		},
	}
}

// promoteLocked hands a freed slot to the queue head, if any. The popped
// entry's desired duration rides along unchanged; a zero duration defers the
// choice to acceptance.
func (s *Service) promoteLocked(sl slots.Slot, now time.Time) []eventbus.Event {
	head := s.state.PopHead(sl.Code)
	if head == nil {
		return nil
	}
	o := &claims.Offer{
		Slot:        sl.Code,
		OffereeID:   head.RequesterID,
		OffereeName: head.RequesterName,
		Desired:     head.Desired,
		OfferedAt:   now,
	}
	s.state.SetOffer(o)
	return []eventbus.Event{{
		Type: EventOfferMade,
		Time: now,
		Data: OfferMade{
			Slot:        sl,
			OffereeID:   o.OffereeID,
			OffereeName: o.OffereeName,
			Desired:     o.Desired,
			Deadline:    o.Deadline(s.cfg.OfferWindow),
		},
	}}
}

func (s *Service) viewLocked(sl slots.Slot, now time.Time) SlotView {
	v := SlotView{Slot: sl, Now: now, Queue: s.state.Queue(sl.Code)}
	if c := s.state.Claim(sl.Code); c != nil {
		cc := *c
		v.Claim = &cc
		v.ClaimRemaining = c.Remaining(now)
	}
	if o := s.state.Offer(sl.Code); o != nil {
		oo := *o
		v.Offer = &oo
		v.OfferRemaining = o.Remaining(now, s.cfg.OfferWindow)
	}
	return v
}

// persistLocked writes the snapshot. A failed write is logged and marks the
// state dirty so the next tick retries; in-memory state stays authoritative.
func (s *Service) persistLocked(ctx context.Context) {
	if s.gw == nil {
		return
	}
	st := storage.State{Version: storage.StateVersion, SavedAt: s.now()}
	for _, sl := range s.catalog.All() {
		ss := storage.SlotState{Code: sl.Code, Name: sl.Name, Tier: sl.Tier}
		if c := s.state.Claim(sl.Code); c != nil {
			ss.Claim = &storage.ClaimState{
				HolderID:     c.HolderID,
				HolderName:   c.HolderName,
				TotalSeconds: int64(c.Total / time.Second),
				StartedAt:    c.StartedAt,
			}
		}
		if o := s.state.Offer(sl.Code); o != nil {
			ss.Offer = &storage.OfferState{
				OffereeID:      o.OffereeID,
				OffereeName:    o.OffereeName,
				DesiredSeconds: int64(o.Desired / time.Second),
				OfferedAt:      o.OfferedAt,
			}
		}
		for _, q := range s.state.Queue(sl.Code) {
			ss.Queue = append(ss.Queue, storage.QueueEntryState{
				RequesterID:    q.RequesterID,
				RequesterName:  q.RequesterName,
				DesiredSeconds: int64(q.Desired / time.Second),
				EnqueuedAt:     q.EnqueuedAt,
			})
		}
		st.Slots = append(st.Slots, ss)
	}
	if err := s.gw.SaveState(ctx, st); err != nil {
		s.dirty = true
		s.log.Error("snapshot write failed, will retry on next tick", logx.Err(err))
		return
	}
	s.dirty = false
}

func (s *Service) audit(ctx context.Context, action, slot string, actorID int64, actorName, detail string) {
	if s.gw == nil {
		return
	}
	e := storage.AuditEntry{
		At:        s.now(),
		Action:    action,
		Slot:      slot,
		ActorID:   actorID,
		ActorName: actorName,
		Detail:    detail,
	}
	if err := s.gw.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) publish(events ...eventbus.Event) {
	if s.bus == nil {
		return
	}
	for _, ev := range events {
		s.bus.Publish(ev)
	}
}

func unknownSlot(code string) *claims.Error {
	return &claims.Error{
		Kind:   claims.KindUnknownSlot,
		Slot:   slots.Normalize(code),
		Detail: "no such slot, try the status command for the list",
	}
}
