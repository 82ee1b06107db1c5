package claims

// MaxQueueDepth is the fixed cap on waiting requesters per slot.
const MaxQueueDepth = 3

// Store holds all mutable scheduler state: one optional claim, one optional
// pending offer and a bounded FIFO queue per slot. Keys are normalized slot
// codes. The store performs no locking; the owning scheduler serializes.
type Store struct {
	claims map[string]*Claim
	queues map[string][]*QueueEntry
	offers map[string]*Offer
}

func NewStore() *Store {
	return &Store{
		claims: make(map[string]*Claim),
		queues: make(map[string][]*QueueEntry),
		offers: make(map[string]*Offer),
	}
}

// Claim returns the active claim for the slot, or nil.
func (s *Store) Claim(code string) *Claim { return s.claims[code] }

func (s *Store) SetClaim(c *Claim) { s.claims[c.Slot] = c }

func (s *Store) ClearClaim(code string) { delete(s.claims, code) }

// Offer returns the pending offer for the slot, or nil.
func (s *Store) Offer(code string) *Offer { return s.offers[code] }

func (s *Store) SetOffer(o *Offer) { s.offers[o.Slot] = o }

func (s *Store) ClearOffer(code string) { delete(s.offers, code) }

// Occupied reports whether the slot has an active claim or a pending offer.
// A slot with a pending offer counts as occupied for everyone except the
// offeree.
func (s *Store) Occupied(code string) bool {
	return s.claims[code] != nil || s.offers[code] != nil
}

// Queue returns a copy of the slot's queue in FIFO order.
func (s *Store) Queue(code string) []*QueueEntry {
	q := s.queues[code]
	if len(q) == 0 {
		return nil
	}
	out := make([]*QueueEntry, len(q))
	copy(out, q)
	return out
}

func (s *Store) QueueLen(code string) int { return len(s.queues[code]) }

// QueuePosition returns the 1-based position of the user in the slot's queue,
// or 0 when not queued.
func (s *Store) QueuePosition(code string, userID int64) int {
	for i, e := range s.queues[code] {
		if e.RequesterID == userID {
			return i + 1
		}
	}
	return 0
}

// Enqueue appends the entry and returns its 1-based position. It rejects
// duplicates and enforces the queue cap; admission rules beyond that (slot
// state, holder identity) are the scheduler's business.
func (s *Store) Enqueue(e *QueueEntry) (int, error) {
	if s.QueuePosition(e.Slot, e.RequesterID) != 0 {
		return 0, &Error{Kind: KindAlreadyQueued, Slot: e.Slot, Detail: "already waiting in this queue"}
	}
	if len(s.queues[e.Slot]) >= MaxQueueDepth {
		return 0, &Error{Kind: KindQueueFull, Slot: e.Slot, Detail: "queue is full"}
	}
	s.queues[e.Slot] = append(s.queues[e.Slot], e)
	return len(s.queues[e.Slot]), nil
}

// Dequeue removes the user from the slot's queue, preserving order of the
// rest. It reports whether an entry was removed.
func (s *Store) Dequeue(code string, userID int64) bool {
	q := s.queues[code]
	for i, e := range q {
		if e.RequesterID == userID {
			s.queues[code] = append(q[:i:i], q[i+1:]...)
			if len(s.queues[code]) == 0 {
				delete(s.queues, code)
			}
			return true
		}
	}
	return false
}

// PopHead removes and returns the first waiting entry, or nil.
func (s *Store) PopHead(code string) *QueueEntry {
	q := s.queues[code]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	if len(q) == 1 {
		delete(s.queues, code)
	} else {
		s.queues[code] = q[1:]
	}
	return head
}

// DropSlot removes every trace of the slot. Used when a slot is retired.
func (s *Store) DropSlot(code string) {
	delete(s.claims, code)
	delete(s.offers, code)
	delete(s.queues, code)
}

// InUse reports whether the slot has any state at all (claim, offer or
// waiters), which blocks slot removal.
func (s *Store) InUse(code string) bool {
	return s.claims[code] != nil || s.offers[code] != nil || len(s.queues[code]) > 0
}

// Codes returns every slot code that currently has state. Order is unspecified.
func (s *Store) Codes() []string {
	seen := make(map[string]struct{})
	for c := range s.claims {
		seen[c] = struct{}{}
	}
	for c := range s.offers {
		seen[c] = struct{}{}
	}
	for c := range s.queues {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}
