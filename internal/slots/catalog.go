// Package slots defines the slot catalog and the duration policy that
// bounds how long a slot may be held.
package slots

import (
	"sort"
	"strings"
	"unicode"

	"respbot/internal/claims"
)

// Slot is a claimable resource. Code is the canonical lower-case key users
// type in commands; Name is the display label; Tier selects the duration cap.
type Slot struct {
	Code string
	Name string
	Tier int
}

// Catalog is the set of known slots, keyed by normalized code. It does not
// lock; the owning scheduler serializes all access.
type Catalog struct {
	slots map[string]Slot
}

func NewCatalog() *Catalog {
	return &Catalog{slots: make(map[string]Slot)}
}

// Normalize canonicalizes a user-typed slot code. Codes are matched
// case-insensitively with surrounding whitespace ignored.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func validCode(code string) bool {
	if code == "" || len(code) > 32 {
		return false
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Get looks up a slot by user-typed code.
func (c *Catalog) Get(code string) (Slot, bool) {
	s, ok := c.slots[Normalize(code)]
	return s, ok
}

// Add registers a new slot. The code must be unused and consist of letters,
// digits, hyphens or underscores.
func (c *Catalog) Add(code, name string, tier int) (Slot, error) {
	key := Normalize(code)
	if !validCode(key) {
		return Slot{}, claims.NewValidation(key, "slot codes are 1-32 letters, digits, '-' or '_'")
	}
	if tier < 1 {
		return Slot{}, claims.NewValidation(key, "tier must be a positive integer")
	}
	if _, exists := c.slots[key]; exists {
		return Slot{}, claims.NewValidation(key, "a slot with this code already exists")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = key
	}
	s := Slot{Code: key, Name: name, Tier: tier}
	c.slots[key] = s
	return s, nil
}

// Remove drops a slot from the catalog. The caller is responsible for
// checking that no claim, offer or queue still references it.
func (c *Catalog) Remove(code string) bool {
	key := Normalize(code)
	if _, ok := c.slots[key]; !ok {
		return false
	}
	delete(c.slots, key)
	return true
}

// All returns every slot sorted by code.
func (c *Catalog) All() []Slot {
	out := make([]Slot, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (c *Catalog) Len() int { return len(c.slots) }
