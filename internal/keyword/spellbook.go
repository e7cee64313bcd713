package keyword

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrEmptyTrigger is returned when a spell is registered without a trigger
// phrase. An empty trigger would match every transcript.
var ErrEmptyTrigger = errors.New("keyword: empty trigger")

// Spell maps a spoken trigger phrase to the payload emitted when it is heard.
type Spell struct {
	// Trigger is the phrase searched for in transcripts. It is stored
	// trimmed and lower-cased.
	Trigger string

	// Payload identifies the spell to cast. When empty the trigger itself is
	// used.
	Payload string
}

// Name returns the payload, or the trigger when no payload is set.
func (s Spell) Name() string {
	if s.Payload != "" {
		return s.Payload
	}
	return s.Trigger
}

// NormalizeTrigger returns the canonical form of a trigger phrase: trimmed,
// lower-cased, with internal whitespace collapsed.
func NormalizeTrigger(trigger string) string {
	return strings.Join(strings.Fields(strings.ToLower(trigger)), " ")
}

// Spellbook is the ordered set of registered spells. Readers take a lock-free
// snapshot; writers copy, modify and swap it. Registration order is the match
// priority. Spellbook is safe for concurrent use.
type Spellbook struct {
	mu     sync.Mutex // serialises writers
	spells atomic.Pointer[[]Spell]
}

// NewSpellbook returns a spellbook pre-populated with spells.
func NewSpellbook(spells ...Spell) (*Spellbook, error) {
	b := &Spellbook{}
	if err := b.Replace(spells); err != nil {
		return nil, err
	}
	return b, nil
}

// Snapshot returns the current spells in registration order. The returned
// slice must not be modified.
func (b *Spellbook) Snapshot() []Spell {
	if p := b.spells.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of registered spells.
func (b *Spellbook) Len() int { return len(b.Snapshot()) }

// Triggers returns the registered trigger phrases in order.
func (b *Spellbook) Triggers() []string {
	spells := b.Snapshot()
	out := make([]string, len(spells))
	for i, s := range spells {
		out[i] = s.Trigger
	}
	return out
}

// Lookup returns the spell registered for trigger.
func (b *Spellbook) Lookup(trigger string) (Spell, bool) {
	trigger = NormalizeTrigger(trigger)
	for _, s := range b.Snapshot() {
		if s.Trigger == trigger {
			return s, true
		}
	}
	return Spell{}, false
}

// Register adds a spell. Registering an existing trigger replaces its payload
// and keeps its position.
func (b *Spellbook) Register(trigger, payload string) error {
	trigger = NormalizeTrigger(trigger)
	if trigger == "" {
		return ErrEmptyTrigger
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := slices.Clone(b.Snapshot())
	if i := slices.IndexFunc(next, func(s Spell) bool { return s.Trigger == trigger }); i >= 0 {
		next[i].Payload = payload
	} else {
		next = append(next, Spell{Trigger: trigger, Payload: payload})
	}
	b.spells.Store(&next)
	return nil
}

// Remove deletes the spell for trigger and reports whether it existed.
func (b *Spellbook) Remove(trigger string) bool {
	trigger = NormalizeTrigger(trigger)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.Snapshot()
	i := slices.IndexFunc(cur, func(s Spell) bool { return s.Trigger == trigger })
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	b.spells.Store(&next)
	return true
}

// Replace swaps the whole spellbook. Duplicate triggers keep the first
// position and the last payload. On error the spellbook is unchanged.
func (b *Spellbook) Replace(spells []Spell) error {
	next := make([]Spell, 0, len(spells))
	index := make(map[string]int, len(spells))
	for i, s := range spells {
		s.Trigger = NormalizeTrigger(s.Trigger)
		if s.Trigger == "" {
			return fmt.Errorf("keyword: spell %d: %w", i, ErrEmptyTrigger)
		}
		if j, ok := index[s.Trigger]; ok {
			next[j].Payload = s.Payload
			continue
		}
		index[s.Trigger] = len(next)
		next = append(next, s)
	}

	b.mu.Lock()
	b.spells.Store(&next)
	b.mu.Unlock()
	return nil
}
