package keyword_test

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/MrWong99/spellcast/internal/keyword"
)

func TestSpellbook_Register(t *testing.T) {
	b, err := keyword.NewSpellbook()
	if err != nil {
		t.Fatal(err)
	}
	steps := []struct {
		trigger, payload string
	}{
		{"  Fire   Ball ", "fireball"},
		{"heal", ""},
		{"FIRE BALL", "greater_fireball"},
	}
	for _, s := range steps {
		if err := b.Register(s.trigger, s.payload); err != nil {
			t.Fatalf("Register(%q): %v", s.trigger, err)
		}
	}

	if got, want := b.Triggers(), []string{"fire ball", "heal"}; !slices.Equal(got, want) {
		t.Errorf("Triggers = %v, want %v", got, want)
	}
	sp, ok := b.Lookup("Fire Ball")
	if !ok || sp.Payload != "greater_fireball" {
		t.Errorf("Lookup = (%+v, %v)", sp, ok)
	}
	if sp, _ := b.Lookup("heal"); sp.Name() != "heal" {
		t.Errorf("Name without payload = %q, want trigger", sp.Name())
	}
	if err := b.Register("   ", "x"); !errors.Is(err, keyword.ErrEmptyTrigger) {
		t.Errorf("Register(blank) = %v, want ErrEmptyTrigger", err)
	}
}

func TestSpellbook_Remove(t *testing.T) {
	b, _ := keyword.NewSpellbook(spells("a", "b", "c")...)
	before := b.Snapshot()

	if !b.Remove("B") {
		t.Fatal("Remove(B) = false")
	}
	if b.Remove("b") {
		t.Error("second Remove(b) = true")
	}
	if got := b.Triggers(); !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("Triggers = %v", got)
	}
	if len(before) != 3 || before[1].Trigger != "b" {
		t.Errorf("earlier snapshot was mutated: %v", before)
	}
}

func TestSpellbook_Replace(t *testing.T) {
	b, _ := keyword.NewSpellbook(spells("old")...)

	err := b.Replace([]keyword.Spell{{Trigger: "ok"}, {Trigger: " "}})
	if !errors.Is(err, keyword.ErrEmptyTrigger) {
		t.Fatalf("Replace with blank trigger = %v", err)
	}
	if got := b.Triggers(); !slices.Equal(got, []string{"old"}) {
		t.Errorf("failed Replace changed spellbook: %v", got)
	}

	err = b.Replace([]keyword.Spell{
		{Trigger: "Shield", Payload: "v1"},
		{Trigger: "haste"},
		{Trigger: "shield", Payload: "v2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Triggers(); !slices.Equal(got, []string{"shield", "haste"}) {
		t.Errorf("Triggers = %v", got)
	}
	if sp, _ := b.Lookup("shield"); sp.Payload != "v2" {
		t.Errorf("duplicate kept payload %q, want v2", sp.Payload)
	}
}

func TestSpellbook_ConcurrentAccess(t *testing.T) {
	b, _ := keyword.NewSpellbook()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_ = b.Register(fmt.Sprintf("spell %d %d", i, j), "")
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_, _ = keyword.NewMatcher().Match("spell 1 1", b.Snapshot())
			}
		}()
	}
	wg.Wait()
	if b.Len() != 400 {
		t.Errorf("Len = %d, want 400", b.Len())
	}
}

func TestSlot(t *testing.T) {
	var s keyword.Slot[int]
	if _, ok := s.Take(); ok {
		t.Fatal("zero slot should be empty")
	}
	s.Put(1)
	s.Put(2)
	if v, ok := s.Peek(); !ok || v != 2 {
		t.Errorf("Peek = (%d, %v), want (2, true)", v, ok)
	}
	if v, ok := s.TryTake(); !ok || v != 2 {
		t.Errorf("TryTake = (%d, %v), want (2, true)", v, ok)
	}
	if _, ok := s.Take(); ok {
		t.Error("slot should be empty after take")
	}
}
