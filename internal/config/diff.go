package config

import "strings"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpellsChanged is true if any trigger was added, removed or remapped,
	// or the trigger order changed.
	SpellsChanged bool
	SpellChanges  []SpellDiff

	// MatcherChanged is true if phonetic matching was toggled or a threshold
	// moved.
	MatcherChanged bool

	// RestartRequired names the changed settings that only take effect after
	// the capture session or the engine is rebuilt.
	RestartRequired []string
}

// HotReloadable reports whether every change in d can be applied to a running
// pipeline.
func (d ConfigDiff) HotReloadable() bool { return len(d.RestartRequired) == 0 }

// SpellDiff describes what changed for a single trigger.
type SpellDiff struct {
	Trigger      string
	Added        bool
	Removed      bool
	SpellChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ok, nk := old.Keyword, new.Keyword
	if ok.Phonetic != nk.Phonetic || ok.PhoneticThreshold != nk.PhoneticThreshold || ok.FuzzyThreshold != nk.FuzzyThreshold {
		d.MatcherChanged = true
	}

	oldSpells := spellIndex(ok.Spells)
	newSpells := spellIndex(nk.Spells)

	// Walk in config order so the diff is deterministic.
	for _, sp := range ok.Spells {
		trigger := normalize(sp.Trigger)
		np, exists := newSpells[trigger]
		switch {
		case !exists:
			d.SpellChanges = append(d.SpellChanges, SpellDiff{Trigger: trigger, Removed: true})
		case payload(sp) != payload(np):
			d.SpellChanges = append(d.SpellChanges, SpellDiff{Trigger: trigger, SpellChanged: true})
		}
	}
	for _, sp := range nk.Spells {
		trigger := normalize(sp.Trigger)
		if _, exists := oldSpells[trigger]; !exists {
			d.SpellChanges = append(d.SpellChanges, SpellDiff{Trigger: trigger, Added: true})
		}
	}
	d.SpellsChanged = len(d.SpellChanges) > 0 || !sameOrder(ok.Spells, nk.Spells)

	restart := []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"server.tick_interval", old.Server.TickInterval != new.Server.TickInterval},
		{"audio", old.Audio != new.Audio},
		{"transcription", old.Transcription != new.Transcription},
		{"segmenter", old.Segmenter != new.Segmenter},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	return d
}

func spellIndex(spells []SpellConfig) map[string]SpellConfig {
	m := make(map[string]SpellConfig, len(spells))
	for _, sp := range spells {
		m[normalize(sp.Trigger)] = sp
	}
	return m
}

func sameOrder(a, b []SpellConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normalize(a[i].Trigger) != normalize(b[i].Trigger) {
			return false
		}
	}
	return true
}

func normalize(trigger string) string {
	return strings.ToLower(strings.Join(strings.Fields(trigger), " "))
}

// payload returns the effective spell name of sp.
func payload(sp SpellConfig) string {
	if sp.Spell == "" {
		return normalize(sp.Trigger)
	}
	return sp.Spell
}
