package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/spellcast/pkg/audio/device"
	"github.com/MrWong99/spellcast/pkg/provider/stt"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// TranscriberFactory builds a transcription engine. modelPath overrides
// cfg.ModelPath when non-empty.
type TranscriberFactory func(cfg TranscriptionConfig, modelPath string) (stt.Transcriber, error)

// HostFactory builds an audio device host.
type HostFactory func(cfg AudioConfig) (device.Host, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	transcribers map[string]TranscriberFactory
	hosts        map[string]HostFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]TranscriberFactory),
		hosts:        make(map[string]HostFactory),
	}
}

// RegisterTranscriber registers a transcription backend under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// RegisterHost registers an audio host under name.
func (r *Registry) RegisterHost(name string, factory HostFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[name] = factory
}

// CreateTranscriber instantiates the backend registered under cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for it.
func (r *Registry) CreateTranscriber(cfg TranscriptionConfig, modelPath string) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg, modelPath)
}

// CreateHost instantiates the host registered under cfg.Host.
func (r *Registry) CreateHost(cfg AudioConfig) (device.Host, error) {
	r.mu.RLock()
	factory, ok := r.hosts[cfg.Host]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrBackendNotRegistered, cfg.Host)
	}
	return factory(cfg)
}

// Transcribers returns the sorted names of all registered transcription
// backends.
func (r *Registry) Transcribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcribers))
	for name := range r.transcribers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
