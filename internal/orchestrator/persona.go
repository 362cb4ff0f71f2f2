package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// Persona bundles a rendered persona with the voice id it declares, the
// shape _step_summarize pulls out of a loaded persona document.
type Persona struct {
	Config  model.PersonaConfig
	VoiceID string
}

// PersonaLoader fetches one persona document for (userID, personalityID)
// from whatever out-of-scope collaborator stores personas (Mongo in the
// original).
type PersonaLoader func(ctx context.Context, userID, personalityID string) (*Persona, error)

// PersonaProvider resolves a persona for a turn.
type PersonaProvider interface {
	GetPersona(ctx context.Context, userID, personalityID string) (*Persona, error)
}

// MemoryPersonaCache caches one persona per user, matching
// cache_persona.CachePersona: the cache key is the user id alone, so a
// user's first-loaded persona sticks for the rest of the process lifetime
// even if a later turn names a different personality_id. This mirrors the
// original's behavior exactly rather than "fixing" it, since nothing in
// this module's scope calls UpdatePersona to invalidate it.
type MemoryPersonaCache struct {
	load PersonaLoader

	mu    sync.Mutex
	cache map[string]*Persona
}

// NewMemoryPersonaCache wraps load with a per-user cache.
func NewMemoryPersonaCache(load PersonaLoader) *MemoryPersonaCache {
	return &MemoryPersonaCache{load: load, cache: map[string]*Persona{}}
}

// GetPersona returns the cached persona for userID, loading it on first
// use for that user.
func (c *MemoryPersonaCache) GetPersona(ctx context.Context, userID, personalityID string) (*Persona, error) {
	c.mu.Lock()
	if p, ok := c.cache[userID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := c.load(ctx, userID, personalityID)
	if err != nil {
		return nil, fmt.Errorf("load persona for %s/%s: %w", userID, personalityID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("persona not found for %s/%s", userID, personalityID)
	}

	c.mu.Lock()
	c.cache[userID] = p
	c.mu.Unlock()
	return p, nil
}

// UpdatePersona forces a refetch for userID, replacing whatever is cached,
// matching CachePersona.update_persona.
func (c *MemoryPersonaCache) UpdatePersona(ctx context.Context, userID, personalityID string) error {
	c.mu.Lock()
	_, cached := c.cache[userID]
	c.mu.Unlock()
	if !cached {
		return nil
	}

	p, err := c.load(ctx, userID, personalityID)
	if err != nil {
		return fmt.Errorf("reload persona for %s/%s: %w", userID, personalityID, err)
	}
	if p == nil {
		return fmt.Errorf("persona not found for %s/%s", userID, personalityID)
	}

	c.mu.Lock()
	c.cache[userID] = p
	c.mu.Unlock()
	return nil
}

// AudioSynthesizer turns a finished text answer into a playable URL for
// speech-modality sessions. The real speech synthesizer and blob uploader
// are out-of-scope external collaborators (spec.md §1 Non-goals); this
// module only needs the interface boundary and a no-op default.
type AudioSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (url string, err error)
}

// NoopAudioSynthesizer never produces an audio URL, used when no speech
// backend is wired.
type NoopAudioSynthesizer struct{}

// Synthesize always returns an empty URL and a nil error.
func (NoopAudioSynthesizer) Synthesize(context.Context, string, string) (string, error) {
	return "", nil
}
