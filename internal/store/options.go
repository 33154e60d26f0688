package store

import (
	"sync"

	"portrait-studio-orchestrator/internal/models"
)

// OptionsStore holds the operator's current generation options. Reads
// return deep copies, so a snapshot taken at upload time can never alias
// the live instance.
type OptionsStore struct {
	mu       sync.RWMutex
	opts     models.Options
	onChange func()
}

func NewOptionsStore(opts models.Options, onChange func()) *OptionsStore {
	return &OptionsStore{opts: opts.Clone(), onChange: onChange}
}

// Current returns a deep copy of the options.
func (s *OptionsStore) Current() models.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Clone()
}

// Update applies transform to the current options.
func (s *OptionsStore) Update(transform func(models.Options) models.Options) {
	s.mu.Lock()
	s.opts = transform(s.opts.Clone())
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange()
	}
}

// Replace swaps in a whole new options value. Used by workspace restore.
func (s *OptionsStore) Replace(opts models.Options) {
	s.mu.Lock()
	s.opts = opts.Clone()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange()
	}
}
