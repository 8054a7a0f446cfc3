package model

import (
	"sync"

	perrors "github.com/YuminosukeSato/pglsum/pkg/errors"
)

// StateManager tracks the lifecycle of a solver: whether it has been built and
// how many epochs have completed. Fields are exported for gob encoding.
type StateManager struct {
	Built bool
	mu    sync.RWMutex

	// Epoch is the index of the last completed epoch, -1 before training.
	Epoch int
	// NParams is the number of learnable scalars of the built model.
	NParams int
}

// NewStateManager returns an unbuilt state.
func NewStateManager() *StateManager {
	return &StateManager{Epoch: -1}
}

// IsBuilt reports whether SetBuilt has been called since the last Reset.
func (s *StateManager) IsBuilt() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Built
}

// SetBuilt marks the model as built with nParams learnable scalars.
func (s *StateManager) SetBuilt(nParams int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Built = true
	s.NParams = nParams
}

// CompleteEpoch records that epoch finished.
func (s *StateManager) CompleteEpoch(epoch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Epoch = epoch
}

// LastEpoch returns the last completed epoch, or -1.
func (s *StateManager) LastEpoch() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Epoch
}

// Reset returns to the unbuilt state.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Built = false
	s.Epoch = -1
	s.NParams = 0
}

// RequireBuilt returns a NotBuiltError naming method if the state is unbuilt.
func (s *StateManager) RequireBuilt(component, method string) error {
	if !s.IsBuilt() {
		return perrors.NewNotBuiltError(component, method)
	}
	return nil
}
