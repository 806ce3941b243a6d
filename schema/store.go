package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/databridge-go/contracts"
)

var (
	ErrDefinitionNotFound  = errors.New("schema: definition not found")
	ErrDifferentDefinition = errors.New("schema: a different definition already exists")
	ErrNilDefinition       = errors.New("schema: definition cannot be nil")
)

// DifferentDefinitionError is returned when a stream id is already bound to a
// definition that is not Equal to the one being saved
type DifferentDefinitionError struct {
	StreamID string
	Existing *contracts.StreamDefinition
}

func (e *DifferentDefinitionError) Error() string {
	return fmt.Sprintf("%s: stream %s", ErrDifferentDefinition, e.StreamID)
}

// Is lets errors.Is match ErrDifferentDefinition
func (e *DifferentDefinitionError) Is(target error) bool {
	return target == ErrDifferentDefinition
}

// DefinitionStore stores stream definitions by stream id
type DefinitionStore interface {
	// Save stores a definition. It reports whether the definition was newly
	// stored; saving an Equal definition again is a no-op.
	Save(ctx context.Context, def *contracts.StreamDefinition) (bool, error)

	// Get retrieves a definition by name and version
	Get(ctx context.Context, name, version string) (*contracts.StreamDefinition, error)

	// GetByID retrieves a definition by stream id
	GetByID(ctx context.Context, streamID string) (*contracts.StreamDefinition, error)

	// List returns all definitions ordered by stream id
	List(ctx context.Context) ([]*contracts.StreamDefinition, error)

	// Delete removes a definition, reporting whether it existed
	Delete(ctx context.Context, name, version string) (bool, error)
}

// CheckDuplicate decides whether def may be stored next to existing, which may be nil.
// It returns false when existing is an Equal definition and an error when it conflicts.
func CheckDuplicate(existing, def *contracts.StreamDefinition) (bool, error) {
	if existing == nil {
		return true, nil
	}
	if existing.Equal(def) {
		return false, nil
	}
	return false, &DifferentDefinitionError{StreamID: def.GetStreamID(), Existing: existing}
}

// MemoryStore is an in-memory DefinitionStore
type MemoryStore struct {
	definitions map[string]*contracts.StreamDefinition
	logger      *slog.Logger
	mu          sync.RWMutex
}

// StoreOption configures the memory store
type StoreOption func(*MemoryStore)

// WithStoreLogger sets the logger
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore(options ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		definitions: make(map[string]*contracts.StreamDefinition),
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Save stores a definition
func (s *MemoryStore) Save(ctx context.Context, def *contracts.StreamDefinition) (bool, error) {
	if def == nil {
		return false, ErrNilDefinition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	streamID := def.GetStreamID()
	stored, err := CheckDuplicate(s.definitions[streamID], def)
	if err != nil {
		s.logger.Warn("conflicting stream definition rejected", "streamId", streamID)
		return false, err
	}
	if !stored {
		s.logger.Debug("stream definition already registered", "streamId", streamID)
		return false, nil
	}

	s.definitions[streamID] = def
	s.logger.Info("stream definition registered", "streamId", streamID)
	return true, nil
}

// Get retrieves a definition by name and version
func (s *MemoryStore) Get(ctx context.Context, name, version string) (*contracts.StreamDefinition, error) {
	return s.GetByID(ctx, contracts.GenerateStreamID(name, version))
}

// GetByID retrieves a definition by stream id
func (s *MemoryStore) GetByID(ctx context.Context, streamID string) (*contracts.StreamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.definitions[streamID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, streamID)
	}
	return def, nil
}

// List returns all definitions ordered by stream id
func (s *MemoryStore) List(ctx context.Context) ([]*contracts.StreamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*contracts.StreamDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].GetStreamID() < defs[j].GetStreamID()
	})
	return defs, nil
}

// Delete removes a definition
func (s *MemoryStore) Delete(ctx context.Context, name, version string) (bool, error) {
	streamID := contracts.GenerateStreamID(name, version)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.definitions[streamID]; !exists {
		return false, nil
	}
	delete(s.definitions, streamID)
	s.logger.Info("stream definition removed", "streamId", streamID)
	return true, nil
}
