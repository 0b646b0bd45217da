package conversation

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Recorder mirrors appended turns to an external sink (the transcript
// archive). Recorder failures never affect the in-memory log.
type Recorder interface {
	Record(turn Turn) error
}

// Store is the ordered, append-only sequence of turns for one session.
// Turns are appended strictly in completion order by the single loop
// writer; the mutex only keeps Snapshot safe for other readers. Nothing
// is ever truncated or reordered, and nothing survives the process.
type Store struct {
	mu       sync.RWMutex
	turns    []Turn
	recorder Recorder
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// SetRecorder attaches a write-only mirror for appended turns.
func (s *Store) SetRecorder(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Append adds a turn at the tail. There is no ordering parameter on
// purpose: position is always the moment of completion.
func (s *Store) Append(turn Turn) {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	recorder := s.recorder
	s.mu.Unlock()

	if recorder != nil {
		if err := recorder.Record(turn); err != nil {
			log.Warn().Err(err).Str("turn", turn.ID).Msg("Transcript record failed")
		}
	}
}

// Snapshot returns a copy of the full ordered history.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	return turns
}

// Len returns the number of turns appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
