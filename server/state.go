package server

import (
	"sync"

	"ferrisshare/protocol"
)

// Phase is where in the protocol dialog the connection sits.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReceiving
	PhaseFinished
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReceiving:
		return "receiving"
	case PhaseFinished:
		return "finished"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// TransferState is the per-connection transfer FSM. The Receiving fields
// are only meaningful while Phase == PhaseReceiving.
//
// FocusedBlock is non-nil exactly while a YEET header has been admitted
// but its payload has not yet been ingested. ReceivedBlocks keeps arrival
// order; its length never exceeds ExpectedBlocks.
type TransferState struct {
	Phase          Phase
	CurrentFile    string
	ExpectedBlocks uint64
	FocusedBlock   *protocol.YeetBlock
	ReceivedBlocks []uint64
}

// Reset returns the state to Idle, dropping all transfer fields.
func (s *TransferState) Reset() {
	*s = TransferState{Phase: PhaseIdle}
}

// HasReceived reports whether block index is already persisted.
func (s *TransferState) HasReceived(index uint64) bool {
	for _, i := range s.ReceivedBlocks {
		if i == index {
			return true
		}
	}
	return false
}

// Admits applies the per-state command admission table. A message outside
// the table never reaches the command service and never mutates state.
//
//	Idle      → Hello
//	Receiving → Yeet, MissionAccomplished
//	Finished  → ByeRis
//	Closed    → nothing
func (s *TransferState) Admits(msg protocol.Message) bool {
	switch s.Phase {
	case PhaseIdle:
		_, ok := msg.(protocol.Hello)
		return ok
	case PhaseReceiving:
		switch msg.(type) {
		case protocol.Yeet, protocol.MissionAccomplished:
			return true
		}
		return false
	case PhaseFinished:
		_, ok := msg.(protocol.ByeRis)
		return ok
	}
	return false
}

// SharedState couples a TransferState with the mutex that both the network
// and command services hold while touching it. The mutex is never held
// across storage I/O.
type SharedState struct {
	mu  sync.Mutex
	cur TransferState
}

// NewSharedState creates an Idle shared state.
func NewSharedState() *SharedState {
	return &SharedState{cur: TransferState{Phase: PhaseIdle}}
}

// CurrentPhase returns the phase under the lock.
func (s *SharedState) CurrentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Phase
}

// Reset returns the state to Idle under the lock.
func (s *SharedState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Reset()
}

// Snapshot returns a copy of the current state under the lock. The
// ReceivedBlocks slice is copied so callers cannot alias the live state.
func (s *SharedState) Snapshot() TransferState {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.cur
	snap.ReceivedBlocks = append([]uint64(nil), s.cur.ReceivedBlocks...)
	if s.cur.FocusedBlock != nil {
		block := *s.cur.FocusedBlock
		snap.FocusedBlock = &block
	}
	return snap
}

// Admits checks the admission table under the lock.
func (s *SharedState) Admits(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Admits(msg)
}
