package server

import (
	"context"
	"errors"
	"hash/crc32"

	"ferrisshare/protocol"
	"ferrisshare/storage"
	"ferrisshare/trace"
)

// CommandError reports a state-consistency violation or a downstream
// storage failure while applying a message.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string {
	return "Command execution failed: " + e.Reason
}

// ErrChecksumMismatch rejects a payload whose CRC32 does not match its
// YEET header. The block stays unreceived; the sender may retransmit it.
var ErrChecksumMismatch = errors.New("Checksum mismatch")

// CommandService applies parsed protocol messages and raw binary runs to a
// connection's transfer state, persisting blocks through the store.
//
// Lock discipline: state is mutated only under the SharedState mutex, and
// the mutex is never held across a store call. ApplyBinary takes the
// focused block out under the lock, writes without it, then re-locks to
// commit the received index.
type CommandService struct {
	store storage.Store
}

// NewCommandService creates a command service backed by store.
func NewCommandService(store storage.Store) *CommandService {
	return &CommandService{store: store}
}

// ApplyMessage applies one admitted protocol message to the transfer state
// and returns the response message. A Yeet response is an internal signal
// to the network service that a binary payload follows; it is not
// forwarded to the peer verbatim.
func (c *CommandService) ApplyMessage(ctx context.Context, st *SharedState, msg protocol.Message) (protocol.Message, error) {
	switch m := msg.(type) {
	case protocol.Hello:
		return c.applyHello(ctx, st, m)
	case protocol.Yeet:
		return c.applyYeet(st, m)
	case protocol.MissionAccomplished:
		return c.applyMissionAccomplished(ctx, st)
	case protocol.ByeRis:
		st.mu.Lock()
		st.cur.Phase = PhaseClosed
		st.mu.Unlock()
		// Echoed back so the network service knows to shut down the write half.
		return protocol.ByeRis{}, nil
	}
	return nil, protocol.ErrInvalidCommand
}

func (c *CommandService) applyHello(ctx context.Context, st *SharedState, m protocol.Hello) (protocol.Message, error) {
	// Create the staging file before touching state, so a rejected filename
	// leaves the connection where it was.
	err := c.store.Open(ctx, m.Filename)
	trace.Storage("open", m.Filename, err)
	if err != nil {
		return nil, &CommandError{Reason: err.Error()}
	}

	expected := (m.Filesize + protocol.NominalBlockSize - 1) / protocol.NominalBlockSize

	st.mu.Lock()
	st.cur = TransferState{
		Phase:          PhaseReceiving,
		CurrentFile:    m.Filename,
		ExpectedBlocks: expected,
	}
	st.mu.Unlock()

	return protocol.Ok{}, nil
}

func (c *CommandService) applyYeet(st *SharedState, m protocol.Yeet) (protocol.Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cur.Phase != PhaseReceiving {
		return nil, &CommandError{Reason: "not receiving"}
	}
	if uint64(len(st.cur.ReceivedBlocks)) >= st.cur.ExpectedBlocks {
		return nil, &CommandError{Reason: "too many blocks"}
	}
	if st.cur.FocusedBlock != nil && !st.cur.HasReceived(st.cur.FocusedBlock.Index) {
		return nil, &CommandError{Reason: "previous block still in flight"}
	}
	if m.Block.Index >= st.cur.ExpectedBlocks {
		return nil, &CommandError{Reason: "block index out of range"}
	}
	if m.Block.Size > protocol.NominalBlockSize {
		return nil, &CommandError{Reason: "block size exceeds nominal size"}
	}
	if m.Block.Size < protocol.NominalBlockSize && m.Block.Index != st.cur.ExpectedBlocks-1 {
		return nil, &CommandError{Reason: "short block before final index"}
	}

	block := m.Block
	st.cur.FocusedBlock = &block
	return protocol.Yeet{Block: block}, nil
}

func (c *CommandService) applyMissionAccomplished(ctx context.Context, st *SharedState) (protocol.Message, error) {
	st.mu.Lock()
	if st.cur.Phase != PhaseReceiving {
		st.mu.Unlock()
		return nil, &CommandError{Reason: "not receiving"}
	}
	if uint64(len(st.cur.ReceivedBlocks)) != st.cur.ExpectedBlocks {
		st.mu.Unlock()
		return nil, &CommandError{Reason: "incomplete transfer"}
	}
	filename := st.cur.CurrentFile
	st.mu.Unlock()

	err := c.store.Finalize(ctx, filename)
	trace.Storage("finalize", filename, err)
	if err != nil {
		return nil, &CommandError{Reason: err.Error()}
	}

	st.mu.Lock()
	st.cur.Phase = PhaseFinished
	st.mu.Unlock()

	return protocol.Success{}, nil
}

// ApplyBinary ingests the payload run announced by the current focused
// block. With no focused block the bytes are a no-op acknowledged with Ok;
// a payload for an already-received index is acknowledged idempotently
// without a second store write.
func (c *CommandService) ApplyBinary(ctx context.Context, st *SharedState, data []byte) (protocol.Message, error) {
	st.mu.Lock()
	if st.cur.Phase != PhaseReceiving {
		st.mu.Unlock()
		return nil, &CommandError{Reason: "not receiving"}
	}
	focused := st.cur.FocusedBlock
	st.cur.FocusedBlock = nil
	if focused == nil {
		st.mu.Unlock()
		return protocol.Ok{}, nil
	}
	if st.cur.HasReceived(focused.Index) {
		st.mu.Unlock()
		return protocol.OkHousten{Index: focused.Index}, nil
	}
	filename := st.cur.CurrentFile
	st.mu.Unlock()

	// A zero checksum is the legacy sender value and skips verification.
	if focused.Checksum != 0 && crc32.ChecksumIEEE(data) != focused.Checksum {
		return nil, ErrChecksumMismatch
	}

	// Storage I/O runs without the state mutex.
	err := c.store.WriteBlock(ctx, filename, *focused, data)
	trace.Storage("write_block", filename, err)
	if err != nil {
		return nil, &CommandError{Reason: err.Error()}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cur.Phase != PhaseReceiving {
		return nil, &CommandError{Reason: "transfer interrupted"}
	}
	st.cur.ReceivedBlocks = append(st.cur.ReceivedBlocks, focused.Index)
	return protocol.OkHousten{Index: focused.Index}, nil
}
