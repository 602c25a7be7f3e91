package server

import (
	"context"
	"errors"
	"hash/crc32"
	"sync"
	"testing"

	"ferrisshare/protocol"
)

type writeCall struct {
	name  string
	block protocol.YeetBlock
	data  []byte
}

// fakeStore records store calls and can inject failures.
type fakeStore struct {
	mu          sync.Mutex
	opened      []string
	writes      []writeCall
	finalized   []string
	openErr     error
	writeErr    error
	finalizeErr error
	onWrite     func()
}

func (f *fakeStore) Open(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, name)
	return f.openErr
}

func (f *fakeStore) WriteBlock(_ context.Context, name string, block protocol.YeetBlock, data []byte) error {
	if f.onWrite != nil {
		f.onWrite()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeCall{name: name, block: block, data: append([]byte(nil), data...)})
	return f.writeErr
}

func (f *fakeStore) Finalize(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, name)
	return f.finalizeErr
}

func newTestCommandService() (*CommandService, *fakeStore, *SharedState) {
	store := &fakeStore{}
	return NewCommandService(store), store, NewSharedState()
}

func mustApply(t *testing.T, c *CommandService, st *SharedState, msg protocol.Message) protocol.Message {
	t.Helper()
	resp, err := c.ApplyMessage(context.Background(), st, msg)
	if err != nil {
		t.Fatalf("ApplyMessage(%T): unexpected error: %v", msg, err)
	}
	return resp
}

func TestHelloEntersReceiving(t *testing.T) {
	c, store, st := newTestCommandService()

	resp := mustApply(t, c, st, protocol.Hello{Filename: "foo.bin", Filesize: 3500})
	if resp != (protocol.Ok{}) {
		t.Errorf("expected Ok, got %#v", resp)
	}

	snap := st.Snapshot()
	if snap.Phase != PhaseReceiving {
		t.Errorf("expected PhaseReceiving, got %v", snap.Phase)
	}
	if snap.CurrentFile != "foo.bin" {
		t.Errorf("expected foo.bin, got %q", snap.CurrentFile)
	}
	if snap.ExpectedBlocks != 4 {
		t.Errorf("expected 4 blocks for 3500 bytes, got %d", snap.ExpectedBlocks)
	}
	if len(store.opened) != 1 || store.opened[0] != "foo.bin" {
		t.Errorf("expected Open(foo.bin), got %v", store.opened)
	}
}

func TestHelloExpectedBlockCounts(t *testing.T) {
	cases := []struct {
		filesize uint64
		expected uint64
	}{
		{0, 0},
		{1, 1},
		{1023, 1},
		{1024, 1},
		{1025, 2},
		{2048, 2},
		{3500, 4},
	}
	for _, tc := range cases {
		c, _, st := newTestCommandService()
		mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: tc.filesize})
		if got := st.Snapshot().ExpectedBlocks; got != tc.expected {
			t.Errorf("filesize %d: expected %d blocks, got %d", tc.filesize, tc.expected, got)
		}
	}
}

func TestHelloStorageRejectionLeavesStateIdle(t *testing.T) {
	c, store, st := newTestCommandService()
	store.openErr = errors.New("Parent directory segments are not allowed in filenames")

	_, err := c.ApplyMessage(context.Background(), st, protocol.Hello{Filename: "../evil", Filesize: 4})
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if st.CurrentPhase() != PhaseIdle {
		t.Errorf("expected state to stay Idle, got %v", st.CurrentPhase())
	}
}

func TestYeetFocusesBlock(t *testing.T) {
	c, _, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 2048})

	block := protocol.YeetBlock{Index: 0, Size: 1024, Checksum: 0}
	resp := mustApply(t, c, st, protocol.Yeet{Block: block})
	if resp != (protocol.Yeet{Block: block}) {
		t.Errorf("expected Yeet echo, got %#v", resp)
	}

	snap := st.Snapshot()
	if snap.FocusedBlock == nil || *snap.FocusedBlock != block {
		t.Errorf("expected focused block %+v, got %+v", block, snap.FocusedBlock)
	}
}

func TestYeetRejectedOutsideReceiving(t *testing.T) {
	c, _, st := newTestCommandService()
	_, err := c.ApplyMessage(context.Background(), st, protocol.Yeet{Block: protocol.YeetBlock{Size: 1024}})
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Errorf("expected *CommandError, got %v", err)
	}
}

func TestYeetRejectedWhenAllBlocksReceived(t *testing.T) {
	c, _, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 1024})
	st.mu.Lock()
	st.cur.ReceivedBlocks = []uint64{0}
	st.mu.Unlock()

	_, err := c.ApplyMessage(context.Background(), st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: 1024}})
	if err == nil {
		t.Errorf("expected error for block count overflow")
	}
}

func TestYeetMayNotDisplaceUnfinishedBlock(t *testing.T) {
	c, _, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 2048})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: 1024}})

	_, err := c.ApplyMessage(context.Background(), st, protocol.Yeet{Block: protocol.YeetBlock{Index: 1, Size: 1024}})
	if err == nil {
		t.Errorf("expected error for displacing an unfinished block")
	}
}

func TestYeetRejectsDivergentSizes(t *testing.T) {
	cases := []struct {
		name  string
		block protocol.YeetBlock
	}{
		{"oversized", protocol.YeetBlock{Index: 0, Size: 2048}},
		{"short before final", protocol.YeetBlock{Index: 0, Size: 428}},
		{"index out of range", protocol.YeetBlock{Index: 4, Size: 1024}},
	}
	for _, tc := range cases {
		c, _, st := newTestCommandService()
		mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 3500})
		if _, err := c.ApplyMessage(context.Background(), st, protocol.Yeet{Block: tc.block}); err == nil {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestYeetAllowsShortFinalBlock(t *testing.T) {
	c, _, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 3500})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 3, Size: 428}})
}

func TestApplyBinaryPersistsAndRecords(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 2048})
	block := protocol.YeetBlock{Index: 0, Size: 1024}
	mustApply(t, c, st, protocol.Yeet{Block: block})

	data := make([]byte, 1024)
	resp, err := c.ApplyBinary(context.Background(), st, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != (protocol.OkHousten{Index: 0}) {
		t.Errorf("expected OkHousten 0, got %#v", resp)
	}

	if len(store.writes) != 1 || store.writes[0].block != block {
		t.Fatalf("expected one write of block 0, got %v", store.writes)
	}
	snap := st.Snapshot()
	if snap.FocusedBlock != nil {
		t.Errorf("expected focused block cleared")
	}
	if len(snap.ReceivedBlocks) != 1 || snap.ReceivedBlocks[0] != 0 {
		t.Errorf("expected received blocks [0], got %v", snap.ReceivedBlocks)
	}
}

func TestApplyBinaryWithoutFocusedBlockIsNoop(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 1024})

	resp, err := c.ApplyBinary(context.Background(), st, []byte("stray"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != (protocol.Ok{}) {
		t.Errorf("expected Ok, got %#v", resp)
	}
	if len(store.writes) != 0 {
		t.Errorf("expected no writes, got %v", store.writes)
	}
}

func TestApplyBinaryDuplicateBlockSuppressed(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 2048})
	block := protocol.YeetBlock{Index: 0, Size: 1024}
	data := make([]byte, 1024)

	mustApply(t, c, st, protocol.Yeet{Block: block})
	if _, err := c.ApplyBinary(context.Background(), st, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same block again: acknowledged, but not written twice.
	mustApply(t, c, st, protocol.Yeet{Block: block})
	resp, err := c.ApplyBinary(context.Background(), st, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != (protocol.OkHousten{Index: 0}) {
		t.Errorf("expected OkHousten 0, got %#v", resp)
	}
	if len(store.writes) != 1 {
		t.Errorf("expected exactly one write, got %d", len(store.writes))
	}

	snap := st.Snapshot()
	if len(snap.ReceivedBlocks) != 1 {
		t.Errorf("expected index 0 recorded once, got %v", snap.ReceivedBlocks)
	}
}

func TestApplyBinaryChecksumVerified(t *testing.T) {
	data := []byte("some payload bytes")
	good := crc32.ChecksumIEEE(data)

	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: uint64(len(data))})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: uint32(len(data)), Checksum: good}})
	if _, err := c.ApplyBinary(context.Background(), st, data); err != nil {
		t.Fatalf("matching checksum rejected: %v", err)
	}
	if len(store.writes) != 1 {
		t.Fatalf("expected write, got %d", len(store.writes))
	}
}

func TestApplyBinaryChecksumMismatchRejected(t *testing.T) {
	data := []byte("some payload bytes")

	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: uint64(len(data))})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: uint32(len(data)), Checksum: 12345}})

	_, err := c.ApplyBinary(context.Background(), st, data)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if len(store.writes) != 0 {
		t.Errorf("expected no write on mismatch")
	}
	// The block stays unreceived and the focused slot is free for a resend.
	snap := st.Snapshot()
	if snap.FocusedBlock != nil || len(snap.ReceivedBlocks) != 0 {
		t.Errorf("expected clean slate after mismatch, got %+v", snap)
	}
}

func TestApplyBinaryWritesOutsideStateLock(t *testing.T) {
	c, store, st := newTestCommandService()
	store.onWrite = func() {
		// If the state mutex were held across the store call this would
		// deadlock; TryLock proves it is free.
		if !st.mu.TryLock() {
			panic("state mutex held during WriteBlock")
		}
		st.mu.Unlock()
	}

	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 1024})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: 1024}})
	if _, err := c.ApplyBinary(context.Background(), st, make([]byte, 1024)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMissionAccomplishedRequiresAllBlocks(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 2048})

	_, err := c.ApplyMessage(context.Background(), st, protocol.MissionAccomplished{})
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CommandError, got %v", err)
	}
	if cerr.Reason != "incomplete transfer" {
		t.Errorf("expected incomplete transfer, got %q", cerr.Reason)
	}
	if len(store.finalized) != 0 {
		t.Errorf("expected no finalize call")
	}
	if st.CurrentPhase() != PhaseReceiving {
		t.Errorf("expected state to stay Receiving, got %v", st.CurrentPhase())
	}
}

func TestMissionAccomplishedFinalizes(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 1024})
	mustApply(t, c, st, protocol.Yeet{Block: protocol.YeetBlock{Index: 0, Size: 1024}})
	if _, err := c.ApplyBinary(context.Background(), st, make([]byte, 1024)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := mustApply(t, c, st, protocol.MissionAccomplished{})
	if resp != (protocol.Success{}) {
		t.Errorf("expected Success, got %#v", resp)
	}
	if len(store.finalized) != 1 || store.finalized[0] != "f" {
		t.Errorf("expected Finalize(f), got %v", store.finalized)
	}
	if st.CurrentPhase() != PhaseFinished {
		t.Errorf("expected PhaseFinished, got %v", st.CurrentPhase())
	}
}

func TestMissionAccomplishedEmptyFile(t *testing.T) {
	c, store, st := newTestCommandService()
	mustApply(t, c, st, protocol.Hello{Filename: "empty.bin", Filesize: 0})

	resp := mustApply(t, c, st, protocol.MissionAccomplished{})
	if resp != (protocol.Success{}) {
		t.Errorf("expected Success, got %#v", resp)
	}
	if len(store.finalized) != 1 {
		t.Errorf("expected finalize for empty file")
	}
}

func TestMissionAccomplishedStorageFailureKeepsReceiving(t *testing.T) {
	c, store, st := newTestCommandService()
	store.finalizeErr = errors.New("disk full")
	mustApply(t, c, st, protocol.Hello{Filename: "f", Filesize: 0})

	_, err := c.ApplyMessage(context.Background(), st, protocol.MissionAccomplished{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if st.CurrentPhase() != PhaseReceiving {
		t.Errorf("expected state to stay Receiving, got %v", st.CurrentPhase())
	}
}

func TestByeRisClosesSession(t *testing.T) {
	c, _, st := newTestCommandService()
	resp := mustApply(t, c, st, protocol.ByeRis{})
	if resp != (protocol.ByeRis{}) {
		t.Errorf("expected ByeRis echo, got %#v", resp)
	}
	if st.CurrentPhase() != PhaseClosed {
		t.Errorf("expected PhaseClosed, got %v", st.CurrentPhase())
	}
}

func TestUnhandledMessageIsInvalidCommand(t *testing.T) {
	c, _, st := newTestCommandService()
	for _, msg := range []protocol.Message{protocol.Ok{}, protocol.Success{}, protocol.Nope{Reason: "x"}} {
		if _, err := c.ApplyMessage(context.Background(), st, msg); !errors.Is(err, protocol.ErrInvalidCommand) {
			t.Errorf("%T: expected ErrInvalidCommand, got %v", msg, err)
		}
	}
}
