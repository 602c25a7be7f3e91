package protocol

import "fmt"

// NominalBlockSize is the block size used for computing expected block
// counts and write offsets. Individual YEET headers may announce a shorter
// size for the final block of a transfer, never a longer one.
const NominalBlockSize = 1024

// YeetBlock is the header announcing one binary payload run. Size is
// authoritative for how many raw bytes follow the YEET line on the wire.
type YeetBlock struct {
	Index    uint64
	Size     uint32
	Checksum uint32
}

// Message is one unit of the wire alphabet. Implementations are immutable
// value types; Encode renders the wire line without the trailing newline
// (the writer appends it).
type Message interface {
	Encode() string
}

// Hello announces a file transfer: "HELLO <filename> <filesize>"
type Hello struct {
	Filename string
	Filesize uint64
}

// Ok is the bare acknowledgement: "OK"
type Ok struct{}

// Nope is a refusal with a reason: "NOPE <reason>"
type Nope struct {
	Reason string
}

// Yeet announces the next binary block: "YEET <index> <size> <checksum>"
type Yeet struct {
	Block YeetBlock
}

// OkHousten acknowledges a persisted block: "OK-HOUSTEN <index>"
type OkHousten struct {
	Index uint64
}

// MissionAccomplished requests finalization: "MISSION-ACCOMPLISHED"
type MissionAccomplished struct{}

// Success acknowledges finalization: "SUCCESS"
type Success struct{}

// Error carries a failure reason: "ERROR <reason>"
type Error struct {
	Reason string
}

// ByeRis closes the session: "BYE-RIS"
type ByeRis struct{}

func (m Hello) Encode() string {
	return fmt.Sprintf("HELLO %s %d", m.Filename, m.Filesize)
}

func (Ok) Encode() string { return "OK" }

func (m Nope) Encode() string { return "NOPE " + m.Reason }

func (m Yeet) Encode() string {
	return fmt.Sprintf("YEET %d %d %d", m.Block.Index, m.Block.Size, m.Block.Checksum)
}

func (m OkHousten) Encode() string {
	return fmt.Sprintf("OK-HOUSTEN %d", m.Index)
}

func (MissionAccomplished) Encode() string { return "MISSION-ACCOMPLISHED" }

func (Success) Encode() string { return "SUCCESS" }

func (m Error) Encode() string { return "ERROR " + m.Reason }

func (ByeRis) Encode() string { return "BYE-RIS" }
