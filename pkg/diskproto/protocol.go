package diskproto

// Opcode identifies a disk RPC request, sent as the first byte of a
// request frame's payload (spec.md §6, "Disk RPC (wire)").
type Opcode byte

const (
	OpInfo    Opcode = 'I'
	OpRead    Opcode = 'R'
	OpWrite   Opcode = 'W'
	OpClear   Opcode = 'C'
	OpElapsed Opcode = 'E'
)
