package vm

import (
	"errors"
	"fmt"
)

// ExecutionState is the coarse state of the step loop.
type ExecutionState int

const (
	StateRunning ExecutionState = iota
	StateHalted
	StateError
)

// CPSRRegisterIndex is the pseudo register index the journal uses to record
// flag-word mutations, so "every register, flag bit, and guest word" can be
// restored through the same three-kind journal entry (Register,
// Memory32, MemoryByte) the design calls for, without inventing a fourth
// entry kind. See DESIGN.md.
const CPSRRegisterIndex = 16

// HostServices is implemented by the hostio package and invoked by the
// Executor when PC lands on a trap address.
type HostServices interface {
	Invoke(m *Machine, trap uint32) error
}

// GuestHalt is returned by Step (and, transitively, Run) when the guest
// invokes the halt trap service. It is not a failure: State is set to
// StateHalted rather than StateError. Callers distinguish a clean stop
// from a real execution error with errors.Is(err, GuestHalt).
var GuestHalt = errors.New("guest halted")

// DecodeError indicates the fetched word decoded to InstIllegal: an
// encoding outside the instruction classes Decode recognizes, which
// includes the whole coprocessor space. Fatal; Step sets StateError.
type DecodeError struct {
	Opcode  uint32
	Address uint32
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("illegal instruction 0x%08X at 0x%08X", e.Opcode, e.Address)
}

// UnimplementedError indicates the fetched word decoded to a recognized
// instruction class this simulator does not execute. Fatal, same as
// DecodeError, but distinguishable by type from a genuinely illegal
// encoding.
type UnimplementedError struct {
	Opcode  uint32
	Address uint32
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("unimplemented instruction class for opcode 0x%08X at 0x%08X", e.Opcode, e.Address)
}

// Machine bundles the register file, memory, and undo journal, and is the
// sole mutator of architecturally observable state: every write to a
// register, the flag word, or guest memory is journaled before it happens.
// The one exception is the readfile host service, which fills its newly
// allocated arena block through Memory directly; that block's contents are
// not journaled.
type Machine struct {
	CPU     *CPU
	Memory  *Memory
	Journal *Journal
	Host    HostServices

	State      ExecutionState
	MaxCycles  uint64
	Cycles     uint64
	EntryPoint uint32
	ExitCode   int32
	Verbose    bool
	Backtrace  bool

	LastError error
}

// NewMachine wires together a fresh CPU, Memory, and Journal. Callers
// register memory regions and set Host before running.
func NewMachine() *Machine {
	return &Machine{
		CPU:       NewCPU(),
		Memory:    NewMemory(),
		Journal:   NewJournal(DefaultJournalCapacity),
		State:     StateHalted,
		MaxCycles: DefaultMaxCycles,
	}
}

// --- machineView, used by Journal.Undo/Redo ---

func (m *Machine) getRegisterRaw(idx int) uint32 {
	if idx == CPSRRegisterIndex {
		return m.CPU.CPSR.ToUint32()
	}
	if idx == 15 {
		return m.CPU.PC
	}
	return m.CPU.R[idx]
}

func (m *Machine) setRegisterRaw(idx int, v uint32) {
	if idx == CPSRRegisterIndex {
		m.CPU.CPSR.FromUint32(v)
		return
	}
	if idx == 15 {
		m.CPU.PC = v
		return
	}
	if idx >= 0 && idx <= 14 {
		m.CPU.R[idx] = v
	}
}

func (m *Machine) getMemoryWordRaw(addr uint32) uint32 { return m.Memory.WordLoad(addr) }
func (m *Machine) setMemoryWordRaw(addr uint32, v uint32) { m.Memory.WordStore(addr, v) }
func (m *Machine) getMemoryByteRaw(addr uint32) byte      { return m.Memory.ByteLoad(addr) }
func (m *Machine) setMemoryByteRaw(addr uint32, v byte)   { m.Memory.ByteStore(addr, v) }

// SetRegister journals the register's current raw value, then writes the
// new one. This is the only path instruction execution should use to
// change a register (including PC via index 15).
func (m *Machine) SetRegister(idx int, value uint32) {
	m.Journal.RecordRegister(idx, m.getRegisterRaw(idx))
	m.setRegisterRaw(idx, value)
}

// SetFlags journals the current flag word, then installs new flags.
func (m *Machine) SetFlags(c CPSR) {
	m.Journal.RecordRegister(CPSRRegisterIndex, m.CPU.CPSR.ToUint32())
	m.CPU.CPSR = c
}

// StoreWord journals the current word at addr, then stores the new value.
func (m *Machine) StoreWord(addr uint32, value uint32) {
	m.Journal.RecordMemoryWord(addr, m.Memory.WordLoad(addr))
	m.Memory.WordStore(addr, value)
}

// StoreByte journals the current byte at addr, then stores the new value.
func (m *Machine) StoreByte(addr uint32, value byte) {
	m.Journal.RecordMemoryByte(addr, m.Memory.ByteLoad(addr))
	m.Memory.ByteStore(addr, value)
}

// StoreHalfword journals both bytes of a halfword, then stores it.
// Halfwords have no dedicated journal entry kind; they are recorded as two
// byte entries within the same transaction.
func (m *Machine) StoreHalfword(addr uint32, value uint16) {
	m.StoreByte(addr, byte(value))
	m.StoreByte(addr+1, byte(value>>8))
}

// Undo reverses up to n instruction transactions.
func (m *Machine) Undo(n int) int { return m.Journal.Undo(n, m) }

// Redo re-applies up to n previously undone instruction transactions.
func (m *Machine) Redo(n int) int { return m.Journal.Redo(n, m) }

// Step executes exactly one instruction, or one trapped host service call.
// It returns an error for any condition the driver should stop the loop
// on: decode failure, unimplemented dispatch, or a host-service error.
// A clean guest halt also sets State to StateHalted (not StateError) but,
// unlike those, returns the GuestHalt sentinel rather than nil — callers
// tell the two apart with errors.Is(err, GuestHalt).
func (m *Machine) Step() error {
	if m.State == StateError {
		return fmt.Errorf("machine is in error state: %w", m.LastError)
	}
	if m.MaxCycles > 0 && m.Cycles >= m.MaxCycles {
		m.State = StateError
		m.LastError = fmt.Errorf("cycle limit exceeded (%d cycles)", m.MaxCycles)
		return m.LastError
	}

	pc := m.CPU.PC
	if pc > 0 && pc < 6 {
		if m.Host == nil {
			m.State = StateError
			m.LastError = fmt.Errorf("trap address 0x%X reached with no host services attached", pc)
			return m.LastError
		}
		if err := m.Host.Invoke(m, pc); err != nil {
			m.State = StateError
			m.LastError = err
			return err
		}
		if m.State == StateHalted {
			m.LastError = GuestHalt
			return GuestHalt
		}
		// Simulate return-from-subroutine: PC <- LR.
		m.SetRegister(15, m.CPU.GetLR())
		m.Journal.FinishInstruction()
		m.Cycles++
		return nil
	}

	word := m.Memory.WordLoad(pc)
	if word == BadMemVal {
		m.State = StateError
		m.LastError = fmt.Errorf("fetch of sentinel value at PC=0x%08X", pc)
		return m.LastError
	}

	inst := Decode(word)
	inst.Address = pc

	// Unconditionally journal PC and advance it by 4; branches overwrite
	// PC afterward. This keeps every instruction's transaction shape
	// uniform, per the Executor's step-loop design.
	m.SetRegister(15, pc+4)

	if inst.Condition == CondNV {
		warnBadAccess("condition NV (15) at 0x%08X is deprecated; instruction skipped", pc)
		m.Journal.FinishInstruction()
		m.Cycles++
		return nil
	}
	if !m.CPU.CPSR.EvaluateCondition(inst.Condition) {
		m.Journal.FinishInstruction()
		m.Cycles++
		return nil
	}

	err := m.dispatch(inst)
	m.Journal.FinishInstruction()
	if err != nil {
		m.State = StateError
		m.LastError = fmt.Errorf("execute failed at PC=0x%08X: %w", pc, err)
		return m.LastError
	}
	m.Cycles++
	return nil
}

func (m *Machine) dispatch(inst Instruction) error {
	switch inst.Type {
	case InstDataProcessing:
		return executeDataProcessing(m, inst)
	case InstMultiply:
		return executeMultiply(m, inst)
	case InstLoadStore:
		return executeLoadStore(m, inst)
	case InstHalfwordTransfer:
		return executeHalfwordTransfer(m, inst)
	case InstLoadStoreMultiple:
		return executeLoadStoreMultiple(m, inst)
	case InstBranch:
		return executeBranch(m, inst)
	case InstSWI:
		warnBadAccess("SWI at 0x%08X: software interrupts are not implemented; skipped", inst.Address)
		return nil
	case InstIllegal:
		return &DecodeError{Opcode: inst.Opcode, Address: inst.Address}
	default:
		return &UnimplementedError{Opcode: inst.Opcode, Address: inst.Address}
	}
}

// Run steps until halt or error.
func (m *Machine) Run() error {
	m.State = StateRunning
	for m.State == StateRunning {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// DumpState renders a one-line machine summary for -v/-b output.
func (m *Machine) DumpState() string {
	return fmt.Sprintf(
		"PC=0x%08X SP=0x%08X LR=0x%08X CPSR=[%s%s%s%s] Cycles=%d",
		m.CPU.PC, m.CPU.GetSP(), m.CPU.GetLR(),
		flagChar(m.CPU.CPSR.N, "N"), flagChar(m.CPU.CPSR.Z, "Z"),
		flagChar(m.CPU.CPSR.C, "C"), flagChar(m.CPU.CPSR.V, "V"),
		m.Cycles,
	)
}

func flagChar(set bool, ch string) string {
	if set {
		return ch
	}
	return "-"
}
