package vm

import (
	"errors"
	"testing"
)

func newTestMachine(t *testing.T, base uint32, size uint32) *Machine {
	t.Helper()
	m := NewMachine()
	if err := m.Memory.RegisterRegion("guest", base, size, PermRead|PermWrite|PermExecute); err != nil {
		t.Fatalf("RegisterRegion: %v", err)
	}
	m.CPU.PC = base
	m.State = StateRunning
	return m
}

func storeProgram(m *Machine, base uint32, words []uint32) {
	for i, w := range words {
		m.Memory.WordStore(base+uint32(i*4), w)
	}
}

// S1: immediate MOV and addition, stepped, then the ADD undone and redone
// before the SWI step runs.
func TestScenarioS1ImmediateMovAndAdd(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	storeProgram(m, base, []uint32{
		0xE3A00005, // MOV r0, #5
		0xE2800003, // ADD r0, r0, #3
		0xEF000001, // SWI 1
	})

	for i := 0; i < 2; i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := m.CPU.R[R0]; got != 8 {
		t.Fatalf("r0 = %d, want 8", got)
	}

	if n := m.Undo(1); n != 1 {
		t.Fatalf("Undo(1) = %d, want 1", n)
	}
	if got := m.CPU.R[R0]; got != 5 {
		t.Fatalf("after undo r0 = %d, want 5", got)
	}

	if n := m.Redo(1); n != 1 {
		t.Fatalf("Redo(1) = %d, want 1", n)
	}
	if got := m.CPU.R[R0]; got != 8 {
		t.Fatalf("after redo r0 = %d, want 8", got)
	}

	if err := m.Step(); err != nil {
		t.Fatalf("step 2 (SWI): %v", err)
	}
}

// S2: signed overflow on ADDS.
func TestScenarioS2SignedOverflow(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[R0] = 0x7FFFFFFF
	m.CPU.R[R1] = 1
	storeProgram(m, base, []uint32{0xE0900001}) // ADDS r0, r0, r1

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.CPU.R[R0] != 0x80000000 {
		t.Errorf("r0 = 0x%X, want 0x80000000", m.CPU.R[R0])
	}
	if !m.CPU.CPSR.N || m.CPU.CPSR.Z || !m.CPU.CPSR.V || m.CPU.CPSR.C {
		t.Errorf("flags N=%v Z=%v C=%v V=%v, want N=1 Z=0 C=0 V=1",
			m.CPU.CPSR.N, m.CPU.CPSR.Z, m.CPU.CPSR.C, m.CPU.CPSR.V)
	}
}

// S3: subtraction carry semantics, both with and without borrow.
func TestScenarioS3SubtractionCarry(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[R0] = 5
	m.CPU.R[R1] = 3
	storeProgram(m, base, []uint32{0xE0500001}) // SUBS r0, r0, r1

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.CPU.R[R0] != 2 {
		t.Errorf("r0 = %d, want 2", m.CPU.R[R0])
	}
	if m.CPU.CPSR.N || m.CPU.CPSR.Z || m.CPU.CPSR.V || !m.CPU.CPSR.C {
		t.Errorf("flags N=%v Z=%v C=%v V=%v, want N=0 Z=0 C=1 V=0",
			m.CPU.CPSR.N, m.CPU.CPSR.Z, m.CPU.CPSR.C, m.CPU.CPSR.V)
	}

	m2 := newTestMachine(t, base, 0x1000)
	m2.CPU.R[R0] = 3
	m2.CPU.R[R1] = 5
	storeProgram(m2, base, []uint32{0xE0500001})
	if err := m2.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m2.CPU.R[R0] != 0xFFFFFFFE {
		t.Errorf("r0 = 0x%X, want 0xFFFFFFFE", m2.CPU.R[R0])
	}
	if !m2.CPU.CPSR.N || m2.CPU.CPSR.C {
		t.Errorf("flags N=%v C=%v, want N=1 C=0", m2.CPU.CPSR.N, m2.CPU.CPSR.C)
	}
}

// S4: LDR with a PC-relative operand (PC reads as address+8).
func TestScenarioS4LoadPCRelative(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	storeProgram(m, base, []uint32{0xE59F0008}) // LDR r0, [pc, #8]
	m.Memory.WordStore(base+16, 0xDEADBEEF)

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.CPU.R[R0] != 0xDEADBEEF {
		t.Errorf("r0 = 0x%X, want 0xDEADBEEF", m.CPU.R[R0])
	}
}

// S5: STM then LDM round trip through the stack.
func TestScenarioS5StmLdmRoundTrip(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[SP] = base + 0x200
	m.CPU.R[R0], m.CPU.R[R1], m.CPU.R[R2], m.CPU.R[R3] = 1, 2, 3, 4
	storeProgram(m, base, []uint32{
		0xE92D000F, // STMDB r13!, {r0-r3}
		0xE3A00000, // MOV r0, #0
		0xE3A01000, // MOV r1, #0
		0xE3A02000, // MOV r2, #0
		0xE3A03000, // MOV r3, #0
		0xE8BD000F, // LDMIA r13!, {r0-r3}
	})

	for i := 0; i < 6; i++ {
		if err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	want := [4]uint32{1, 2, 3, 4}
	got := [4]uint32{m.CPU.R[R0], m.CPU.R[R1], m.CPU.R[R2], m.CPU.R[R3]}
	if got != want {
		t.Errorf("r0-r3 = %v, want %v", got, want)
	}
	if m.CPU.R[SP] != base+0x200 {
		t.Errorf("sp = 0x%X, want 0x%X", m.CPU.R[SP], base+0x200)
	}
}

// STM of PC stores PC+8, not the teacher's PC+12.
func TestStmStoresPCPlus8(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[SP] = base + 0x100
	storeProgram(m, base, []uint32{0xE92D8000}) // STMDB r13!, {r15}

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	stored := m.Memory.WordLoad(base + 0x100 - 4)
	if want := uint32(base + 8); stored != want {
		t.Errorf("stored PC = 0x%X, want 0x%X (PC+8)", stored, want)
	}
}

func TestTrapWithoutHostServicesFails(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[LR] = base
	m.CPU.PC = TrapHalt

	if err := m.Step(); err == nil {
		t.Fatal("expected error invoking trap with no host attached")
	}
	if m.State != StateError {
		t.Fatalf("state = %v, want StateError (no host attached)", m.State)
	}
}

type stubHost struct{ invoked uint32 }

func (s *stubHost) Invoke(m *Machine, trap uint32) error {
	s.invoked = trap
	if trap == TrapHalt {
		m.State = StateHalted
	}
	return nil
}

func TestTrapHaltStopsTheMachine(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	host := &stubHost{}
	m.Host = host
	m.CPU.PC = TrapHalt

	if err := m.Step(); !errors.Is(err, GuestHalt) {
		t.Fatalf("step: %v, want GuestHalt", err)
	}
	if m.State != StateHalted {
		t.Errorf("state = %v, want StateHalted", m.State)
	}
	if host.invoked != TrapHalt {
		t.Errorf("invoked trap = %d, want %d", host.invoked, TrapHalt)
	}
}

func TestRunStepsUntilTrapHalt(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.Host = &stubHost{}
	m.CPU.PC = TrapHalt

	if err := m.Run(); !errors.Is(err, GuestHalt) {
		t.Fatalf("Run: %v, want GuestHalt", err)
	}
	if m.State != StateHalted {
		t.Errorf("state = %v, want StateHalted", m.State)
	}
}

func TestIllegalOpcodeReturnsDecodeError(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	storeProgram(m, base, []uint32{0xEC000000}) // coprocessor space: not a SWI, not implemented

	var decodeErr *DecodeError
	if err := m.Step(); !errors.As(err, &decodeErr) {
		t.Fatalf("step: %v, want *DecodeError", err)
	}
	if m.State != StateError {
		t.Errorf("state = %v, want StateError", m.State)
	}
}

func TestUndoDisabledSkipsRecording(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.Journal.Disabled = true
	storeProgram(m, base, []uint32{0xE3A00005}) // MOV r0, #5

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if n := m.Undo(1); n != 0 {
		t.Errorf("Undo(1) with journal disabled = %d, want 0", n)
	}
	if m.CPU.R[R0] != 5 {
		t.Errorf("r0 = %d, want 5 (undo should be a no-op)", m.CPU.R[R0])
	}
}
