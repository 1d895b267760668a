package vm

import "testing"

func TestLoadStoreMultipleRejectsEmptyList(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[SP] = base + 0x200
	storeProgram(m, base, []uint32{0xE92D0000}) // STMDB r13!, {} (empty list)

	if err := m.Step(); err == nil {
		t.Fatal("expected error for empty register list")
	}
}

func TestLoadMultipleIncrementAfter(t *testing.T) {
	const base = 0x8000
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[R1] = base + 0x100
	m.Memory.WordStore(base+0x100, 10)
	m.Memory.WordStore(base+0x104, 20)
	storeProgram(m, base, []uint32{0xE8910006}) // LDMIA r1, {r1, r2} (no writeback)

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.CPU.R[R2] != 20 {
		t.Errorf("r2 = %d, want 20", m.CPU.R[R2])
	}
}

// TestLoadMultipleWritebackWithRnInList covers the case spec'd out for
// writeback LDM where the base register is also in the load list: the
// writeback value wins, and undo must restore the true pre-instruction
// base, not the value the list-load briefly produced.
func TestLoadMultipleWritebackWithRnInList(t *testing.T) {
	const base = 0x8000
	const loadAddr = base + 0x100
	m := newTestMachine(t, base, 0x1000)
	m.CPU.R[R1] = loadAddr
	m.Memory.WordStore(loadAddr, 10)
	m.Memory.WordStore(loadAddr+4, 20)
	storeProgram(m, base, []uint32{0xE8B10006}) // LDMIA r1!, {r1, r2}

	if err := m.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if m.CPU.R[R1] != loadAddr+8 {
		t.Errorf("r1 = 0x%X, want 0x%X (writeback value, not loaded value)", m.CPU.R[R1], loadAddr+8)
	}
	if m.CPU.R[R2] != 20 {
		t.Errorf("r2 = %d, want 20", m.CPU.R[R2])
	}

	if n := m.Undo(1); n != 1 {
		t.Fatalf("Undo(1) = %d, want 1", n)
	}
	if m.CPU.R[R1] != loadAddr {
		t.Errorf("after undo r1 = 0x%X, want 0x%X (true original base)", m.CPU.R[R1], loadAddr)
	}
}
