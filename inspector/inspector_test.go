package inspector

import (
	"testing"

	"github.com/munroe/arm-forth-sim/vm"
)

func newMem(t *testing.T) *vm.Memory {
	t.Helper()
	mem := vm.NewMemory()
	if err := mem.RegisterRegion("guest", 0x1000, 0x1000, vm.PermRead|vm.PermWrite|vm.PermExecute); err != nil {
		t.Fatalf("RegisterRegion: %v", err)
	}
	return mem
}

func TestIsHeader(t *testing.T) {
	mem := newMem(t)
	name := "DUP"
	for i, c := range []byte(name) {
		mem.ByteStore(0x1000+uint32(i), c)
	}
	mem.ByteStore(0x1000+uint32(len(name)), byte(len(name)))
	mem.WordStore(0x1004, 0) // link field: null is a plausible terminator

	cells := IsHeader(mem, 0x1000)
	if cells == 0 {
		t.Fatal("expected header to be recognized")
	}
}

func TestIsString(t *testing.T) {
	mem := newMem(t)
	mem.ByteStore(0x1000, 2)
	mem.ByteStore(0x1001, 'h')
	mem.ByteStore(0x1002, 'i')

	cells := IsString(mem, 0x1000)
	if cells == 0 {
		t.Fatal("expected string to be recognized")
	}
	if got := stringText(mem, 0x1000); got != "hi" {
		t.Errorf("stringText = %q, want %q", got, "hi")
	}
}

func TestIsCodeFieldKnownTemplate(t *testing.T) {
	mem := newMem(t)
	known := KnownCodeFields{DoVar: 0xDEADBEEF}
	mem.WordStore(0x1000, 0xDEADBEEF)
	if IsCodeField(mem, 0x1000, known) == 0 {
		t.Fatal("expected known code-field template to be recognized")
	}
}

func TestDumpFallsBackToDisassembly(t *testing.T) {
	mem := newMem(t)
	mem.WordStore(0x1000, 0xE3A00005) // MOV r0, #5
	lines := Dump(mem, 0x1000, 1, KnownCodeFields{})
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
}

func TestScanHeadersCollectsNames(t *testing.T) {
	mem := newMem(t)
	name := "DUP"
	for i, c := range []byte(name) {
		mem.ByteStore(0x1000+uint32(i), c)
	}
	mem.ByteStore(0x1000+uint32(len(name)), byte(len(name)))
	mem.WordStore(0x1004, 0)

	names := ScanHeaders(mem, 0x1000, 4, KnownCodeFields{})
	if addr, ok := names["DUP"]; !ok || addr != 0x1000 {
		t.Errorf("names[DUP] = (0x%X, %v), want (0x1000, true)", addr, ok)
	}
}
