package loader

import (
	"encoding/binary"
	"testing"

	"github.com/munroe/arm-forth-sim/vm"
)

func encodeImage(code []uint32, reloc []uint32) []byte {
	buf := make([]byte, 0, (2+len(code)+len(reloc))*4)
	put := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	put(uint32(len(code)))
	put(uint32(len(reloc)))
	for _, w := range code {
		put(w)
	}
	for _, w := range reloc {
		put(w)
	}
	return buf
}

// S6: image load + relocation.
func TestLoadRelocation(t *testing.T) {
	const base = 0x80000000
	code := []uint32{1, 0x00000040, 0x00000080}
	reloc := []uint32{0b010}

	data := encodeImage(code, reloc)
	img, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	mem := vm.NewMemory()
	if err := mem.RegisterRegion("guest", base, 4096, vm.PermRead|vm.PermWrite|vm.PermExecute); err != nil {
		t.Fatalf("RegisterRegion: %v", err)
	}

	if _, err := Load(img, mem, base, 4096); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := mem.WordLoad(base + 0); got != 1 {
		t.Errorf("word 0 = 0x%X, want 1", got)
	}
	if got := mem.WordLoad(base + 4); got != base+0x40 {
		t.Errorf("word 1 = 0x%X, want 0x%X", got, base+0x40)
	}
	if got := mem.WordLoad(base + 8); got != 0x80 {
		t.Errorf("word 2 = 0x%X, want 0x80 (unrelocated)", got)
	}
}

func TestRelocBitWithBitmapLongerThanN(t *testing.T) {
	// R*32 > N: bitmap declares 32 bits worth of relocation but there are
	// only 2 code words. Load consults only bits 0 and 1.
	code := []uint32{1, 0x10}
	reloc := []uint32{0xFFFFFFFF}
	img := &Image{Code: code, Reloc: reloc}

	if !img.relocBit(0) || !img.relocBit(1) {
		t.Fatalf("expected bits 0 and 1 set")
	}
	// Bits beyond N are never read by Load, but relocBit itself must not
	// panic for any index within uint32 range.
	if !img.relocBit(31) {
		t.Fatalf("relocBit(31) should still read the declared bitmap word")
	}
}

func TestParseRejectsShortImage(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for undersized image")
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	data := encodeImage([]uint32{2, 0x10}, nil)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected error for version != 1")
	}
}
