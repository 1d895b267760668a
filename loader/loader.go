// Package loader parses and relocates the two-header Forth kernel image
// format and wires the guest parameter block to the host service trap
// addresses before handing control to the Executor.
package loader

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/munroe/arm-forth-sim/vm"
)

const (
	headerWords       = 2 // N, R
	paramBlockVersion = 1

	// Word offsets of the guest parameter block, in guest words from the
	// image load base. Order follows the parameter block field list.
	offVersion      = 0
	offEntry        = 1
	offIP0          = 2
	offRP0          = 3
	offH0           = 4
	offSP0          = 5
	offExitContext  = 6
	offExitFunc     = 7
	offTypeCB       = 8
	offQKeyCB       = 9
	offKeyCB        = 10
	offReadlineCB   = 11
	offGetfileCB    = 12
	offSyncCachesCB = 13
)

// ImageError wraps a fatal problem with a kernel image: a short file, a
// parameter-block version mismatch, or an image too large for its target
// region. Fatal per the error handling design.
type ImageError struct{ Err error }

func (e *ImageError) Error() string { return "image: " + e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

// ParamBlock mirrors the guest parameter block after it has been relocated
// and patched with host service trap addresses.
type ParamBlock struct {
	Version      uint32
	Entry        uint32
	IP0          uint32
	RP0Requested uint32
	H0           uint32
	SP0          uint32
	ExitContext  uint32
	ExitFunc     uint32
	TypeCB       uint32
	QKeyCB       uint32
	KeyCB        uint32
	ReadlineCB   uint32
	GetfileCB    uint32
	SyncCachesCB uint32
}

// Image is a parsed, not-yet-loaded kernel image file.
type Image struct {
	Code  []uint32 // N code words
	Reloc []uint32 // R relocation bitmap words
}

// Parse reads the two-header image format from raw file bytes: word 0 is N
// (code word count), word 1 is R (relocation bitmap word count), followed
// by N code words and then R bitmap words.
func Parse(data []byte) (*Image, error) {
	if len(data) < headerWords*4 {
		return nil, &ImageError{Err: fmt.Errorf("too short for header (%d bytes)", len(data))}
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	r := binary.LittleEndian.Uint32(data[4:8])

	needed := uint64(headerWords) + uint64(n) + uint64(r)
	if uint64(len(data)) < needed*4 {
		return nil, &ImageError{Err: fmt.Errorf("declares N=%d R=%d but is only %d bytes", n, r, len(data))}
	}

	code := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		off := (uint64(headerWords) + uint64(i)) * 4
		code[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	reloc := make([]uint32, r)
	for i := uint32(0); i < r; i++ {
		off := (uint64(headerWords) + uint64(n) + uint64(i)) * 4
		reloc[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	if n == 0 || code[0] != paramBlockVersion {
		return nil, &ImageError{Err: fmt.Errorf("parameter block version mismatch (want %d)", paramBlockVersion)}
	}

	return &Image{Code: code, Reloc: reloc}, nil
}

// LoadFile reads a kernel image from the given path and parses it.
func LoadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading image %q: %w", path, err)
	}
	return Parse(data)
}

// relocBit reports whether bit i of the relocation bitmap is set. A short
// bitmap (R*32 < N) degrades to "not relocated" for the missing tail rather
// than panicking; the caller never iterates i past len(img.Code), so the
// bitmap is likewise never consumed past N bits even when R*32 > N.
func (img *Image) relocBit(i uint32) bool {
	word := i / 32
	bit := i % 32
	if int(word) >= len(img.Reloc) {
		return false
	}
	return img.Reloc[word]&(1<<bit) != 0
}

// Load copies the image's code words into mem at loadBase, applying
// relocations, then computes and writes the guest parameter block,
// returning the populated block and the guest entry address.
func Load(img *Image, mem *vm.Memory, loadBase, regionSize uint32) (*ParamBlock, error) {
	n := uint32(len(img.Code))
	if uint64(n)*4 > uint64(regionSize) {
		return nil, &ImageError{Err: fmt.Errorf("image (%d words) does not fit in %d-byte region", n, regionSize)}
	}

	for i := uint32(0); i < n; i++ {
		value := img.Code[i]
		if img.relocBit(i) {
			value += loadBase
		}
		mem.WordStore(loadBase+4*i, value)
	}

	pb := &ParamBlock{
		Version:      mem.WordLoad(loadBase + offVersion*4),
		Entry:        mem.WordLoad(loadBase + offEntry*4),
		IP0:          mem.WordLoad(loadBase + offIP0*4),
		RP0Requested: mem.WordLoad(loadBase + offRP0*4),
		H0:           mem.WordLoad(loadBase + offH0*4),
	}

	pb.SP0 = loadBase + regionSize - pb.RP0Requested - vm.ParamBlockReserve
	rp0 := loadBase + regionSize - vm.ParamBlockReserve
	mem.WordStore(loadBase+offSP0*4, pb.SP0)
	mem.WordStore(loadBase+offRP0*4, rp0)

	// The exit slots and the six callback slots are patched to the trap
	// addresses the Executor recognizes (§4.6). Key-query and key-read have
	// no dedicated service in this simulator; both reuse the blocking
	// readline trap, and exit_context is left untrapped (0) since the guest
	// only branches through exit_func, never dereferences exit_context.
	pb.ExitContext = 0
	pb.ExitFunc = vm.TrapHalt
	pb.TypeCB = vm.TrapWrite
	pb.QKeyCB = vm.TrapReadline
	pb.KeyCB = vm.TrapReadline
	pb.ReadlineCB = vm.TrapReadline
	pb.GetfileCB = vm.TrapReadfile
	pb.SyncCachesCB = vm.TrapSyncCaches

	mem.WordStore(loadBase+offExitContext*4, pb.ExitContext)
	mem.WordStore(loadBase+offExitFunc*4, pb.ExitFunc)
	mem.WordStore(loadBase+offTypeCB*4, pb.TypeCB)
	mem.WordStore(loadBase+offQKeyCB*4, pb.QKeyCB)
	mem.WordStore(loadBase+offKeyCB*4, pb.KeyCB)
	mem.WordStore(loadBase+offReadlineCB*4, pb.ReadlineCB)
	mem.WordStore(loadBase+offGetfileCB*4, pb.GetfileCB)
	mem.WordStore(loadBase+offSyncCachesCB*4, pb.SyncCachesCB)

	return pb, nil
}
