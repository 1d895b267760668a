// Package inspector implements the Forth-aware memory dump heuristics: pure
// functions over a vm.Memory view that recognize dictionary headers,
// code-field cells, and inline counted strings, falling back to plain
// disassembly when none match. Used only by the driver's dump mode.
package inspector

import (
	"fmt"
	"strings"

	"github.com/munroe/arm-forth-sim/disasm"
	"github.com/munroe/arm-forth-sim/vm"
)

const (
	maxNameLen = 31
	maxStrLen  = 255
)

// KnownCodeFields is the small set of runtime code-field template
// addresses (dovar/docons/docolon/dodoes) this simulator's hosted kernels
// are known to use. A code field pointing at one of these, or at an
// address that itself looks like a threaded NEXT pointer (mapped and
// executable), is recognized as a code field cell.
type KnownCodeFields struct {
	DoVar, DoCons, DoColon, DoDoes uint32
}

func isPrintable(b byte) bool {
	return b >= vm.ASCIIPrintableMin && b <= vm.ASCIIPrintableMax
}

// IsHeader attempts to recognize a dictionary header starting at addr:
// 1..31 printable name bytes, then a length byte equal to the name's
// length, then (at the next word boundary) a link field that is 0 or a
// plausible address (mapped in mem). The name must begin at addr itself;
// padding bytes before the name are not skipped, so a padded header is
// recognized only when addr points at its first name byte. Returns the
// number of 32-bit cells consumed, or 0 if no such header starts here.
func IsHeader(mem *vm.Memory, addr uint32) uint32 {
	for nameLen := 1; nameLen <= maxNameLen; nameLen++ {
		ok := true
		for i := 0; i < nameLen; i++ {
			if !isPrintable(mem.ByteLoad(addr + uint32(i))) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		lengthByte := mem.ByteLoad(addr + uint32(nameLen))
		if int(lengthByte) != nameLen {
			continue
		}

		nameBytes := uint32(nameLen) + 1
		linkOffset := (nameBytes + 3) &^ 3 // word-align the link field
		link := mem.WordLoad(addr + linkOffset)
		if link != 0 && !mem.AddrValid(link) {
			continue
		}

		totalBytes := linkOffset + 4
		return (totalBytes + 3) / 4
	}
	return 0
}

// IsCodeField recognizes a code-field cell: a word matching one of the
// known runtime template addresses, or a word that points at mapped,
// executable memory (a plausible threaded NEXT address). Returns 1 if
// recognized, 0 otherwise.
func IsCodeField(mem *vm.Memory, addr uint32, known KnownCodeFields) uint32 {
	word := mem.WordLoad(addr)
	if word == vm.BadMemVal {
		return 0
	}
	switch word {
	case known.DoVar, known.DoCons, known.DoColon, known.DoDoes:
		return 1
	}
	if word != 0 && mem.CheckExecutePermission(word) {
		return 1
	}
	return 0
}

// IsString recognizes an inline counted string: a length byte L (1..255)
// followed by L printable bytes. Returns the number of 32-bit cells
// consumed (the 1+L bytes, rounded up to a word), or 0 if not recognized.
func IsString(mem *vm.Memory, addr uint32) uint32 {
	length := mem.ByteLoad(addr)
	if length == 0 || int(length) > maxStrLen {
		return 0
	}
	for i := 0; i < int(length); i++ {
		if !isPrintable(mem.ByteLoad(addr + 1 + uint32(i))) {
			return 0
		}
	}
	totalBytes := uint32(length) + 1
	return (totalBytes + 3) / 4
}

// DumpLine renders one annotated line of the memory dump starting at addr,
// returning the line text and the number of 32-bit cells it consumed
// (always at least 1). Heuristics are tried in order: header, code field,
// string, then plain disassembly as a fallback.
func DumpLine(mem *vm.Memory, addr uint32, known KnownCodeFields) (string, uint32) {
	if cells := IsHeader(mem, addr); cells > 0 {
		return fmt.Sprintf("%08X: %s", addr, headerText(mem, addr, cells)), cells
	}
	if cells := IsCodeField(mem, addr, known); cells > 0 {
		return fmt.Sprintf("%08X: code-field -> 0x%08X", addr, mem.WordLoad(addr)), cells
	}
	if cells := IsString(mem, addr); cells > 0 {
		return fmt.Sprintf("%08X: string %q", addr, stringText(mem, addr)), cells
	}

	word := mem.WordLoad(addr)
	if word == 0 {
		return fmt.Sprintf("%08X: 0", addr), 1
	}
	return fmt.Sprintf("%08X: %08X %s", addr, word, disasm.Format(addr, word)), 1
}

func headerText(mem *vm.Memory, addr uint32, cells uint32) string {
	var b strings.Builder
	for i := 0; ; i++ {
		c := mem.ByteLoad(addr + uint32(i))
		if !isPrintable(c) {
			break
		}
		b.WriteByte(c)
	}
	return fmt.Sprintf("header %q", b.String())
}

func stringText(mem *vm.Memory, addr uint32) string {
	length := mem.ByteLoad(addr)
	var b strings.Builder
	for i := 0; i < int(length); i++ {
		b.WriteByte(mem.ByteLoad(addr + 1 + uint32(i)))
	}
	return b.String()
}

// ScanHeaders walks numWords 32-bit cells starting at addr the same way
// Dump does, but collects only the dictionary header names it recognizes,
// keyed by their starting address. Used by the driver to build a
// vm.SymbolResolver over a loaded image so run/dump output can annotate
// addresses by Forth word name instead of bare hex.
func ScanHeaders(mem *vm.Memory, addr uint32, numWords uint32, known KnownCodeFields) map[string]uint32 {
	names := make(map[string]uint32)
	remaining := numWords
	for remaining > 0 {
		if cells := IsHeader(mem, addr); cells > 0 {
			var b strings.Builder
			for i := 0; ; i++ {
				c := mem.ByteLoad(addr + uint32(i))
				if !isPrintable(c) {
					break
				}
				b.WriteByte(c)
			}
			names[b.String()] = addr
			addr += cells * 4
			if cells > remaining {
				remaining = 0
			} else {
				remaining -= cells
			}
			continue
		}
		if cells := IsCodeField(mem, addr, known); cells > 0 {
			addr += cells * 4
		} else if cells := IsString(mem, addr); cells > 0 {
			addr += cells * 4
		} else {
			addr += 4
		}
		if remaining > 0 {
			remaining--
		}
	}
	return names
}

// Dump renders numWords 32-bit cells starting at addr as a sequence of
// annotated lines, advancing by however many cells each heuristic (or the
// disassembly fallback) consumed.
func Dump(mem *vm.Memory, addr uint32, numWords uint32, known KnownCodeFields) []string {
	var lines []string
	remaining := numWords
	for remaining > 0 {
		line, cells := DumpLine(mem, addr, known)
		lines = append(lines, line)
		if cells == 0 {
			cells = 1
		}
		addr += cells * 4
		if cells > remaining {
			remaining = 0
		} else {
			remaining -= cells
		}
	}
	return lines
}
