// Package hostio implements the four guest-visible I/O trap services
// (write, readline, readfile, sync_caches) plus halt, reached by the
// Executor when PC lands on one of the reserved trap addresses 1..5.
package hostio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/munroe/arm-forth-sim/vm"
)

// Services implements vm.HostServices. It owns the bump allocator used by
// the readfile trap and the search path readfile resolves guest file names
// against.
type Services struct {
	Out io.Writer
	In  *bufio.Reader

	SearchPath []string

	arenaNext uint32
}

// New returns a Services bound to stdout/stdin and the given search path.
// The bump allocator starts at vm.ReadFileArenaBase.
func New(searchPath []string) *Services {
	return &Services{
		Out:        os.Stdout,
		In:         bufio.NewReader(os.Stdin),
		SearchPath: searchPath,
		arenaNext:  vm.ReadFileArenaBase,
	}
}

// Invoke dispatches on the trapped PC. It is called by Machine.Step before
// the simulated return-from-subroutine (PC <- LR).
func (s *Services) Invoke(m *vm.Machine, trap uint32) error {
	switch trap {
	case vm.TrapHalt:
		m.State = vm.StateHalted
		return nil
	case vm.TrapWrite:
		return s.write(m)
	case vm.TrapReadline:
		return s.readline(m)
	case vm.TrapReadfile:
		return s.readfile(m)
	case vm.TrapSyncCaches:
		return nil // no instruction cache to flush in this simulator
	default:
		return fmt.Errorf("hostio: unrecognized trap address 0x%X", trap)
	}
}

// write: r0 = guest pointer, r1 = length. Writes the bytes to Out.
func (s *Services) write(m *vm.Machine) error {
	ptr := m.CPU.GetRegister(vm.R0)
	length := m.CPU.GetRegister(vm.R1)

	buf := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		buf[i] = m.Memory.ByteLoad(ptr + i)
	}
	_, err := s.Out.Write(buf)
	return err
}

// readline: r0 = guest buffer, r1 = length. Reads one line from In and
// copies up to len bytes into the buffer, returning the byte count in r0.
func (s *Services) readline(m *vm.Machine) error {
	buf := m.CPU.GetRegister(vm.R0)
	length := m.CPU.GetRegister(vm.R1)

	line, err := s.In.ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("hostio: readline: %w", err)
	}

	n := uint32(len(line))
	if n > length {
		n = length
	}
	for i := uint32(0); i < n; i++ {
		m.StoreByte(buf+i, line[i])
	}
	m.SetRegister(vm.R0, n)
	return nil
}

// readfile: r0 = guest name pointer, r1 = name length. Resolves the name
// against the search path, reads the whole file, allocates a fresh arena
// block, writes [size:u32][bytes...], and returns the block pointer in r0
// (0 if the file could not be opened). The block is filled through Memory
// directly, so its contents are not journaled; only the r0 write is.
func (s *Services) readfile(m *vm.Machine) error {
	namePtr := m.CPU.GetRegister(vm.R0)
	nameLen := m.CPU.GetRegister(vm.R1)

	nameBytes := make([]byte, nameLen)
	for i := uint32(0); i < nameLen; i++ {
		nameBytes[i] = m.Memory.ByteLoad(namePtr + i)
	}
	name := string(nameBytes)

	data, ok := s.resolveAndRead(name)
	if !ok {
		m.SetRegister(vm.R0, 0)
		return nil
	}

	size, err := vm.SafeIntToUint32(len(data))
	if err != nil {
		return fmt.Errorf("hostio: readfile %q: %w", name, err)
	}

	blockPtr := s.allocate(m.Memory, size)
	m.Memory.WordStore(blockPtr, size)
	for i, b := range data {
		m.Memory.ByteStore(blockPtr+4+uint32(i), b)
	}

	m.SetRegister(vm.R0, blockPtr)
	return nil
}

func (s *Services) resolveAndRead(name string) ([]byte, bool) {
	if filepath.IsAbs(name) {
		data, err := os.ReadFile(name)
		return data, err == nil
	}
	for _, dir := range s.SearchPath {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

// allocate reserves a 4-byte size prefix plus payloadLen bytes from the
// bump arena and returns the block's guest address. When the block already
// lies inside one mapped region (the default guest region covers the arena
// base), it is used in place; otherwise a fresh memory region is registered
// for it. The allocator never reuses or frees space; it only grows.
func (s *Services) allocate(mem *vm.Memory, payloadLen uint32) uint32 {
	total := 4 + payloadLen
	aligned := (total + vm.ReadFileArenaAlignment - 1) &^ (vm.ReadFileArenaAlignment - 1)

	blockPtr := s.arenaNext
	if !mem.RangeValid(blockPtr, aligned) {
		if err := mem.RegisterRegion(
			fmt.Sprintf("readfile-block@0x%08X", blockPtr),
			blockPtr, aligned,
			vm.PermRead|vm.PermWrite,
		); err != nil {
			// Registration fails only when the block straddles the end of
			// an existing region.
			panic(fmt.Sprintf("hostio: arena allocation failed: %v", err))
		}
	}
	s.arenaNext += aligned
	return blockPtr
}
