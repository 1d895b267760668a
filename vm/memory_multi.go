package vm

import "fmt"

// executeLoadStoreMultiple executes LDM and STM. Addressing mode (IA/IB/DA/DB)
// follows the standard P/U bit combination; for STM of PC the stored value is
// PC+8, not PC+4 as a naive "current PC plus one more word" count would give.
func executeLoadStoreMultiple(m *Machine, inst Instruction) error {
	load := (inst.Opcode>>LBitShift)&Mask1Bit != 0
	wBit := (inst.Opcode>>WBitShift)&Mask1Bit != 0
	increment := (inst.Opcode>>UBitShift)&Mask1Bit != 0
	preIndex := (inst.Opcode>>PBitShift)&Mask1Bit != 0

	rn := int((inst.Opcode >> RnShift) & Mask4Bit)
	regList := inst.Opcode & RegisterListMask

	baseAddr := m.CPU.GetRegister(rn)

	numRegs := 0
	for i := 0; i < 16; i++ {
		if regList&(1<<uint(i)) != 0 {
			numRegs++
		}
	}
	if numRegs == 0 {
		return fmt.Errorf("load/store multiple with empty register list")
	}
	span := uint32(numRegs) * MultiRegisterWordSize

	var addr uint32
	var newBase uint32
	if increment {
		newBase = baseAddr + span
		if preIndex {
			addr = baseAddr + MultiRegisterWordSize
		} else {
			addr = baseAddr
		}
	} else {
		newBase = baseAddr - span
		if preIndex {
			addr = baseAddr - span
		} else {
			addr = baseAddr - span + MultiRegisterWordSize
		}
	}

	for i := 0; i < 16; i++ {
		if regList&(1<<uint(i)) == 0 {
			continue
		}

		// If writeback will also set Rn below, that write supersedes any
		// load into Rn here; applying and journaling it would record a
		// bogus intermediate "prior" value and double-journal Rn.
		skipRnLoad := load && wBit && i == rn && rn != PCRegister

		if load && !skipRnLoad {
			value := m.Memory.WordLoad(addr)
			m.SetRegister(i, value)
		} else if !load {
			value := m.CPU.GetRegister(i)
			if i == 15 {
				value = inst.Address + PCStoreOffset
			}
			m.StoreWord(addr, value)
		}

		addr += MultiRegisterWordSize
	}

	if wBit && rn != PCRegister {
		m.SetRegister(rn, newBase)
	}

	return nil
}
