package vm

import "fmt"

// executeMultiply executes MUL, MLA, and the long multiply forms (UMULL,
// UMLAL, SMULL, SMLAL). Cycle-accurate timing is out of scope; every
// multiply costs the same one cycle Step() already charges.
func executeMultiply(m *Machine, inst Instruction) error {
	if (inst.Opcode & LongMultiplyMask) == LongMultiplyPattern {
		return executeLongMultiply(m, inst)
	}

	accumulate := (inst.Opcode >> MultiplyAShift) & Mask1Bit
	setFlags := inst.SetFlags

	rd := int((inst.Opcode >> RnShift) & Mask4Bit) // bits 19-16
	rn := int((inst.Opcode >> RdShift) & Mask4Bit) // bits 15-12: accumulate operand
	rs := int((inst.Opcode >> RsShift) & Mask4Bit)
	rm := int(inst.Opcode & Mask4Bit)

	if rd == rm {
		return fmt.Errorf("multiply: Rd and Rm must be different registers (Rd=%d, Rm=%d)", rd, rm)
	}
	if rd == 15 || rm == 15 || rs == 15 || (accumulate == 1 && rn == 15) {
		return fmt.Errorf("multiply: R15 (PC) cannot be used as an operand")
	}

	op1 := m.CPU.GetRegister(rm)
	op2 := m.CPU.GetRegister(rs)
	result := op1 * op2
	if accumulate == 1 {
		result += m.CPU.GetRegister(rn)
	}

	m.SetRegister(rd, result)

	if setFlags {
		newFlags := m.CPU.CPSR
		newFlags.UpdateFlagsNZ(result)
		m.SetFlags(newFlags)
	}
	return nil
}

func executeLongMultiply(m *Machine, inst Instruction) error {
	signed := (inst.Opcode>>22)&Mask1Bit != 0
	accumulate := (inst.Opcode>>MultiplyAShift)&Mask1Bit != 0
	setFlags := inst.SetFlags

	rdHi := int((inst.Opcode >> RnShift) & Mask4Bit)
	rdLo := int((inst.Opcode >> RdShift) & Mask4Bit)
	rs := int((inst.Opcode >> RsShift) & Mask4Bit)
	rm := int(inst.Opcode & Mask4Bit)

	if rdHi == rdLo || rdHi == rm || rdLo == rm {
		return fmt.Errorf("long multiply: RdHi, RdLo, and Rm must all be different registers")
	}
	if rdHi == 15 || rdLo == 15 || rs == 15 || rm == 15 {
		return fmt.Errorf("long multiply: R15 (PC) cannot be used as an operand")
	}

	var product uint64
	if signed {
		product = uint64(int64(int32(m.CPU.GetRegister(rm))) * int64(int32(m.CPU.GetRegister(rs))))
	} else {
		product = uint64(m.CPU.GetRegister(rm)) * uint64(m.CPU.GetRegister(rs))
	}

	if accumulate {
		hi := uint64(m.CPU.GetRegister(rdHi))
		lo := uint64(m.CPU.GetRegister(rdLo))
		product += (hi << 32) | lo
	}

	resultLo := uint32(product)
	resultHi := uint32(product >> 32)

	m.SetRegister(rdLo, resultLo)
	m.SetRegister(rdHi, resultHi)

	if setFlags {
		newFlags := m.CPU.CPSR
		newFlags.N = resultHi&SignBitMask != 0
		newFlags.Z = resultHi == 0 && resultLo == 0
		m.SetFlags(newFlags)
	}
	return nil
}
