package vm

// loadStoreOffset computes the addressing-mode offset for LDR/STR (word and
// byte) forms: an immediate 12-bit field, or a shifted register.
func loadStoreOffset(m *Machine, inst Instruction) uint32 {
	immediate := (inst.Opcode>>IBitShift)&Mask1Bit == 0
	if immediate {
		return inst.Opcode & Offset12BitMask
	}
	rm := int(inst.Opcode & Mask4Bit)
	shiftType := ShiftType((inst.Opcode >> ShiftTypePos) & Mask2Bit)
	shiftAmount := int((inst.Opcode >> ShiftAmountPos) & Mask5Bit)
	return PerformShift(m.CPU.GetRegister(rm), shiftAmount, shiftType, m.CPU.CPSR.C)
}

// halfwordOffset computes the addressing-mode offset for the halfword and
// signed-byte transfer forms, which encode it differently from LDR/STR.
func halfwordOffset(m *Machine, inst Instruction) uint32 {
	immediate := (inst.Opcode>>BBitShift)&Mask1Bit != 0
	if immediate {
		hi := (inst.Opcode >> HalfwordHighShift) & HalfwordOffsetHighMask
		lo := inst.Opcode & HalfwordOffsetLowMask
		return (hi << HalfwordLowShift) | lo
	}
	rm := int(inst.Opcode & Mask4Bit)
	return m.CPU.GetRegister(rm)
}

// baseAndEffective resolves the base register value (the instruction's
// address + 8 if Rn is PC) and the effective address after applying the
// offset in the commanded direction.
func baseAndEffective(m *Machine, inst Instruction, rn int, offset uint32) (base, effective uint32) {
	if rn == PCRegister {
		base = inst.Address + ARMPipelineOffset
	} else {
		base = m.CPU.GetRegister(rn)
	}
	addOffset := (inst.Opcode>>UBitShift)&Mask1Bit != 0
	if addOffset {
		effective = base + offset
	} else {
		effective = base - offset
	}
	return base, effective
}

func writeBack(m *Machine, rn int, newBase uint32) {
	if rn != PCRegister {
		m.SetRegister(rn, newBase)
	}
}

// executeLoadStore executes LDR/STR in their word and byte forms.
func executeLoadStore(m *Machine, inst Instruction) error {
	load := (inst.Opcode>>LBitShift)&Mask1Bit != 0
	byteTransfer := (inst.Opcode>>BBitShift)&Mask1Bit != 0
	wBit := (inst.Opcode>>WBitShift)&Mask1Bit != 0
	preIndexed := (inst.Opcode>>PBitShift)&Mask1Bit != 0

	rd := int((inst.Opcode >> RdShift) & Mask4Bit)
	rn := int((inst.Opcode >> RnShift) & Mask4Bit)

	offset := loadStoreOffset(m, inst)
	base, effective := baseAndEffective(m, inst, rn, offset)

	accessAddr := base
	if preIndexed {
		accessAddr = effective
	}

	if load {
		var value uint32
		if byteTransfer {
			value = uint32(m.Memory.ByteLoad(accessAddr))
		} else {
			value = m.Memory.WordLoad(accessAddr)
		}
		m.SetRegister(rd, value)
	} else {
		value := m.CPU.GetRegister(rd)
		if byteTransfer {
			m.StoreByte(accessAddr, byte(value&ByteValueMask))
		} else {
			m.StoreWord(accessAddr, value)
		}
	}

	if (preIndexed && wBit) || !preIndexed {
		writeBack(m, rn, effective)
	}

	return nil
}

// executeHalfwordTransfer executes LDRH, STRH, LDRSB, and LDRSH.
func executeHalfwordTransfer(m *Machine, inst Instruction) error {
	load := (inst.Opcode>>LBitShift)&Mask1Bit != 0
	signBit := (inst.Opcode>>6)&Mask1Bit != 0
	halfBit := (inst.Opcode>>5)&Mask1Bit != 0
	wBit := (inst.Opcode>>WBitShift)&Mask1Bit != 0
	preIndexed := (inst.Opcode>>PBitShift)&Mask1Bit != 0

	rd := int((inst.Opcode >> RdShift) & Mask4Bit)
	rn := int((inst.Opcode >> RnShift) & Mask4Bit)

	offset := halfwordOffset(m, inst)
	base, effective := baseAndEffective(m, inst, rn, offset)

	accessAddr := base
	if preIndexed {
		accessAddr = effective
	}

	if load {
		var value uint32
		switch {
		case signBit && halfBit: // LDRSH
			value = uint32(int32(int16(m.Memory.HalfwordLoad(accessAddr))))
		case signBit && !halfBit: // LDRSB
			value = uint32(int32(int8(m.Memory.ByteLoad(accessAddr))))
		default: // LDRH
			value = uint32(m.Memory.HalfwordLoad(accessAddr))
		}
		m.SetRegister(rd, value)
	} else {
		value := m.CPU.GetRegister(rd)
		m.StoreHalfword(accessAddr, uint16(value&HalfwordValueMask))
	}

	if (preIndexed && wBit) || !preIndexed {
		writeBack(m, rn, effective)
	}

	return nil
}
