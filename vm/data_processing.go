package vm

import "fmt"

// pcOperand reads a register for use as a data-processing operand (Rn, or
// Rm) in the immediate and immediate-shift forms. PC observes the
// instruction's address + 8 here, the same as an LDR/STR base. The
// register-shifted-register form reads its operands through
// m.CPU.GetRegister instead.
func pcOperand(m *Machine, fetchAddr uint32, reg int) uint32 {
	if reg == 15 {
		return fetchAddr + ARMPipelineOffset
	}
	return m.CPU.R[reg]
}

func executeDataProcessing(m *Machine, inst Instruction) error {
	opcode := inst.DataOp
	immediate := (inst.Opcode >> IBitShift) & Mask1Bit
	setFlags := inst.SetFlags
	fetchAddr := inst.Address

	rd := int((inst.Opcode >> RdShift) & Mask4Bit)
	rn := int((inst.Opcode >> RnShift) & Mask4Bit)

	var op1, op2 uint32
	var shiftCarry bool

	if immediate == 1 {
		op1 = pcOperand(m, fetchAddr, rn)
		imm := inst.Opcode & ImmediateValueMask
		rotation := ((inst.Opcode >> RotationShift) & RotationMask) * RotationMultiplier
		op2 = (imm >> rotation) | (imm << (BitsInWord - rotation))
		if rotation == 0 {
			shiftCarry = m.CPU.CPSR.C
		} else {
			shiftCarry = op2&SignBitMask != 0
		}
	} else {
		rm := int(inst.Opcode & Mask4Bit)
		shiftType := ShiftType((inst.Opcode >> ShiftTypePos) & Mask2Bit)
		shiftByReg := (inst.Opcode >> Bit4Pos) & Mask1Bit

		var shiftAmount int
		var rmValue uint32
		if shiftByReg == 1 {
			// Register-shifted-register form: PC operands (Rn, Rm and Rs)
			// are read through CPU.GetRegister after Step has advanced PC
			// by 4, so they observe the instruction's address + 12.
			op1 = m.CPU.GetRegister(rn)
			rmValue = m.CPU.GetRegister(rm)
			rs := int((inst.Opcode >> RsShift) & Mask4Bit)
			shiftAmount = int(m.CPU.GetRegister(rs) & Mask8Bit)
		} else {
			op1 = pcOperand(m, fetchAddr, rn)
			rmValue = pcOperand(m, fetchAddr, rm)
			shiftAmount = int((inst.Opcode >> ShiftAmountPos) & Mask5Bit)
		}

		if shiftType == ShiftROR && shiftAmount == 0 && shiftByReg == 0 {
			shiftType = ShiftRRX
		}

		shiftCarry = CalculateShiftCarry(rmValue, shiftAmount, shiftType, m.CPU.CPSR.C)
		op2 = PerformShift(rmValue, shiftAmount, shiftType, m.CPU.CPSR.C)
	}

	var result uint32
	var carry, overflow bool
	writeResult := true
	updateFlags := setFlags

	switch opcode {
	case OpAND:
		result = op1 & op2
		carry = shiftCarry
	case OpEOR:
		result = op1 ^ op2
		carry = shiftCarry
	case OpSUB:
		result = op1 - op2
		carry = CalculateSubCarry(op1, op2)
		overflow = CalculateSubOverflow(op1, op2, result)
	case OpRSB:
		result = op2 - op1
		carry = CalculateSubCarry(op2, op1)
		overflow = CalculateSubOverflow(op2, op1, result)
	case OpADD:
		result = op1 + op2
		carry = CalculateAddCarry(op1, op2, result)
		overflow = CalculateAddOverflow(op1, op2, result)
	case OpADC:
		carryIn := uint32(0)
		if m.CPU.CPSR.C {
			carryIn = 1
		}
		temp := op1 + op2
		result = temp + carryIn
		carry = CalculateAddCarry(op1, op2, temp) || CalculateAddCarry(temp, carryIn, result)
		overflow = CalculateAddOverflow(op1, op2, result)
	case OpSBC:
		carryIn := uint32(1)
		if !m.CPU.CPSR.C {
			carryIn = 0
		}
		result = op1 - op2 - (1 - carryIn)
		carry = CalculateSubCarry(op1, op2+1-carryIn)
		overflow = CalculateSubOverflow(op1, op2+(1-carryIn), result)
	case OpRSC:
		carryIn := uint32(1)
		if !m.CPU.CPSR.C {
			carryIn = 0
		}
		result = op2 - op1 - (1 - carryIn)
		carry = CalculateSubCarry(op2, op1+1-carryIn)
		overflow = CalculateSubOverflow(op2, op1+(1-carryIn), result)
	case OpTST:
		result = op1 & op2
		carry = shiftCarry
		writeResult = false
		updateFlags = true
	case OpTEQ:
		result = op1 ^ op2
		carry = shiftCarry
		writeResult = false
		updateFlags = true
	case OpCMP:
		result = op1 - op2
		carry = CalculateSubCarry(op1, op2)
		overflow = CalculateSubOverflow(op1, op2, result)
		writeResult = false
		updateFlags = true
	case OpCMN:
		result = op1 + op2
		carry = CalculateAddCarry(op1, op2, result)
		overflow = CalculateAddOverflow(op1, op2, result)
		writeResult = false
		updateFlags = true
	case OpORR:
		result = op1 | op2
		carry = shiftCarry
	case OpMOV:
		result = op2
		carry = shiftCarry
	case OpBIC:
		result = op1 &^ op2
		carry = shiftCarry
	case OpMVN:
		result = ^op2
		carry = shiftCarry
	default:
		return fmt.Errorf("unknown data processing opcode: 0x%X", int(opcode))
	}

	if writeResult && rd != 15 {
		m.SetRegister(rd, result)
	} else if writeResult {
		m.SetRegister(15, result)
	}

	if updateFlags && (!writeResult || rd != 15) {
		switch opcode {
		case OpAND, OpEOR, OpTST, OpTEQ, OpORR, OpMOV, OpBIC, OpMVN:
			newFlags := m.CPU.CPSR
			newFlags.UpdateFlagsNZC(result, carry)
			m.SetFlags(newFlags)
		default:
			newFlags := m.CPU.CPSR
			newFlags.UpdateFlagsNZCV(result, carry, overflow)
			m.SetFlags(newFlags)
		}
	}

	return nil
}
