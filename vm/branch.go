package vm

// executeBranch executes B, BL, and BX (branch-and-exchange, since Thumb
// interworking is out of scope, BX is just a branch to the target with
// bit 0 cleared).
func executeBranch(m *Machine, inst Instruction) error {
	if (inst.Opcode&BXPatternMask) == BXEncodingBase || (inst.Opcode&BXPatternMask) == BLXEncodingBase {
		rm := int(inst.Opcode & Mask4Bit)
		target := m.CPU.GetRegister(rm) & ThumbModeClearMask
		m.SetRegister(15, target)
		return nil
	}

	link := (inst.Opcode >> BranchLinkShift) & Mask1Bit
	offset := inst.Opcode & Offset24BitMask
	if offset&Offset24BitSignBit != 0 {
		offset |= Offset24BitSignExt
	}
	target := inst.Address + PCBranchBase + (offset << WordToByteShift)

	if link == 1 {
		m.SetRegister(LR, inst.Address+4)
	}
	m.SetRegister(15, target)
	return nil
}
