// Package disasm is a pure, stateless pretty-printer from an address and a
// raw 32-bit instruction word to human-readable ARM assembly text. It
// reuses vm.Decode for classification rather than re-implementing decode.
package disasm

import (
	"fmt"
	"strings"

	"github.com/munroe/arm-forth-sim/vm"
)

var dataOpMnemonic = map[vm.DataOp]string{
	vm.OpAND: "AND", vm.OpEOR: "EOR", vm.OpSUB: "SUB", vm.OpRSB: "RSB",
	vm.OpADD: "ADD", vm.OpADC: "ADC", vm.OpSBC: "SBC", vm.OpRSC: "RSC",
	vm.OpTST: "TST", vm.OpTEQ: "TEQ", vm.OpCMP: "CMP", vm.OpCMN: "CMN",
	vm.OpORR: "ORR", vm.OpMOV: "MOV", vm.OpBIC: "BIC", vm.OpMVN: "MVN",
}

var noDestOp = map[vm.DataOp]bool{
	vm.OpTST: true, vm.OpTEQ: true, vm.OpCMP: true, vm.OpCMN: true,
}

var singleOperandOp = map[vm.DataOp]bool{
	vm.OpMOV: true, vm.OpMVN: true,
}

func reg(n int) string {
	switch n {
	case 13:
		return "sp"
	case 14:
		return "lr"
	case 15:
		return "pc"
	default:
		return fmt.Sprintf("r%d", n)
	}
}

// Format renders the instruction word fetched at addr as one line of ARM
// assembly text, with the condition suffix applied and no trailing
// newline.
func Format(addr uint32, word uint32) string {
	inst := vm.Decode(word)
	inst.Address = addr
	cond := conditionSuffix(inst.Condition)

	switch inst.Type {
	case vm.InstDataProcessing:
		return formatDataProcessing(inst, cond)
	case vm.InstMultiply:
		return formatMultiply(inst, cond)
	case vm.InstLoadStore:
		return formatLoadStore(inst, cond)
	case vm.InstHalfwordTransfer:
		return formatHalfword(inst, cond)
	case vm.InstLoadStoreMultiple:
		return formatLoadStoreMultiple(inst, cond)
	case vm.InstBranch:
		return formatBranch(inst, cond)
	case vm.InstSWI:
		return fmt.Sprintf("SWI%s 0x%06X", cond, word&0xFFFFFF)
	default:
		return fmt.Sprintf(".word 0x%08X", word)
	}
}

func conditionSuffix(c vm.ConditionCode) string {
	if c == vm.CondAL {
		return ""
	}
	s := c.String()
	if s == "" {
		return ""
	}
	return strings.ToLower(s)
}

func formatDataProcessing(inst vm.Instruction, cond string) string {
	mnemonic, ok := dataOpMnemonic[inst.DataOp]
	if !ok {
		mnemonic = "???"
	}
	s := ""
	if inst.SetFlags && !noDestOp[inst.DataOp] {
		s = "S"
	}

	rd := int((inst.Opcode >> vm.RdShift) & vm.Mask4Bit)
	rn := int((inst.Opcode >> vm.RnShift) & vm.Mask4Bit)
	op2 := dataProcessingOperand2(inst)

	switch {
	case noDestOp[inst.DataOp]:
		return fmt.Sprintf("%s%s %s, %s", mnemonic, cond, reg(rn), op2)
	case singleOperandOp[inst.DataOp]:
		return fmt.Sprintf("%s%s%s %s, %s", mnemonic, cond, s, reg(rd), op2)
	default:
		return fmt.Sprintf("%s%s%s %s, %s, %s", mnemonic, cond, s, reg(rd), reg(rn), op2)
	}
}

func dataProcessingOperand2(inst vm.Instruction) string {
	immediate := (inst.Opcode>>vm.IBitShift)&vm.Mask1Bit != 0
	if immediate {
		imm := inst.Opcode & vm.ImmediateValueMask
		rotation := ((inst.Opcode >> vm.RotationShift) & vm.RotationMask) * vm.RotationMultiplier
		value := (imm >> rotation) | (imm << (vm.BitsInWord - rotation))
		return fmt.Sprintf("#%d", value)
	}

	rm := int(inst.Opcode & vm.Mask4Bit)
	shiftType := vm.ShiftType((inst.Opcode >> vm.ShiftTypePos) & vm.Mask2Bit)
	shiftByReg := (inst.Opcode>>vm.Bit4Pos)&vm.Mask1Bit != 0

	shiftName := [...]string{"LSL", "LSR", "ASR", "ROR"}[shiftType]
	if shiftByReg {
		rs := int((inst.Opcode >> vm.RsShift) & vm.Mask4Bit)
		return fmt.Sprintf("%s, %s %s", reg(rm), shiftName, reg(rs))
	}

	shiftAmount := (inst.Opcode >> vm.ShiftAmountPos) & vm.Mask5Bit
	if shiftAmount == 0 {
		if shiftType == vm.ShiftLSL {
			return reg(rm)
		}
		if shiftType == vm.ShiftROR {
			return fmt.Sprintf("%s, RRX", reg(rm))
		}
		shiftAmount = 32
	}
	return fmt.Sprintf("%s, %s #%d", reg(rm), shiftName, shiftAmount)
}

func formatMultiply(inst vm.Instruction, cond string) string {
	opcode := inst.Opcode
	s := ""
	if inst.SetFlags {
		s = "S"
	}
	if opcode&vm.LongMultiplyMask == vm.LongMultiplyPattern {
		signed := (opcode>>22)&vm.Mask1Bit != 0
		accumulate := (opcode>>vm.MultiplyAShift)&vm.Mask1Bit != 0
		mnemonic := "UMULL"
		switch {
		case signed && accumulate:
			mnemonic = "SMLAL"
		case signed:
			mnemonic = "SMULL"
		case accumulate:
			mnemonic = "UMLAL"
		}
		rdLo := int((opcode >> vm.RdShift) & vm.Mask4Bit)
		rdHi := int((opcode >> vm.RnShift) & vm.Mask4Bit)
		rs := int((opcode >> vm.RsShift) & vm.Mask4Bit)
		rm := int(opcode & vm.Mask4Bit)
		return fmt.Sprintf("%s%s%s %s, %s, %s, %s", mnemonic, cond, s, reg(rdLo), reg(rdHi), reg(rm), reg(rs))
	}

	accumulate := (opcode>>vm.MultiplyAShift)&vm.Mask1Bit != 0
	rd := int((opcode >> vm.RnShift) & vm.Mask4Bit)
	rn := int((opcode >> vm.RdShift) & vm.Mask4Bit)
	rs := int((opcode >> vm.RsShift) & vm.Mask4Bit)
	rm := int(opcode & vm.Mask4Bit)
	if accumulate {
		return fmt.Sprintf("MLA%s%s %s, %s, %s, %s", cond, s, reg(rd), reg(rm), reg(rs), reg(rn))
	}
	return fmt.Sprintf("MUL%s%s %s, %s, %s", cond, s, reg(rd), reg(rm), reg(rs))
}

func loadStoreAddressText(inst vm.Instruction, offsetText string) string {
	rn := int((inst.Opcode >> vm.RnShift) & vm.Mask4Bit)
	preIndexed := (inst.Opcode>>vm.PBitShift)&vm.Mask1Bit != 0
	wBit := (inst.Opcode>>vm.WBitShift)&vm.Mask1Bit != 0
	addOffset := (inst.Opcode>>vm.UBitShift)&vm.Mask1Bit != 0

	sign := ""
	if !addOffset && offsetText != "" {
		sign = "-"
	}

	if offsetText == "" {
		return fmt.Sprintf("[%s]", reg(rn))
	}
	if preIndexed {
		suffix := "]"
		if wBit {
			suffix = "]!"
		}
		return fmt.Sprintf("[%s, %s%s%s", reg(rn), sign, offsetText, suffix)
	}
	return fmt.Sprintf("[%s], %s%s", reg(rn), sign, offsetText)
}

func formatLoadStore(inst vm.Instruction, cond string) string {
	load := (inst.Opcode>>vm.LBitShift)&vm.Mask1Bit != 0
	byteTransfer := (inst.Opcode>>vm.BBitShift)&vm.Mask1Bit != 0
	rd := int((inst.Opcode >> vm.RdShift) & vm.Mask4Bit)

	mnemonic := "STR"
	if load {
		mnemonic = "LDR"
	}
	if byteTransfer {
		mnemonic += "B"
	}

	immediate := (inst.Opcode>>vm.IBitShift)&vm.Mask1Bit == 0
	var offsetText string
	if immediate {
		offset := inst.Opcode & vm.Offset12BitMask
		if offset != 0 {
			offsetText = fmt.Sprintf("#%d", offset)
		}
	} else {
		rm := int(inst.Opcode & vm.Mask4Bit)
		offsetText = reg(rm)
	}

	return fmt.Sprintf("%s%s %s, %s", mnemonic, cond, reg(rd), loadStoreAddressText(inst, offsetText))
}

func formatHalfword(inst vm.Instruction, cond string) string {
	load := (inst.Opcode>>vm.LBitShift)&vm.Mask1Bit != 0
	signBit := (inst.Opcode>>6)&vm.Mask1Bit != 0
	halfBit := (inst.Opcode>>5)&vm.Mask1Bit != 0
	rd := int((inst.Opcode >> vm.RdShift) & vm.Mask4Bit)

	mnemonic := "STRH"
	switch {
	case load && signBit && halfBit:
		mnemonic = "LDRSH"
	case load && signBit && !halfBit:
		mnemonic = "LDRSB"
	case load:
		mnemonic = "LDRH"
	}

	immediate := (inst.Opcode>>vm.BBitShift)&vm.Mask1Bit != 0
	var offsetText string
	if immediate {
		hi := (inst.Opcode >> vm.HalfwordHighShift) & vm.HalfwordOffsetHighMask
		lo := inst.Opcode & vm.HalfwordOffsetLowMask
		offset := (hi << vm.HalfwordLowShift) | lo
		if offset != 0 {
			offsetText = fmt.Sprintf("#%d", offset)
		}
	} else {
		rm := int(inst.Opcode & vm.Mask4Bit)
		offsetText = reg(rm)
	}

	return fmt.Sprintf("%s%s %s, %s", mnemonic, cond, reg(rd), loadStoreAddressText(inst, offsetText))
}

func formatLoadStoreMultiple(inst vm.Instruction, cond string) string {
	load := (inst.Opcode>>vm.LBitShift)&vm.Mask1Bit != 0
	wBit := (inst.Opcode>>vm.WBitShift)&vm.Mask1Bit != 0
	increment := (inst.Opcode>>vm.UBitShift)&vm.Mask1Bit != 0
	preIndex := (inst.Opcode>>vm.PBitShift)&vm.Mask1Bit != 0
	rn := int((inst.Opcode >> vm.RnShift) & vm.Mask4Bit)
	regList := inst.Opcode & vm.RegisterListMask

	mnemonic := "STM"
	if load {
		mnemonic = "LDM"
	}
	switch {
	case increment && preIndex:
		mnemonic += "IB"
	case increment && !preIndex:
		mnemonic += "IA"
	case !increment && preIndex:
		mnemonic += "DB"
	default:
		mnemonic += "DA"
	}

	bang := ""
	if wBit {
		bang = "!"
	}

	var regs []string
	for i := 0; i < 16; i++ {
		if regList&(1<<uint(i)) != 0 {
			regs = append(regs, reg(i))
		}
	}

	return fmt.Sprintf("%s%s %s%s, {%s}", mnemonic, cond, reg(rn), bang, strings.Join(regs, ", "))
}

func formatBranch(inst vm.Instruction, cond string) string {
	if (inst.Opcode&vm.BXPatternMask) == vm.BXEncodingBase || (inst.Opcode&vm.BXPatternMask) == vm.BLXEncodingBase {
		rm := int(inst.Opcode & vm.Mask4Bit)
		return fmt.Sprintf("BX%s %s", cond, reg(rm))
	}

	link := (inst.Opcode>>vm.BranchLinkShift)&vm.Mask1Bit != 0
	offset := inst.Opcode & vm.Offset24BitMask
	if offset&vm.Offset24BitSignBit != 0 {
		offset |= vm.Offset24BitSignExt
	}
	target := inst.Address + vm.PCBranchBase + (offset << vm.WordToByteShift)

	mnemonic := "B"
	if link {
		mnemonic = "BL"
	}
	return fmt.Sprintf("%s%s 0x%08X", mnemonic, cond, target)
}
