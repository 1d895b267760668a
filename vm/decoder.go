package vm

// InstructionType tags the classification Decode assigns to a 32-bit
// instruction word.
type InstructionType int

const (
	InstIllegal InstructionType = iota
	InstDataProcessing
	InstMultiply
	InstLoadStore
	InstHalfwordTransfer
	InstLoadStoreMultiple
	InstBranch
	InstSWI
)

// DataOp names the sixteen data-processing opcodes, numbered the way the
// ARM opcode field (bits 24-21) numbers them.
type DataOp int

const (
	OpAND DataOp = iota
	OpEOR
	OpSUB
	OpRSB
	OpADD
	OpADC
	OpSBC
	OpRSC
	OpTST
	OpTEQ
	OpCMP
	OpCMN
	OpORR
	OpMOV
	OpBIC
	OpMVN
)

// Instruction is the decoder's output: a tagged, total classification of a
// 32-bit word. Decode is pure and does not read the condition field for
// classification purposes; Condition is populated only as a convenience
// for the Executor and disassembler.
type Instruction struct {
	Address   uint32
	Opcode    uint32
	Type      InstructionType
	Condition ConditionCode
	SetFlags  bool
	DataOp    DataOp // valid when Type == InstDataProcessing
}

// Decode classifies a 32-bit ARM instruction word. The cascade below
// follows ARMv4's own tie-break order: multiply patterns are checked
// before the general data-processing register forms they would otherwise
// collide with, and halfword transfer patterns are checked before
// data-processing register-shift forms for the same reason.
func Decode(opcode uint32) Instruction {
	inst := Instruction{
		Opcode:    opcode,
		Condition: ConditionCode((opcode >> ConditionShift) & Mask4Bit),
		SetFlags:  (opcode>>SBitShift)&Mask1Bit != 0,
	}

	bits2726 := (opcode >> Bits27_26Shift) & Mask2Bit

	switch bits2726 {
	case 0b00:
		switch {
		case (opcode & BXPatternMask) == BXEncodingBase, (opcode & BXPatternMask) == BLXEncodingBase:
			inst.Type = InstBranch
		case (opcode & MultiplyMask) == MultiplyPattern:
			inst.Type = InstMultiply
		case (opcode & LongMultiplyMask) == LongMultiplyPattern:
			inst.Type = InstMultiply
		case isHalfwordForm(opcode):
			inst.Type = InstHalfwordTransfer
		default:
			inst.Type = InstDataProcessing
			inst.DataOp = DataOp((opcode >> OpcodeShift) & Mask4Bit)
		}

	case 0b01:
		inst.Type = InstLoadStore

	case 0b10:
		if opcode&BranchBitMask != 0 {
			inst.Type = InstBranch
		} else {
			inst.Type = InstLoadStoreMultiple
		}

	case 0b11:
		if opcode&SWIDetectMask == SWIPattern {
			inst.Type = InstSWI
		} else {
			inst.Type = InstIllegal // coprocessor space: not implemented
		}
	}

	return inst
}

// isHalfwordForm reports the ARMv4 halfword/signed-byte transfer pattern:
// bits 27-25 = 000, bit 7 = 1, bit 4 = 1. This collides bit-for-bit with
// the data-processing register-shift encoding space and must be checked
// first.
func isHalfwordForm(opcode uint32) bool {
	bits2725 := (opcode >> Bits27_25Shift) & Mask3Bit
	bit7 := (opcode >> Bit7Pos) & Mask1Bit
	bit4 := (opcode >> Bit4Pos) & Mask1Bit
	return bits2725 == 0 && bit7 == 1 && bit4 == 1
}
