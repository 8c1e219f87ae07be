package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPutNil    Opcode = 0x10 // push nil
	OpPutTrue   Opcode = 0x11 // push true
	OpPutFalse  Opcode = 0x12 // push false
	OpPutSelf   Opcode = 0x13 // push self
	OpPutInt8   Opcode = 0x14 // push 8-bit signed integer
	OpPutObject Opcode = 0x15 // push literal (16-bit index)
)

// Variable Operations
const (
	OpGetLocal Opcode = 0x20 // push local (8-bit index, 8-bit scope level)
	OpSetLocal Opcode = 0x21 // pop into local (8-bit index, 8-bit scope level)
	OpGetIvar  Opcode = 0x22 // push ivar of self (16-bit literal symbol)
	OpSetIvar  Opcode = 0x23 // pop into ivar of self (16-bit literal symbol)
	OpGetConst Opcode = 0x24 // push named class (16-bit literal symbol)
)

// Object Construction
const (
	OpNewArray Opcode = 0x28 // pop n values into an Array (8-bit count)
	OpNewHash  Opcode = 0x29 // pop n key/value values into a Hash (8-bit count)
	OpLambda   Opcode = 0x2A // push lambda over child block (16-bit child index)
)

// Calls
const (
	OpSend        Opcode = 0x30 // call (16-bit call info, 16-bit block child + 1)
	OpInvokeSuper Opcode = 0x31 // super call (16-bit call info, 16-bit block child + 1)
	OpInvokeBlock Opcode = 0x32 // yield (16-bit call info)
)

// Optimized Calls (16-bit call info used when the fast path does not apply)
const (
	OpOptPlus  Opcode = 0x40 // +
	OpOptMinus Opcode = 0x41 // -
	OpOptLt    Opcode = 0x42 // <
	OpOptEq    Opcode = 0x43 // ==
)

// Control Flow (16-bit signed offsets from after the operand)
const (
	OpJump         Opcode = 0x60 // unconditional jump
	OpBranchIf     Opcode = 0x61 // pop, jump if truthy
	OpBranchUnless Opcode = 0x62 // pop, jump if falsy
	OpBranchNil    Opcode = 0x63 // pop, jump if nil
)

// Returns and Transfers
const (
	OpLeave   Opcode = 0x70 // return top of stack from the frame
	OpThrow   Opcode = 0x71 // pop, raise a control transfer (8-bit kind)
	OpRethrow Opcode = 0x72 // end of ensure: resume the pending error
)

// Definitions
const (
	OpDefineMethod Opcode = 0x80 // define method (16-bit literal symbol, 16-bit child)
	OpDefineClass  Opcode = 0x81 // open class (16-bit literal symbol, 16-bit child, 8-bit flags)
)

// Throw kinds for OpThrow.
const (
	ThrowBreak  byte = 1
	ThrowNext   byte = 2
	ThrowReturn byte = 3
	ThrowRetry  byte = 4
)

// OpDefineClass flags.
const (
	DefineClassHasSuper byte = 1 << iota
	DefineClassModule
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
	StackEffect  int // Net stack change (-1 = pop, +1 = push, 0 = neutral)
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"nop", 0, 0},
	OpPop: {"pop", 0, -1},
	OpDup: {"dup", 0, 1},

	OpPutNil:    {"putnil", 0, 1},
	OpPutTrue:   {"puttrue", 0, 1},
	OpPutFalse:  {"putfalse", 0, 1},
	OpPutSelf:   {"putself", 0, 1},
	OpPutInt8:   {"putint", 1, 1},
	OpPutObject: {"putobject", 2, 1},

	OpGetLocal: {"getlocal", 2, 1},
	OpSetLocal: {"setlocal", 2, -1},
	OpGetIvar:  {"getivar", 2, 1},
	OpSetIvar:  {"setivar", 2, -1},
	OpGetConst: {"getconst", 2, 1},

	OpNewArray: {"newarray", 1, 0},
	OpNewHash:  {"newhash", 1, 0},
	OpLambda:   {"lambda", 2, 1},

	OpSend:        {"send", 4, 0},
	OpInvokeSuper: {"invokesuper", 4, 0},
	OpInvokeBlock: {"invokeblock", 2, 0},

	OpOptPlus:  {"opt_plus", 2, -1},
	OpOptMinus: {"opt_minus", 2, -1},
	OpOptLt:    {"opt_lt", 2, -1},
	OpOptEq:    {"opt_eq", 2, -1},

	OpJump:         {"jump", 2, 0},
	OpBranchIf:     {"branchif", 2, -1},
	OpBranchUnless: {"branchunless", 2, -1},
	OpBranchNil:    {"branchnil", 2, -1},

	OpLeave:   {"leave", 0, -1},
	OpThrow:   {"throw", 1, -1},
	OpRethrow: {"rethrow", 0, 0},

	OpDefineMethod: {"definemethod", 4, 1},
	OpDefineClass:  {"defineclass", 5, 1},
}

// Info returns metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes following the opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes instructions from a code buffer.
type BytecodeReader struct {
	code []byte
	pos  int
}

// NewBytecodeReader creates a reader positioned at the start of code.
func NewBytecodeReader(code []byte) *BytecodeReader {
	return &BytecodeReader{code: code}
}

func (r *BytecodeReader) Position() int { return r.pos }
func (r *BytecodeReader) HasMore() bool { return r.pos < len(r.code) }
func (r *BytecodeReader) Seek(pos int)  { r.pos = pos }
func (r *BytecodeReader) Skip(n int)    { r.pos += n }

func (r *BytecodeReader) ReadOpcode() Opcode {
	op := Opcode(r.code[r.pos])
	r.pos++
	return op
}

func (r *BytecodeReader) ReadByte() byte {
	b := r.code[r.pos]
	r.pos++
	return b
}

func (r *BytecodeReader) ReadInt8() int8 {
	return int8(r.ReadByte())
}

func (r *BytecodeReader) ReadUint16() uint16 {
	v := binary.LittleEndian.Uint16(r.code[r.pos:])
	r.pos += 2
	return v
}

func (r *BytecodeReader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at the reader position,
// resolving literals and call infos against iseq.
func DisassembleInstruction(vm *VM, iseq *ISeq, r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpPutInt8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt8())

	case OpPutObject:
		idx := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, literalString(vm, iseq, idx))

	case OpGetIvar, OpSetIvar, OpGetConst:
		idx := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, literalString(vm, iseq, idx))

	case OpGetLocal, OpSetLocal:
		idx := r.ReadByte()
		level := r.ReadByte()
		return fmt.Sprintf("%04d  %s %s@%d, %d", pos, info.Name, localName(iseq, int(idx), int(level)), idx, level)

	case OpNewArray, OpNewHash:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())

	case OpThrow:
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, throwName(r.ReadByte()))

	case OpLambda:
		return fmt.Sprintf("%04d  %s child=%d", pos, info.Name, r.ReadUint16())

	case OpSend, OpInvokeSuper:
		ci := r.ReadUint16()
		blk := r.ReadUint16()
		s := fmt.Sprintf("%04d  %s %s", pos, info.Name, callInfoString(vm, iseq, ci))
		if blk > 0 {
			s += fmt.Sprintf(" block=%d", blk-1)
		}
		return s

	case OpInvokeBlock, OpOptPlus, OpOptMinus, OpOptLt, OpOptEq:
		ci := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, callInfoString(vm, iseq, ci))

	case OpJump, OpBranchIf, OpBranchUnless, OpBranchNil:
		offset := r.ReadInt16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)

	case OpDefineMethod:
		name := r.ReadUint16()
		child := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %s child=%d", pos, info.Name, literalString(vm, iseq, name), child)

	case OpDefineClass:
		name := r.ReadUint16()
		child := r.ReadUint16()
		flags := r.ReadByte()
		return fmt.Sprintf("%04d  %s %s child=%d flags=%d", pos, info.Name, literalString(vm, iseq, name), child, flags)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble renders iseq and all of its children.
func Disassemble(vm *VM, iseq *ISeq) string {
	var sb strings.Builder
	disassembleInto(&sb, vm, iseq)
	return sb.String()
}

func disassembleInto(sb *strings.Builder, vm *VM, iseq *ISeq) {
	fmt.Fprintf(sb, "== %s (%s) locals=%d stack=%d\n", iseq.Name, iseq.Type, iseq.LocalSize, iseq.StackMax)
	if len(iseq.LocalNames) > 0 {
		fmt.Fprintf(sb, "locals: %s\n", strings.Join(iseq.LocalNames, ", "))
	}
	r := NewBytecodeReader(iseq.Code)
	for r.HasMore() {
		sb.WriteString(DisassembleInstruction(vm, iseq, r))
		sb.WriteByte('\n')
	}
	if len(iseq.CatchTable) > 0 {
		sb.WriteString("catch table:\n")
		for _, ce := range iseq.CatchTable {
			fmt.Fprintf(sb, "  %s %04d-%04d -> %04d sp=%d", ce.Type, ce.Start, ce.End, ce.Cont, ce.SP)
			if len(ce.Classes) > 0 {
				fmt.Fprintf(sb, " [%s]", strings.Join(ce.Classes, ", "))
			}
			sb.WriteByte('\n')
		}
	}
	for _, child := range iseq.Children {
		sb.WriteByte('\n')
		disassembleInto(sb, vm, child)
	}
}

func literalString(vm *VM, iseq *ISeq, idx uint16) string {
	if int(idx) >= len(iseq.Literals) {
		return fmt.Sprintf("<literal %d>", idx)
	}
	return vm.Inspect(iseq.Literals[idx])
}

func callInfoString(vm *VM, iseq *ISeq, idx uint16) string {
	if int(idx) >= len(iseq.CallInfos) {
		return fmt.Sprintf("<callinfo %d>", idx)
	}
	ci := iseq.CallInfos[idx]
	s := fmt.Sprintf("<mid:%s, argc:%d", vm.SymbolName(ci.Mid), ci.Argc)
	if ci.Flags != 0 {
		s += ", " + ci.Flags.String()
	}
	if len(ci.KwArgs) > 0 {
		names := make([]string, len(ci.KwArgs))
		for i, k := range ci.KwArgs {
			names[i] = vm.SymbolName(k) + ":"
		}
		s += ", kw:[" + strings.Join(names, ", ") + "]"
	}
	return s + ">"
}

func localName(iseq *ISeq, idx, level int) string {
	if level == 0 && idx < len(iseq.LocalNames) {
		return iseq.LocalNames[idx]
	}
	return "?"
}

func throwName(kind byte) string {
	switch kind {
	case ThrowBreak:
		return "break"
	case ThrowNext:
		return "next"
	case ThrowReturn:
		return "return"
	case ThrowRetry:
		return "retry"
	default:
		return fmt.Sprintf("kind=%d", kind)
	}
}
