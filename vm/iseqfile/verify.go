package iseqfile

import (
	"fmt"
	"strings"

	"github.com/chazu/garnet/vm"
)

// Verify checks that every instruction of iseq decodes and that its
// operands index existing literals, call infos, children and locals, and
// that jumps land inside the code. It does not recurse into children.
func Verify(iseq *vm.ISeq) error {
	code := iseq.Code
	r := vm.NewBytecodeReader(code)
	for r.HasMore() {
		pos := r.Position()
		op := r.ReadOpcode()
		info := op.Info()
		if strings.HasPrefix(info.Name, "UNKNOWN_") {
			return fmt.Errorf("%04d: unknown opcode 0x%02x", pos, byte(op))
		}
		if pos+1+info.OperandBytes > len(code) {
			return fmt.Errorf("%04d: %s: truncated operands", pos, info.Name)
		}
		if err := verifyOperands(iseq, op, r); err != nil {
			return fmt.Errorf("%04d: %s: %w", pos, info.Name, err)
		}
	}
	return nil
}

func verifyOperands(iseq *vm.ISeq, op vm.Opcode, r *vm.BytecodeReader) error {
	literal := func() error {
		if i := int(r.ReadUint16()); i >= len(iseq.Literals) {
			return fmt.Errorf("literal %d out of range", i)
		}
		return nil
	}
	symbol := func() error {
		i := int(r.ReadUint16())
		if i >= len(iseq.Literals) || !iseq.Literals[i].IsSymbol() {
			return fmt.Errorf("literal %d is not a symbol", i)
		}
		return nil
	}
	callInfo := func() error {
		if i := int(r.ReadUint16()); i >= len(iseq.CallInfos) {
			return fmt.Errorf("call info %d out of range", i)
		}
		return nil
	}
	child := func(biased bool) error {
		i := int(r.ReadUint16())
		if biased {
			if i == 0 {
				return nil
			}
			i--
		}
		if i >= len(iseq.Children) {
			return fmt.Errorf("child %d out of range", i)
		}
		return nil
	}

	switch op {
	case vm.OpPutObject:
		return literal()
	case vm.OpGetIvar, vm.OpSetIvar, vm.OpGetConst:
		return symbol()
	case vm.OpGetLocal, vm.OpSetLocal:
		idx := int(r.ReadByte())
		if level := r.ReadByte(); level == 0 && idx >= iseq.LocalSize {
			return fmt.Errorf("local %d out of range", idx)
		}
	case vm.OpLambda:
		return child(false)
	case vm.OpSend, vm.OpInvokeSuper:
		if err := callInfo(); err != nil {
			return err
		}
		return child(true)
	case vm.OpInvokeBlock, vm.OpOptPlus, vm.OpOptMinus, vm.OpOptLt, vm.OpOptEq:
		return callInfo()
	case vm.OpJump, vm.OpBranchIf, vm.OpBranchUnless, vm.OpBranchNil:
		off := int(r.ReadInt16())
		if target := r.Position() + off; target < 0 || target > len(iseq.Code) {
			return fmt.Errorf("jump target %d outside code", target)
		}
	case vm.OpThrow:
		if k := r.ReadByte(); k < vm.ThrowBreak || k > vm.ThrowRetry {
			return fmt.Errorf("unknown throw kind %d", k)
		}
	case vm.OpDefineMethod:
		if err := symbol(); err != nil {
			return err
		}
		return child(false)
	case vm.OpDefineClass:
		if err := symbol(); err != nil {
			return err
		}
		if err := child(false); err != nil {
			return err
		}
		r.Skip(1)
	default:
		r.Skip(op.OperandBytes())
	}
	return nil
}
