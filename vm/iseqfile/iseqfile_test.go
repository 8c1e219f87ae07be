package iseqfile

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/garnet/vm"
)

// buildProgram assembles:
//
//	def add(a, b = 1) = a + b
//	add(2) + add(3, 4)
func buildProgram(t *testing.T, v *vm.VM) *vm.ISeq {
	t.Helper()
	body := v.NewAssembler("add", vm.ISeqMethod).
		Params(vm.Params{Lead: 1, Opt: []vm.Default{vm.Const(vm.FromInt(1))}}, "a", "b").
		GetLocal(0, 0).GetLocal(1, 0).OptPlus().Leave().
		MustBuild()

	top := v.NewAssembler("<main>", vm.ISeqTop).
		DefineMethod("add", body).Pop().
		PutSelf().PutInt(2).Send("add", 1, vm.FlagFCall, nil).
		PutSelf().PutInt(3).PutInt(4).Send("add", 2, vm.FlagFCall, nil).
		OptPlus().
		Leave().
		MustBuild()
	return top
}

func TestRoundTripRuns(t *testing.T) {
	src := vm.NewVM()
	data, err := Encode(src, buildProgram(t, src))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dst := vm.NewVM()
	iseq, err := Decode(dst, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := dst.Run(context.Background(), iseq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !got.IsInt() || got.Int() != 10 {
		t.Errorf("result = %s, want 10", dst.Inspect(got))
	}
}

func TestEncodingIsCanonical(t *testing.T) {
	src := vm.NewVM()
	iseq := buildProgram(t, src)
	a, err := Encode(src, iseq)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(src, iseq)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("two encodings of the same sequence differ")
	}

	// Symbols are stored by name, so re-encoding in another VM is stable.
	dst := vm.NewVM()
	decoded, err := Decode(dst, a)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Encode(dst, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, c) {
		t.Error("re-encoded program differs from the original encoding")
	}
}

func TestWriteReadFile(t *testing.T) {
	src := vm.NewVM()
	path := filepath.Join(t.TempDir(), "prog.gbc")
	if err := WriteFile(src, path, buildProgram(t, src)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dst := vm.NewVM()
	iseq, err := ReadFile(dst, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(iseq.Children) != 1 || iseq.Children[0].Name != "add" {
		t.Errorf("children = %v, want [add]", iseq.Children)
	}
	if got := iseq.Children[0].Params.Arity(); got != -2 {
		t.Errorf("add arity = %d, want -2", got)
	}
}

func TestDecodeRejectsHeader(t *testing.T) {
	v := vm.NewVM()
	top, err := encodeISeq(v, buildProgram(t, v))
	if err != nil {
		t.Fatal(err)
	}

	badMagic, _ := encMode.Marshal(&fileRecord{Magic: "NOPE", Version: Version, Top: top})
	if _, err := Decode(v, badMagic); !errors.Is(err, ErrBadMagic) {
		t.Errorf("bad magic: err = %v, want ErrBadMagic", err)
	}

	future, _ := encMode.Marshal(&fileRecord{Magic: Magic, Version: Version + 1, Top: top})
	_, err = Decode(v, future)
	var ve *VersionError
	if !errors.As(err, &ve) || ve.Got != Version+1 {
		t.Errorf("future version: err = %v, want VersionError", err)
	}

	if _, err := Decode(v, []byte{0xff, 0x00}); err == nil {
		t.Error("garbage: expected error")
	}
}

func TestDecodeRejectsBadOperands(t *testing.T) {
	v := vm.NewVM()
	iseq := v.NewAssembler("lit", vm.ISeqTop).PutString("x").Leave().MustBuild()
	rec, err := encodeISeq(v, iseq)
	if err != nil {
		t.Fatal(err)
	}
	// putobject 7 with a single literal.
	rec.Code = append([]byte(nil), rec.Code...)
	rec.Code[1] = 7
	data, _ := encMode.Marshal(&fileRecord{Magic: Magic, Version: Version, Top: rec})
	if _, err := Decode(v, data); err == nil {
		t.Fatal("expected out-of-range literal error")
	}

	rec.Code = []byte{byte(vm.OpPutObject), 0}
	data, _ = encMode.Marshal(&fileRecord{Magic: Magic, Version: Version, Top: rec})
	if _, err := Decode(v, data); err == nil {
		t.Fatal("expected truncated operand error")
	}
}

func TestVerifyJumps(t *testing.T) {
	v := vm.NewVM()
	a := v.NewAssembler("loop", vm.ISeqTop)
	done := a.NewLabel()
	a.PutBool(true).BranchIf(done).PutNil().Leave()
	a.Mark(done).SetDepth(0).PutInt(1).Leave()
	iseq := a.MustBuild()
	if err := Verify(iseq); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	bad := *iseq
	bad.Code = append([]byte(nil), iseq.Code...)
	// Low byte of branchif's offset, after puttrue and the branch opcode.
	bad.Code[2] = 0x7f
	if err := Verify(&bad); err == nil {
		t.Error("expected jump target error")
	}
}

func TestEncodeRejectsHeapLiterals(t *testing.T) {
	v := vm.NewVM()
	iseq := v.NewAssembler("h", vm.ISeqTop).PutObject(v.NewHash()).Leave().MustBuild()
	if _, err := Encode(v, iseq); err == nil {
		t.Error("expected an error for a Hash literal")
	}
}
