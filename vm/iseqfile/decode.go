package iseqfile

import (
	"errors"
	"fmt"
	"os"

	"fortio.org/safecast"
	"github.com/chazu/garnet/vm"
)

// ErrBadMagic is returned for data that is not a Garnet program file.
var ErrBadMagic = errors.New("iseqfile: not a program file")

// VersionError reports a file written by an incompatible format version.
type VersionError struct {
	Got uint64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("iseqfile: unsupported version %d (want %d)", e.Got, Version)
}

// Decode loads a program into v. Symbols are interned in v, string
// literals are allocated in its heap, and every instruction operand is
// checked against the tables it indexes before the sequence is returned.
func Decode(v *vm.VM, data []byte) (*vm.ISeq, error) {
	var f fileRecord
	if err := decMode.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("iseqfile: unmarshal: %w", err)
	}
	if f.Magic != Magic {
		return nil, ErrBadMagic
	}
	if f.Version != Version {
		return nil, &VersionError{Got: f.Version}
	}
	if f.Top == nil {
		return nil, errors.New("iseqfile: missing top-level sequence")
	}
	d := &decoder{vm: v}
	iseq, err := d.iseq(f.Top)
	if err != nil {
		return nil, err
	}
	iseq.Prepare()
	return iseq, nil
}

// ReadFile decodes the program at path.
func ReadFile(v *vm.VM, path string) (*vm.ISeq, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("iseqfile: read %s: %w", path, err)
	}
	return Decode(v, data)
}

type decoder struct {
	vm *vm.VM
}

// narrowed lists the field types decoded from unsigned CBOR integers.
type narrowed interface {
	~int | ~uint8 | ~uint16
}

func conv[T narrowed](what string, n uint64) (T, error) {
	v, err := safecast.Conv[T](n)
	if err != nil {
		return v, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}

func (d *decoder) iseq(r *iseqRecord) (*vm.ISeq, error) {
	iseq, err := d.build(r)
	if err != nil {
		return nil, fmt.Errorf("iseqfile: %s: %w", r.Name, err)
	}
	return iseq, nil
}

func (d *decoder) build(r *iseqRecord) (*vm.ISeq, error) {
	typ, err := conv[uint8]("type", r.Type)
	if err != nil {
		return nil, err
	}
	if vm.ISeqType(typ).String() == "unknown" {
		return nil, fmt.Errorf("unknown sequence type %d", typ)
	}
	iseq := &vm.ISeq{
		Name:       r.Name,
		Type:       vm.ISeqType(typ),
		Path:       r.Path,
		Code:       r.Code,
		LocalNames: r.LocalNames,
		Lambda:     r.Lambda,
	}
	// Locals are addressed by a one-byte operand.
	localSize, err := conv[uint8]("local size", r.LocalSize)
	if err != nil {
		return nil, err
	}
	iseq.LocalSize = int(localSize)
	if iseq.StackMax, err = conv[int]("stack max", r.StackMax); err != nil {
		return nil, err
	}
	if err := d.params(&iseq.Params, &r.Params); err != nil {
		return nil, err
	}
	if iseq.Params.Size() > iseq.LocalSize {
		return nil, fmt.Errorf("parameters need %d locals, have %d", iseq.Params.Size(), iseq.LocalSize)
	}

	for i := range r.Literals {
		lit, err := d.literal(&r.Literals[i])
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		iseq.Literals = append(iseq.Literals, lit)
	}
	for i, cr := range r.CallInfos {
		argc, err := conv[int]("argc", cr.Argc)
		if err != nil {
			return nil, fmt.Errorf("call info %d: %w", i, err)
		}
		flags, err := conv[uint16]("flags", cr.Flags)
		if err != nil {
			return nil, fmt.Errorf("call info %d: %w", i, err)
		}
		kw := make([]vm.Symbol, len(cr.KwArgs))
		for j, k := range cr.KwArgs {
			kw[j] = d.vm.Intern(k)
		}
		ci := vm.NewCallInfo(d.vm.Intern(cr.Mid), argc, vm.CallFlag(flags), kw...)
		iseq.CallInfos = append(iseq.CallInfos, ci)
	}
	for _, cr := range r.Children {
		if cr == nil {
			return nil, errors.New("nil child sequence")
		}
		child, err := d.iseq(cr)
		if err != nil {
			return nil, err
		}
		iseq.Children = append(iseq.Children, child)
	}
	for i, cr := range r.Catch {
		ce, err := catchEntry(cr, len(iseq.Code))
		if err != nil {
			return nil, fmt.Errorf("catch entry %d: %w", i, err)
		}
		iseq.CatchTable = append(iseq.CatchTable, ce)
	}
	if err := Verify(iseq); err != nil {
		return nil, err
	}
	return iseq, nil
}

func (d *decoder) params(p *vm.Params, r *paramsRecord) error {
	var err error
	if p.Lead, err = conv[int]("lead", r.Lead); err != nil {
		return err
	}
	if p.Post, err = conv[int]("post", r.Post); err != nil {
		return err
	}
	if p.RequiredKw, err = conv[int]("required keywords", r.RequiredKw); err != nil {
		return err
	}
	if p.RequiredKw > len(r.Keywords) {
		return fmt.Errorf("%d required keywords but %d declared", p.RequiredKw, len(r.Keywords))
	}
	if len(r.KwDefaults) != len(r.Keywords)-p.RequiredKw {
		return fmt.Errorf("%d keyword defaults for %d optional keywords", len(r.KwDefaults), len(r.Keywords)-p.RequiredKw)
	}
	p.Rest = r.Rest
	p.KwRest = r.KwRest
	p.Block = r.Block
	p.Ambiguous = r.Ambiguous
	for _, k := range r.Keywords {
		p.Keywords = append(p.Keywords, d.vm.Intern(k))
	}
	if p.Opt, err = d.defaults(r.Opt); err != nil {
		return err
	}
	if p.KwDefaults, err = d.defaults(r.KwDefaults); err != nil {
		return err
	}
	return nil
}

func (d *decoder) defaults(rs []defaultRecord) ([]vm.Default, error) {
	var out []vm.Default
	for i, r := range rs {
		switch {
		case r.Expr != nil:
			expr, err := d.iseq(r.Expr)
			if err != nil {
				return nil, err
			}
			out = append(out, vm.Default{Expr: expr})
		case r.Value != nil:
			v, err := d.literal(r.Value)
			if err != nil {
				return nil, fmt.Errorf("default %d: %w", i, err)
			}
			out = append(out, vm.Const(v))
		default:
			return nil, fmt.Errorf("default %d: neither value nor expression", i)
		}
	}
	return out, nil
}

func (d *decoder) literal(r *literalRecord) (vm.Value, error) {
	switch r.Kind {
	case litNil:
		return vm.Nil, nil
	case litTrue:
		return vm.True, nil
	case litFalse:
		return vm.False, nil
	case litInt:
		return vm.FromInt(r.Int), nil
	case litFloat:
		return vm.FromFloat64(r.Float), nil
	case litSymbol:
		return vm.FromSymbol(d.vm.Intern(r.Str)), nil
	case litString:
		return d.vm.NewString(r.Str), nil
	case litArray:
		elems := make([]vm.Value, len(r.Elems))
		for i := range r.Elems {
			e, err := d.literal(&r.Elems[i])
			if err != nil {
				return vm.Nil, err
			}
			elems[i] = e
		}
		return d.vm.NewArray(elems), nil
	}
	return vm.Nil, fmt.Errorf("unknown literal kind %d", r.Kind)
}

func catchEntry(r catchRecord, codeLen int) (vm.CatchEntry, error) {
	var ce vm.CatchEntry
	typ, err := conv[uint8]("type", r.Type)
	if err != nil {
		return ce, err
	}
	ce.Type = vm.CatchType(typ)
	if ce.Type.String() == "unknown" {
		return ce, fmt.Errorf("unknown catch type %d", typ)
	}
	if ce.Start, err = conv[int]("start", r.Start); err != nil {
		return ce, err
	}
	if ce.End, err = conv[int]("end", r.End); err != nil {
		return ce, err
	}
	if ce.Cont, err = conv[int]("cont", r.Cont); err != nil {
		return ce, err
	}
	if ce.SP, err = conv[int]("sp", r.SP); err != nil {
		return ce, err
	}
	if ce.Start > ce.End || ce.End > codeLen || ce.Cont >= codeLen {
		return ce, fmt.Errorf("range [%d, %d) cont %d outside code of %d bytes", ce.Start, ce.End, ce.Cont, codeLen)
	}
	ce.Classes = r.Classes
	return ce, nil
}
