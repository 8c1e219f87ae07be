// Package iseqfile reads and writes compiled instruction sequences.
//
// A file is a CBOR map in canonical encoding: a magic string, a format
// version and the top-level sequence with its children nested inline.
// Symbols are stored by name and re-interned on load, so a file can be
// loaded into any VM.
package iseqfile

import (
	"fmt"
	"os"

	"github.com/chazu/garnet/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies a Garnet program file.
const Magic = "GRNT"

// Version is the current format version. Decode rejects other versions.
const Version = 1

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("iseqfile: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 256,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("iseqfile: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

type fileRecord struct {
	Magic   string      `cbor:"1,keyasint"`
	Version uint64      `cbor:"2,keyasint"`
	Top     *iseqRecord `cbor:"3,keyasint"`
}

type iseqRecord struct {
	Name       string          `cbor:"1,keyasint"`
	Type       uint64          `cbor:"2,keyasint"`
	Path       string          `cbor:"3,keyasint,omitempty"`
	Code       []byte          `cbor:"4,keyasint"`
	Params     paramsRecord    `cbor:"5,keyasint"`
	LocalNames []string        `cbor:"6,keyasint,omitempty"`
	LocalSize  uint64          `cbor:"7,keyasint"`
	StackMax   uint64          `cbor:"8,keyasint"`
	Literals   []literalRecord `cbor:"9,keyasint,omitempty"`
	CallInfos  []callRecord    `cbor:"10,keyasint,omitempty"`
	Children   []*iseqRecord   `cbor:"11,keyasint,omitempty"`
	Catch      []catchRecord   `cbor:"12,keyasint,omitempty"`
	Lambda     bool            `cbor:"13,keyasint,omitempty"`
}

type paramsRecord struct {
	Lead       uint64          `cbor:"1,keyasint,omitempty"`
	Opt        []defaultRecord `cbor:"2,keyasint,omitempty"`
	Rest       bool            `cbor:"3,keyasint,omitempty"`
	Post       uint64          `cbor:"4,keyasint,omitempty"`
	Keywords   []string        `cbor:"5,keyasint,omitempty"`
	RequiredKw uint64          `cbor:"6,keyasint,omitempty"`
	KwDefaults []defaultRecord `cbor:"7,keyasint,omitempty"`
	KwRest     bool            `cbor:"8,keyasint,omitempty"`
	Block      bool            `cbor:"9,keyasint,omitempty"`
	Ambiguous  bool            `cbor:"10,keyasint,omitempty"`
}

type defaultRecord struct {
	Value *literalRecord `cbor:"1,keyasint,omitempty"`
	Expr  *iseqRecord    `cbor:"2,keyasint,omitempty"`
}

type callRecord struct {
	Mid    string   `cbor:"1,keyasint"`
	Argc   uint64   `cbor:"2,keyasint"`
	Flags  uint64   `cbor:"3,keyasint,omitempty"`
	KwArgs []string `cbor:"4,keyasint,omitempty"`
}

type catchRecord struct {
	Type    uint64   `cbor:"1,keyasint"`
	Start   uint64   `cbor:"2,keyasint"`
	End     uint64   `cbor:"3,keyasint"`
	Cont    uint64   `cbor:"4,keyasint"`
	SP      uint64   `cbor:"5,keyasint"`
	Classes []string `cbor:"6,keyasint,omitempty"`
}

// literalKind tags a literal. Only immutable-at-compile-time values can
// appear in a literal table.
type literalKind uint8

const (
	litNil literalKind = iota
	litTrue
	litFalse
	litInt
	litFloat
	litSymbol
	litString
	litArray
)

type literalRecord struct {
	Kind  literalKind     `cbor:"1,keyasint"`
	Int   int64           `cbor:"2,keyasint,omitempty"`
	Float float64         `cbor:"3,keyasint,omitempty"`
	Str   string          `cbor:"4,keyasint,omitempty"`
	Elems []literalRecord `cbor:"5,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode serializes iseq and everything nested in it.
func Encode(v *vm.VM, iseq *vm.ISeq) ([]byte, error) {
	top, err := encodeISeq(v, iseq)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(&fileRecord{Magic: Magic, Version: Version, Top: top})
}

// WriteFile encodes iseq to path.
func WriteFile(v *vm.VM, path string, iseq *vm.ISeq) error {
	data, err := Encode(v, iseq)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("iseqfile: write %s: %w", path, err)
	}
	return nil
}

func encodeISeq(v *vm.VM, iseq *vm.ISeq) (*iseqRecord, error) {
	r := &iseqRecord{
		Name:       iseq.Name,
		Type:       uint64(iseq.Type),
		Path:       iseq.Path,
		Code:       iseq.Code,
		LocalNames: iseq.LocalNames,
		LocalSize:  uint64(iseq.LocalSize),
		StackMax:   uint64(iseq.StackMax),
		Lambda:     iseq.Lambda,
	}
	var err error
	if r.Params, err = encodeParams(v, &iseq.Params); err != nil {
		return nil, fmt.Errorf("iseqfile: %s: %w", iseq.Name, err)
	}
	for i, lit := range iseq.Literals {
		lr, err := encodeLiteral(v, lit)
		if err != nil {
			return nil, fmt.Errorf("iseqfile: %s: literal %d: %w", iseq.Name, i, err)
		}
		r.Literals = append(r.Literals, lr)
	}
	for _, ci := range iseq.CallInfos {
		cr := callRecord{
			Mid:   v.SymbolName(ci.Mid),
			Argc:  uint64(ci.Argc),
			Flags: uint64(ci.Flags),
		}
		for _, k := range ci.KwArgs {
			cr.KwArgs = append(cr.KwArgs, v.SymbolName(k))
		}
		r.CallInfos = append(r.CallInfos, cr)
	}
	for _, child := range iseq.Children {
		cr, err := encodeISeq(v, child)
		if err != nil {
			return nil, err
		}
		r.Children = append(r.Children, cr)
	}
	for _, ce := range iseq.CatchTable {
		r.Catch = append(r.Catch, catchRecord{
			Type:    uint64(ce.Type),
			Start:   uint64(ce.Start),
			End:     uint64(ce.End),
			Cont:    uint64(ce.Cont),
			SP:      uint64(ce.SP),
			Classes: ce.Classes,
		})
	}
	return r, nil
}

func encodeParams(v *vm.VM, p *vm.Params) (paramsRecord, error) {
	r := paramsRecord{
		Lead:       uint64(p.Lead),
		Rest:       p.Rest,
		Post:       uint64(p.Post),
		RequiredKw: uint64(p.RequiredKw),
		KwRest:     p.KwRest,
		Block:      p.Block,
		Ambiguous:  p.Ambiguous,
	}
	for _, k := range p.Keywords {
		r.Keywords = append(r.Keywords, v.SymbolName(k))
	}
	var err error
	if r.Opt, err = encodeDefaults(v, p.Opt); err != nil {
		return r, err
	}
	if r.KwDefaults, err = encodeDefaults(v, p.KwDefaults); err != nil {
		return r, err
	}
	return r, nil
}

func encodeDefaults(v *vm.VM, ds []vm.Default) ([]defaultRecord, error) {
	var out []defaultRecord
	for _, d := range ds {
		var dr defaultRecord
		if d.Expr != nil {
			er, err := encodeISeq(v, d.Expr)
			if err != nil {
				return nil, err
			}
			dr.Expr = er
		} else {
			lr, err := encodeLiteral(v, d.Value)
			if err != nil {
				return nil, err
			}
			dr.Value = &lr
		}
		out = append(out, dr)
	}
	return out, nil
}

func encodeLiteral(v *vm.VM, val vm.Value) (literalRecord, error) {
	switch val.Kind() {
	case vm.KindNil:
		return literalRecord{Kind: litNil}, nil
	case vm.KindTrue:
		return literalRecord{Kind: litTrue}, nil
	case vm.KindFalse:
		return literalRecord{Kind: litFalse}, nil
	case vm.KindInt:
		return literalRecord{Kind: litInt, Int: val.Int()}, nil
	case vm.KindFloat:
		return literalRecord{Kind: litFloat, Float: val.Float64()}, nil
	case vm.KindSymbol:
		return literalRecord{Kind: litSymbol, Str: v.SymbolName(val.Symbol())}, nil
	}
	if s := vm.AsString(val); s != nil {
		return literalRecord{Kind: litString, Str: s.S}, nil
	}
	if a := vm.AsArray(val); a != nil {
		r := literalRecord{Kind: litArray}
		for _, e := range a.Elems {
			er, err := encodeLiteral(v, e)
			if err != nil {
				return r, err
			}
			r.Elems = append(r.Elems, er)
		}
		return r, nil
	}
	return literalRecord{}, fmt.Errorf("unsupported literal %s", v.Inspect(val))
}
