package vm

// ---------------------------------------------------------------------------
// Formal parameters
// ---------------------------------------------------------------------------

// Default is the default of an optional or keyword parameter: a constant,
// or an expression evaluated in the callee's scope when the argument is
// missing.
type Default struct {
	Value Value
	Expr  *ISeq
}

// Const returns a constant default.
func Const(v Value) Default {
	return Default{Value: v}
}

// Params is the formal parameter layout of an instruction sequence.
//
// Locals are laid out in this order: lead, optional, rest, post, keywords,
// keyword rest, block.
type Params struct {
	Lead int
	Opt  []Default
	Rest bool
	Post int

	// Keywords lists keyword names, required ones first.
	Keywords   []Symbol
	RequiredKw int
	KwDefaults []Default // for Keywords[RequiredKw:]
	KwRest     bool

	Block bool

	// Ambiguous marks a block with a single bare parameter (|a|), which
	// never auto-splats an array argument.
	Ambiguous bool
}

// NumOpt returns the number of optional positional parameters.
func (p *Params) NumOpt() int { return len(p.Opt) }

// Min returns the minimum positional argument count.
func (p *Params) Min() int { return p.Lead + p.Post }

// Max returns the maximum positional argument count, or -1 if unlimited.
func (p *Params) Max() int {
	if p.Rest {
		return -1
	}
	return p.Lead + len(p.Opt) + p.Post
}

// AcceptsKeywords reports whether the layout takes keyword arguments.
func (p *Params) AcceptsKeywords() bool {
	return len(p.Keywords) > 0 || p.KwRest
}

// Simple reports whether the layout is lead parameters (and an optional
// block parameter) only.
func (p *Params) Simple() bool {
	return len(p.Opt) == 0 && !p.Rest && p.Post == 0 && !p.AcceptsKeywords()
}

func (p *Params) RestIndex() int { return p.Lead + len(p.Opt) }

func (p *Params) PostStart() int {
	i := p.Lead + len(p.Opt)
	if p.Rest {
		i++
	}
	return i
}

func (p *Params) KwStart() int     { return p.PostStart() + p.Post }
func (p *Params) KwRestIndex() int { return p.KwStart() + len(p.Keywords) }

func (p *Params) BlockIndex() int {
	i := p.KwRestIndex()
	if p.KwRest {
		i++
	}
	return i
}

// Size returns the number of local slots the parameters occupy.
func (p *Params) Size() int {
	n := p.BlockIndex()
	if p.Block {
		n++
	}
	return n
}

// Arity returns the arity in the usual convention: the required count, or
// -(required+1) when optional arguments are accepted.
func (p *Params) Arity() int {
	req := p.Min()
	if len(p.Opt) > 0 || p.Rest {
		return -(req + 1)
	}
	return req
}

// autoSplat reports whether a block with this layout spreads a single
// Array argument over its parameters.
func (p *Params) autoSplat() bool {
	if p.Ambiguous {
		return false
	}
	positional := p.Lead + p.Post + len(p.Opt)
	return positional > 1 || (p.Rest && positional > 0) || p.AcceptsKeywords()
}

// ---------------------------------------------------------------------------
// Actual arguments
// ---------------------------------------------------------------------------

// ArgList is the caller side of a binding.
//
// Args holds, in order: positional arguments (the last one an array to
// expand when Splat is set), the values of KwNames, and finally the **hash
// when KwSplat is set.
type ArgList struct {
	Args    []Value
	Splat   bool
	KwNames []Symbol
	KwSplat bool
	Block   BlockHandler
}

type bindMode uint8

const (
	bindMethod bindMode = iota
	bindBlock
	bindLambda
)

// BindWarning flags keyword conversions made while binding.
type BindWarning uint8

const (
	WarnLastHashToKeyword BindWarning = 1 << iota
	WarnAmbiguousEmptyHash
	WarnKeywordToPositional
	WarnLastHashRequired
)

func (w BindWarning) String() string {
	s := ""
	add := func(f BindWarning, name string) {
		if w&f != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(WarnLastHashToKeyword, "last hash to keywords")
	add(WarnAmbiguousEmptyHash, "ambiguous empty hash")
	add(WarnKeywordToPositional, "keywords to positional hash")
	add(WarnLastHashRequired, "last hash fills a required parameter")
	return s
}

// ---------------------------------------------------------------------------
// Binding
// ---------------------------------------------------------------------------

// bindSimple binds plain positional arguments to a simple layout.
func (ec *ExecContext) bindSimple(p *Params, args []Value, blk BlockHandler, locals []Value, mode bindMode) error {
	if mode == bindBlock {
		if len(args) == 1 && p.autoSplat() {
			if arr := AsArray(args[0]); arr != nil {
				args = arr.Elems
			}
		}
		args = ec.blockPositional(p, args)
	}
	if len(args) != p.Lead {
		return ec.vm.newArityError(len(args), p.Lead, p.Lead)
	}
	copy(locals, args)
	if p.Block {
		locals[p.BlockIndex()] = ec.vm.blockValue(blk)
	}
	return nil
}

// bindGeneral runs the full binding protocol. f is the callee frame, used
// to evaluate default expressions; it may be nil when every default is a
// constant.
func (ec *ExecContext) bindGeneral(p *Params, in *ArgList, locals []Value, mode bindMode, f *ControlFrame) (BindWarning, error) {
	vm := ec.vm

	args, kw, explicit, err := ec.splitArgs(in)
	if err != nil {
		return 0, err
	}
	if mode == bindBlock && kw == nil && len(args) == 1 && p.autoSplat() {
		if arr := AsArray(args[0]); arr != nil {
			args = append([]Value(nil), arr.Elems...)
		}
	}

	var warn BindWarning
	args, kw, warn = ec.keywordDecision(p, args, kw, explicit)

	if mode == bindBlock {
		args = ec.blockPositional(p, args)
	}

	given := len(args)
	min, max := p.Min(), p.Max()
	if given < min || (max >= 0 && given > max) {
		return warn, vm.newArityError(given, min, max)
	}

	for i := 0; i < p.Lead; i++ {
		locals[i] = args[i]
	}
	postStart := p.PostStart()
	for i := 0; i < p.Post; i++ {
		locals[postStart+i] = args[given-p.Post+i]
	}
	avail := given - p.Lead - p.Post
	filled := avail
	if filled > len(p.Opt) {
		filled = len(p.Opt)
	}
	for i := 0; i < filled; i++ {
		locals[p.Lead+i] = args[p.Lead+i]
	}
	if p.Rest {
		rest := args[p.Lead+filled : given-p.Post]
		locals[p.RestIndex()] = vm.NewArray(rest)
	}
	for i := filled; i < len(p.Opt); i++ {
		v, err := ec.evalDefault(f, p.Opt[i])
		if err != nil {
			return warn, err
		}
		locals[p.Lead+i] = v
	}

	if p.AcceptsKeywords() {
		if err := ec.bindKeywords(p, kw, locals, f); err != nil {
			return warn, err
		}
	}

	if p.Block {
		locals[p.BlockIndex()] = vm.blockValue(in.Block)
	}
	return warn, nil
}

// splitArgs expands the splat and separates explicit keyword arguments.
func (ec *ExecContext) splitArgs(in *ArgList) ([]Value, *kwArgs, bool, error) {
	vm := ec.vm
	args := in.Args
	var kw *kwArgs
	explicit := false

	if in.KwSplat {
		last := args[len(args)-1]
		args = args[:len(args)-1]
		explicit = true
		kw = &kwArgs{}
		if h := AsHash(last); h != nil {
			h.Each(func(k, v Value) { kw.add(k, v) })
		} else if !last.IsNil() {
			return nil, nil, false, vm.newTypeError("no implicit conversion of %s into Hash", vm.describe(last))
		}
	}
	if n := len(in.KwNames); n > 0 {
		vals := args[len(args)-n:]
		args = args[:len(args)-n]
		explicit = true
		lit := &kwArgs{}
		for i, name := range in.KwNames {
			lit.add(FromSymbol(name), vals[i])
		}
		if kw != nil {
			kw.each(func(k, v Value) { lit.add(k, v) })
		}
		kw = lit
	}

	out := make([]Value, 0, len(args)+4)
	if in.Splat && len(args) > 0 {
		out = append(out, args[:len(args)-1]...)
		last := args[len(args)-1]
		switch {
		case AsArray(last) != nil:
			out = append(out, AsArray(last).Elems...)
		case last.IsNil():
		default:
			out = append(out, last)
		}
	} else {
		out = append(out, args...)
	}
	return out, kw, explicit, nil
}

// blockPositional applies block argument semantics: missing arguments are
// nil and extra ones dropped.
func (ec *ExecContext) blockPositional(p *Params, args []Value) []Value {
	min, max := p.Min(), p.Max()
	args = args[:len(args):len(args)]
	for len(args) < min {
		args = append(args, Nil)
	}
	if max >= 0 && len(args) > max {
		args = args[:max]
	}
	return args
}

// evalDefault produces the value of a missing optional parameter.
func (ec *ExecContext) evalDefault(f *ControlFrame, d Default) (Value, error) {
	if d.Expr == nil {
		return d.Value, nil
	}
	if f == nil {
		return Nil, ec.vm.newRuntimeError("default expression evaluated outside a frame")
	}
	return ec.evalInScope(d.Expr, ec.escape(f), f.Self)
}
