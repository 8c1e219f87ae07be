package vm

// kwArgs is an ordered list of keyword arguments. Keys are usually
// symbols; a **hash may contribute others.
type kwArgs struct {
	keys []Value
	vals []Value
}

func (kw *kwArgs) add(k, v Value) {
	for i, existing := range kw.keys {
		if existing == k {
			kw.vals[i] = v
			return
		}
	}
	kw.keys = append(kw.keys, k)
	kw.vals = append(kw.vals, v)
}

func (kw *kwArgs) each(fn func(k, v Value)) {
	for i, k := range kw.keys {
		fn(k, kw.vals[i])
	}
}

func (kw *kwArgs) len() int {
	if kw == nil {
		return 0
	}
	return len(kw.keys)
}

func kwFromHash(h *Hash) *kwArgs {
	kw := &kwArgs{}
	h.Each(func(k, v Value) { kw.add(k, v) })
	return kw
}

// keywordDecision decides whether keywords are bound as keywords or as a
// trailing positional Hash.
//
//	accepts keywords | keywords given | trailing positional | result
//	yes              | explicit       | any                 | keywords
//	yes              | none           | non-empty Hash, surplus positional | keywords, WarnLastHashToKeyword
//	yes              | none           | Hash, removing it under-supplies   | positional
//	yes              | none           | empty Hash          | keywords, WarnAmbiguousEmptyHash
//	no               | explicit, non-empty | -              | trailing Hash, WarnKeywordToPositional
//	no               | explicit, empty     | -              | dropped
//	no               | none           | Hash, removing it under-supplies   | positional, WarnLastHashRequired
//	any              | none           | nil                 | positional
func (ec *ExecContext) keywordDecision(p *Params, args []Value, kw *kwArgs, explicit bool) ([]Value, *kwArgs, BindWarning) {
	if p.AcceptsKeywords() {
		if explicit {
			return args, kw, 0
		}
		if len(args) == 0 {
			return args, nil, 0
		}
		h := AsHash(args[len(args)-1])
		if h == nil || len(args)-1 < p.Min() {
			return args, nil, 0
		}
		warn := WarnLastHashToKeyword
		if h.Len() == 0 {
			warn = WarnAmbiguousEmptyHash
		}
		return args[:len(args)-1], kwFromHash(h), warn
	}

	if !explicit {
		if n := len(args); n > 0 && n-1 < p.Min() && AsHash(args[n-1]) != nil {
			return args, nil, WarnLastHashRequired
		}
		return args, nil, 0
	}
	if kw.len() == 0 {
		return args, nil, 0
	}
	return append(args, ec.vm.hashFromKeywords(kw)), nil, WarnKeywordToPositional
}

func (vm *VM) hashFromKeywords(kw *kwArgs) Value {
	hv := vm.NewHash()
	h := AsHash(hv)
	kw.each(func(k, v Value) {
		h.Set(k, v)
		vm.barrier(h, v)
	})
	return hv
}

// bindKeywords assigns keyword parameters. Every missing required keyword
// is reported in one KeywordError, then every unknown one.
func (ec *ExecContext) bindKeywords(p *Params, kw *kwArgs, locals []Value, f *ControlFrame) error {
	vm := ec.vm
	start := p.KwStart()
	provided := make([]bool, len(p.Keywords))
	var unknown []Symbol
	var rest *Hash
	var restValue Value

	if p.KwRest {
		restValue = vm.NewHash()
		rest = AsHash(restValue)
	}

	if kw != nil {
		kw.each(func(k, v Value) {
			if k.IsSymbol() {
				sym := k.Symbol()
				for j, name := range p.Keywords {
					if name == sym {
						if !provided[j] {
							locals[start+j] = v
							provided[j] = true
						}
						return
					}
				}
			}
			if rest != nil {
				rest.Set(k, v)
				vm.barrier(rest, v)
				return
			}
			if k.IsSymbol() {
				unknown = append(unknown, k.Symbol())
			} else {
				unknown = append(unknown, vm.Intern(vm.Inspect(k)))
			}
		})
	}

	var missing []Symbol
	for j := 0; j < p.RequiredKw; j++ {
		if !provided[j] {
			missing = append(missing, p.Keywords[j])
		}
	}
	if len(missing) > 0 {
		return vm.newKeywordError(true, missing)
	}
	if len(unknown) > 0 {
		return vm.newKeywordError(false, unknown)
	}

	for j := p.RequiredKw; j < len(p.Keywords); j++ {
		if provided[j] {
			continue
		}
		v, err := ec.evalDefault(f, p.KwDefaults[j-p.RequiredKw])
		if err != nil {
			return err
		}
		locals[start+j] = v
	}
	if p.KwRest {
		locals[p.KwRestIndex()] = restValue
	}
	return nil
}
