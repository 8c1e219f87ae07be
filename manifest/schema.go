package manifest

import (
	_ "embed"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSrc string

// schema compiles the embedded schema once. Every use goes through the
// same cue.Context, which is not safe for concurrent use.
var schema = sync.OnceValues(func() (*cueSchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString("close({"+schemaSrc+"})", cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &cueSchema{ctx: ctx, value: v}, nil
})

type cueSchema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
}

// validate checks decoded TOML against the schema.
func validate(raw map[string]any) error {
	s, err := schema()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return err
	}
	return s.value.Unify(v).Validate(cue.Concrete(true))
}
