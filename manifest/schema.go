package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Schema constrains every field of a Manifest. Field names follow the
// json tags.
const Schema = `
#Config: {
	vm: {
		max_stack: int & >=1 & <=65535
		trace:     bool
	}
	store: {
		driver: "sqlite" | "duckdb"
		path:   string
	}
	server: {
		addr:    string & =~"^[^\\s]*:[0-9]+$"
		workers: int & >=1 & <=256
	}
	log: {
		verbosity: int & >=-4 & <=5
		file:      string
	}
}
`

// Validate checks m against Schema.
func (m *Manifest) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(Schema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", errors.Details(err, nil))
	}
	return nil
}
