package flow

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		compiled := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile flow schema: %w", err)
			return
		}
		schemaDef = compiled.LookupPath(cue.ParsePath("#Flow"))
		if err := schemaDef.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Flow: %w", err)
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// schemaMu serializes use of the shared CUE context, which is not safe for
// concurrent use.
var schemaMu sync.Mutex

// validateSchema checks a generically decoded document against #Flow.
func validateSchema(doc any) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, strings.TrimSpace(e.Error()))
		}
		return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
	}
	return nil
}
