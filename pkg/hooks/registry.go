// Package hooks contains the extra-script hooks applied to the firmware's build environment.
//
// Each hook takes the current environment and returns a modified copy. Hooks can be chained with Run; the two
// assembly exclusion variants are independent and can be combined.
package hooks

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/patcher"
)

// Hook transforms a build environment
type Hook func(ctx context.Context, env *buildenv.Env) (*buildenv.Env, error)

// Registry maps hook names to their implementation
type Registry map[string]Hook

// Default contains all hooks shipped with this tool
var Default = Registry{
	"exclude-asm":        ExcludeAsmFiles,
	"skip-asm":           SkipAssembly,
	"patch-smartdisplay": patcher.Hook,
}

// Lookup returns the named hook
func (r Registry) Lookup(name string) (Hook, error) {
	hook, ok := r[name]
	if !ok {
		return nil, eris.Errorf("unknown hook %s", name)
	}

	return hook, nil
}

// Names returns the registered names in alphabetical order
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Run applies the named hooks in order. All names are resolved before the first hook runs.
func (r Registry) Run(ctx context.Context, env *buildenv.Env, names ...string) (*buildenv.Env, error) {
	chain := make([]Hook, len(names))
	for idx, name := range names {
		hook, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		chain[idx] = hook
	}

	for idx, hook := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		env, err = hook(ctx, env)
		if err != nil {
			return nil, eris.Wrapf(err, "hook %s failed", names[idx])
		}
	}

	return env, nil
}
