package buildsys

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/hooks"
)

func builtins(registry hooks.Registry) starlark.StringDict {
	result := starlark.StringDict{
		"OS":         starlark.String(runtime.GOOS),
		"ARCH":       starlark.String(runtime.GOARCH),
		"info":       starlark.NewBuiltin("info", starInfo),
		"warn":       starlark.NewBuiltin("warn", starWarn),
		"error":      starlark.NewBuiltin("error", starError),
		"getenv":     starlark.NewBuiltin("getenv", getenv),
		"join_path":  starlark.NewBuiltin("join_path", joinPath),
		"resolve":    starlark.NewBuiltin("resolve", resolvePath),
		"isdir":      starlark.NewBuiltin("isdir", starIsdir),
		"isfile":     starlark.NewBuiltin("isfile", starIsfile),
		"read_file":  starlark.NewBuiltin("read_file", readFile),
		"write_file": starlark.NewBuiltin("write_file", writeFile),
		"re_sub":     starlark.NewBuiltin("re_sub", reSub),
		"read_yaml":  starlark.NewBuiltin("read_yaml", readYaml),
	}

	for _, name := range registry.Names() {
		builtin := hookBuiltin(name, registry[name])
		result[builtin.Name()] = builtin
	}

	return result
}

// RunScript executes a Starlark extra script against a copy of env and returns the modified copy.
// Middlewares registered by the script stay bound to the script's thread and can be called after RunScript
// returned.
func RunScript(ctx context.Context, filename string, env *buildenv.Env) (*buildenv.Env, error) {
	return RunScriptWith(ctx, filename, env, hooks.Default)
}

// RunScriptWith is RunScript with a custom set of hook builtins
func RunScriptWith(ctx context.Context, filename string, env *buildenv.Env, registry hooks.Registry) (*buildenv.Env, error) {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	sctx := &scriptCtx{
		ctx:         ctx,
		env:         env.Clone(),
		filepath:    filename,
		projectRoot: env.ProjectDir,
		yamlCache:   make(map[string]interface{}),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			buildenv.Log(ctx).Info().Str("script", simplifyPath(sctx, filename)).Msg(msg)
		},
	}
	thread.SetLocal("scriptCtx", sctx)

	script, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file %s", filename)
	}

	predeclared := builtins(registry)
	predeclared["env"] = &envValue{sctx: sctx}

	_, err = starlark.ExecFile(thread, simplifyPath(sctx, filename), script, predeclared)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(sctx, filename), evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", simplifyPath(sctx, filename))
	}

	return sctx.env, nil
}
