package buildsys

import (
	"fmt"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

// Implement starlark.Value and starlark.HasAttrs for the script's env

type envValue struct {
	sctx *scriptCtx
}

var envMethods = map[string]*starlark.Builtin{
	"get":                starlark.NewBuiltin("get", envGet),
	"Replace":            starlark.NewBuiltin("Replace", envReplace),
	"Append":             starlark.NewBuiltin("Append", envAppend),
	"AddBuildMiddleware": starlark.NewBuiltin("AddBuildMiddleware", envAddBuildMiddleware),
}

// String returns a string representation of the environment
func (v *envValue) String() string {
	return fmt.Sprintf("<Environment %s>", v.sctx.env.Target)
}

// Type always returns "environment"
func (v *envValue) Type() string {
	return "environment"
}

// Freeze doesn't do anything since the environment has to stay mutable for middlewares
func (v *envValue) Freeze() {}

// Truth always returns true
func (v *envValue) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since the environment is mutable
func (v *envValue) Hash() (uint32, error) {
	return 0, eris.New("environment is not a hashable type")
}

func (v *envValue) Attr(name string) (starlark.Value, error) {
	method, ok := envMethods[name]
	if !ok {
		return nil, nil
	}

	return method.BindReceiver(v), nil
}

func (v *envValue) AttrNames() []string {
	return []string{"AddBuildMiddleware", "Append", "Replace", "get"}
}

// nodeValue wraps a buildenv.Node for middleware callbacks

type nodeValue struct {
	node buildenv.Node
}

func (n nodeValue) String() string {
	return fmt.Sprintf("<Node %s>", n.node.Path())
}

func (n nodeValue) Type() string {
	return "node"
}

func (n nodeValue) Freeze() {}

func (n nodeValue) Truth() starlark.Bool {
	return starlark.True
}

func (n nodeValue) Hash() (uint32, error) {
	return starlark.String(n.node.Path()).Hash()
}

func (n nodeValue) Attr(name string) (starlark.Value, error) {
	if name == "get_path" {
		return starlark.NewBuiltin("get_path", nodeGetPath).BindReceiver(n), nil
	}

	return nil, nil
}

func (n nodeValue) AttrNames() []string {
	return []string{"get_path"}
}

func nodeGetPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0)
	if err != nil {
		return nil, err
	}

	return starlark.String(fn.Receiver().(nodeValue).node.Path()), nil
}
