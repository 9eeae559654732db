package buildsys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/pattern"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/hooks"
	"github.com/ngld/knossos/packages/pio-hooks/pkg/patcher"
)

// * env methods

func receiverCtx(fn *starlark.Builtin) *scriptCtx {
	return fn.Receiver().(*envValue).sctx
}

func envGet(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name, &defaultValue)
	if err != nil {
		return nil, err
	}

	env := receiverCtx(fn).env
	if value, ok := env.Var(name); ok {
		return starlark.String(value), nil
	}

	if !env.Has(name) {
		return defaultValue, nil
	}

	// a fresh list so the script can modify it before passing it back to Replace()
	return stringList(env.Get(name)), nil
}

func envSettingKwargs(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, apply func(string, []string)) error {
	if len(args) > 0 {
		return eris.Errorf("%s: only accepts keyword arguments (i.e. %s(BUILD_FLAGS=[...]))", fn.Name(), fn.Name())
	}

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		values, err := toStringSlice(kv[1], key)
		if err != nil {
			return eris.Wrap(err, fn.Name())
		}

		if _, scalar := receiverCtx(fn).env.Var(key); scalar {
			return eris.Errorf("%s: %s is read-only", fn.Name(), key)
		}

		apply(key, values)
	}

	return nil
}

func envReplace(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	env := receiverCtx(fn).env
	err := envSettingKwargs(fn, args, kwargs, env.Replace)
	if err != nil {
		return nil, err
	}

	return starlark.None, nil
}

func envAppend(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	env := receiverCtx(fn).env
	err := envSettingKwargs(fn, args, kwargs, func(name string, values []string) {
		env.Append(name, values...)
	})
	if err != nil {
		return nil, err
	}

	return starlark.None, nil
}

func envAddBuildMiddleware(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var callback starlark.Callable
	var filter string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "callback", &callback, "pattern?", &filter)
	if err != nil {
		return nil, err
	}

	var matcher *regexp.Regexp
	if filter != "" {
		expr, err := pattern.Regexp(filter, 0)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid pattern %s", fn.Name(), filter)
		}

		matcher, err = regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid pattern %s", fn.Name(), filter)
		}
	}

	sctx := receiverCtx(fn)
	id := "mw#" + nanoid.New()
	logger := buildenv.Log(sctx.ctx).With().Str("middleware", id).Str("callback", callback.Name()).Logger()

	sctx.env.AddBuildMiddleware(func(node buildenv.Node) buildenv.Node {
		if matcher != nil && !matcher.MatchString(filepath.ToSlash(node.Path())) {
			return node
		}

		result, err := starlark.Call(thread, callback, starlark.Tuple{nodeValue{node}}, nil)
		if err != nil {
			// a broken callback shouldn't silently remove files from the build
			logger.Error().Err(err).Str("path", node.Path()).Msg("middleware failed, keeping node")
			return node
		}

		switch value := result.(type) {
		case starlark.NoneType:
			return nil
		case nodeValue:
			return value.node
		case starlark.String:
			return buildenv.FileNode(value.GoString())
		}

		logger.Warn().Msgf("middleware returned unexpected %s, keeping node", result.Type())
		return node
	})

	logger.Debug().Msg("registered build middleware")
	return starlark.None, nil
}

// * Builtin functions

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

// starError only logs; scripts that want to abort call fail()
func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	logError(thread, "%s", message)
	return starlark.None, nil
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var defaultValue string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &defaultValue)
	if err != nil {
		return nil, err
	}

	value, ok := os.LookupEnv(key)
	if !ok {
		value = defaultValue
	}

	return starlark.String(value), nil
}

func joinPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, eris.Errorf("%s: unexpected keyword arguments", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		value, ok := starlark.AsString(arg)
		if !ok {
			return nil, eris.Errorf("%s: only accepts string arguments but argument %d was a %s", fn.Name(), idx, arg.Type())
		}
		parts[idx] = value
	}

	return starlark.String(filepath.Join(parts...)), nil
}

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var base string
	for _, kv := range kwargs {
		key := kv[0].(starlark.String).GoString()
		if key != "base" {
			return nil, eris.Errorf("unexpected keyword argument %s", key)
		}

		value, ok := starlark.AsString(kv[1])
		if !ok {
			return nil, eris.Errorf("invalid type %s for keyword base, expected string", kv[1].Type())
		}
		base = normalizePath(getCtx(thread), value)
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, path := range args {
		value, ok := starlark.AsString(path)
		if !ok {
			return nil, eris.Errorf("only accepts string arguments but argument %d was a %s", idx, path.Type())
		}
		parts[idx] = value
	}

	normPath := normalizePath(getCtx(thread), parts...)
	if base != "" {
		var err error
		normPath, err = filepath.Rel(base, normPath)
		if err != nil {
			return nil, err
		}
	}

	return starlark.String(normPath), nil
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dirPath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dirPath)
	if err != nil {
		return nil, err
	}

	dirPath = normalizePath(getCtx(thread), dirPath)
	info, err := os.Stat(dirPath)
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	filePath = normalizePath(getCtx(thread), filePath)
	info, err := os.Stat(filePath)
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

func readFile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	filePath = normalizePath(getCtx(thread), filePath)
	content, err := patcher.ReadText(filePath)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", filePath)
	}

	return starlark.String(content), nil
}

func writeFile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string
	var content string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &filePath, &content)
	if err != nil {
		return nil, err
	}

	filePath = normalizePath(getCtx(thread), filePath)
	perm := os.FileMode(0o644)
	if info, err := os.Stat(filePath); err == nil {
		perm = info.Mode().Perm()
	}

	err = patcher.WriteText(filePath, content, perm)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to write %s", filePath)
	}

	return starlark.None, nil
}

func reSub(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var expr string
	var replacement string
	var content string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 3, &expr, &replacement, &content)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: invalid pattern", fn.Name())
	}

	return starlark.String(re.ReplaceAllLiteralString(content, replacement)), nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var yamlFile string
	var yamlKey string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &yamlFile, &yamlKey, &defaultValue)
	if err != nil {
		return nil, err
	}

	yamlFile = normalizePath(getCtx(thread), yamlFile)

	cache := getCtx(thread).yamlCache
	doc, loaded := cache[yamlFile]
	if !loaded {
		content, err := ioutil.ReadFile(yamlFile)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", yamlFile)
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", yamlFile)
		}
		cache[yamlFile] = doc
	}

	// walk the dotted key
	value := reflect.ValueOf(doc)
	for _, key := range strings.Split(yamlKey, ".") {
		if value.Kind() == reflect.Interface {
			value = value.Elem()
		}

		switch value.Kind() {
		case reflect.Map:
			value = value.MapIndex(reflect.ValueOf(key))
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= value.Len() {
				return defaultValue, nil
			}
			value = value.Index(idx)
		case reflect.Invalid:
			return defaultValue, nil
		default:
			return nil, eris.Errorf("encountered unexpected value of kind %v in YAML document", value.Kind())
		}
	}

	if !value.IsValid() || ((value.Kind() == reflect.Interface || value.Kind() == reflect.Map || value.Kind() == reflect.Slice) && value.IsNil()) {
		return defaultValue, nil
	}

	return interfaceToStarlark(value.Interface())
}

// hookBuiltin exposes a registered hook to scripts. It runs against the script's env.
func hookBuiltin(name string, hook hooks.Hook) *starlark.Builtin {
	builtinName := strings.ReplaceAll(name, "-", "_")

	return starlark.NewBuiltin(builtinName, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var target starlark.Value = starlark.None

		err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0, &target)
		if err != nil {
			return nil, err
		}

		sctx := getCtx(thread)
		if target != starlark.None {
			value, ok := target.(*envValue)
			if !ok {
				return nil, eris.Errorf("%s: expected an environment but got %s", fn.Name(), target.Type())
			}
			sctx = value.sctx
		}

		env, err := hook(sctx.ctx, sctx.env)
		if err != nil {
			return nil, eris.Wrapf(err, "%s failed", name)
		}
		sctx.env = env

		return starlark.None, nil
	})
}
