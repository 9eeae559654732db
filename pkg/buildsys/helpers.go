package buildsys

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

type scriptCtx struct {
	ctx         context.Context
	env         *buildenv.Env
	yamlCache   map[string]interface{}
	filepath    string
	projectRoot string
}

// * Helpers

func getCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

func normalizePath(ctx *scriptCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, path := range pathList {
		if strings.HasPrefix(path, "//") {
			result = filepath.Join(ctx.projectRoot, path[2:])
		} else if strings.HasPrefix(path, "/") {
			result = filepath.Join(filepath.VolumeName(result), path)
		} else if !filepath.IsAbs(path) {
			result = filepath.Join(result, path)
		} else {
			result = path
		}
	}

	return filepath.Clean(result)
}

func simplifyPath(ctx *scriptCtx, path string) string {
	projectRoot := ctx.projectRoot
	absPath, err := filepath.Abs(path)
	if err != nil || projectRoot == "" {
		return path
	}

	if strings.HasPrefix(absPath, projectRoot+string(filepath.Separator)) {
		return "//" + filepath.ToSlash(absPath[len(projectRoot)+1:])
	}
	return path
}

// toStringSlice accepts a single string or any iterable of strings
func toStringSlice(input starlark.Value, field string) ([]string, error) {
	switch value := input.(type) {
	case starlark.String:
		return []string{value.GoString()}, nil
	case starlark.NoneType:
		return []string{}, nil
	case starlark.Iterable:
		result := make([]string, 0)
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			str, ok := starlark.AsString(item)
			if !ok {
				return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
			}
			result = append(result, str)
		}
		return result, nil
	}

	return nil, eris.Errorf("expected a string or a list of strings for %s but got %s", field, input.Type())
}

func stringList(values []string) *starlark.List {
	items := make([]starlark.Value, len(values))
	for idx, value := range values {
		items[idx] = starlark.String(value)
	}

	return starlark.NewList(items)
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		return starlark.Float(value), nil
	case []string:
		return stringList(value), nil
	}

	refValue := reflect.ValueOf(value)

	var err error
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]starlark.Value, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			items[idx], err = interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
		}

		return starlark.NewList(items), nil
	case reflect.Map:
		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			value, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, value)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}

func callerPos(thread *starlark.Thread) string {
	ctx := getCtx(thread)
	filepath := simplifyPath(ctx, ctx.filepath)

	if thread.CallStackDepth() < 2 {
		return filepath
	}

	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", filepath, pos.Line, pos.Col)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	buildenv.Log(ctx.ctx).Info().
		Str("script", callerPos(thread)).
		Msgf(msg, args...)
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	buildenv.Log(ctx.ctx).Warn().
		Str("script", callerPos(thread)).
		Msgf(msg, args...)
}

func logError(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	buildenv.Log(ctx.ctx).Error().
		Str("script", callerPos(thread)).
		Msgf(msg, args...)
}
