package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const goTransformFuncName = "Transform"

// GoTransformFunc is the signature a Go plugin must export. It receives the
// input paths and the resolved output and returns the files it wrote.
type GoTransformFunc func(inputs []string, output string) ([]string, error)

// GoPlugin is an interpreted Go transform.
type GoPlugin struct {
	ID   string
	Path string
	Fn   GoTransformFunc
}

// LoadGoPluginDir evaluates every .go file in dir and collects the Transform
// function each one declares. Plugins are identified as plugin:<basename>.
func LoadGoPluginDir(dir string) ([]GoPlugin, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var out []GoPlugin
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		plugin, err := loadGoPluginFile(filepath.Join(trimmed, name))
		if err != nil {
			return nil, err
		}
		out = append(out, plugin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func loadGoPluginFile(path string) (GoPlugin, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return GoPlugin{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return GoPlugin{}, fmt.Errorf("plugin: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return GoPlugin{}, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return GoPlugin{}, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(goTransformFuncName)
	if err != nil {
		return GoPlugin{}, fmt.Errorf("plugin: %s must define %s(inputs []string, output string) ([]string, error): %w", path, goTransformFuncName, err)
	}
	fn, err := wrapTransformFunc(fnValue)
	if err != nil {
		return GoPlugin{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	base := strings.TrimSuffix(filepath.Base(path), ".go")
	return GoPlugin{ID: IDPrefix + base, Path: filepath.Clean(path), Fn: fn}, nil
}

var (
	stringSliceType = reflect.TypeOf([]string(nil))
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

func wrapTransformFunc(value reflect.Value) (GoTransformFunc, error) {
	if !value.IsValid() {
		return nil, fmt.Errorf("missing %s function", goTransformFuncName)
	}
	if value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goTransformFuncName)
	}
	typ := value.Type()
	if typ.NumIn() != 2 || typ.In(0) != stringSliceType || typ.In(1).Kind() != reflect.String {
		return nil, fmt.Errorf("%s must accept ([]string, string)", goTransformFuncName)
	}
	if typ.NumOut() != 2 || typ.Out(0) != stringSliceType || !typ.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("%s must return ([]string, error)", goTransformFuncName)
	}
	return func(inputs []string, output string) (written []string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", goTransformFuncName, r)
			}
		}()
		results := value.Call([]reflect.Value{reflect.ValueOf(inputs), reflect.ValueOf(output)})
		if errVal := results[1]; !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok && e != nil {
				return nil, e
			}
		}
		written, _ = results[0].Interface().([]string)
		return written, nil
	}, nil
}
