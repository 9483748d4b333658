package worker

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

const (
	fnVar     = "workerFn"
	resultVar = "workerResult"
	errVar    = "workerErr"
	invokeFn  = "workerInvoke"
	panicFn   = "workerPanic"
)

// renderScript builds the transient source file holding the offloaded function.
func renderScript(fnSource string, imports []string) string {
	set := map[string]struct{}{"fmt": {}}
	for _, imp := range imports {
		imp = strings.Trim(strings.TrimSpace(imp), `"`)
		if imp != "" {
			set[imp] = struct{}{}
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("package main\n\nimport (\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "\t%q\n", p)
	}
	b.WriteString(")\n\n")
	fmt.Fprintf(&b, "func %s(r interface{}) error {\n\treturn fmt.Errorf(\"panic: %%v\", r)\n}\n\n", panicFn)
	fmt.Fprintf(&b, "var %s = %s\n\n", fnVar, strings.TrimSpace(fnSource))
	fmt.Fprintf(&b, "var %s interface{}\n", resultVar)
	fmt.Fprintf(&b, "var %s error\n", errVar)
	return b.String()
}

// renderInvoke builds the call of fnVar with args for the given signature.
func renderInvoke(fnType reflect.Type, args []string) (string, error) {
	call := fmt.Sprintf("%s(%s)", fnVar, strings.Join(args, ", "))

	var stmt string
	switch {
	case fnType.NumOut() == 0:
		stmt = call
	case fnType.NumOut() == 1 && isErrorType(fnType.Out(0)):
		stmt = fmt.Sprintf("%s = %s", errVar, call)
	case fnType.NumOut() == 1:
		stmt = fmt.Sprintf("%s = %s", resultVar, call)
	case fnType.NumOut() == 2 && isErrorType(fnType.Out(1)):
		stmt = fmt.Sprintf("%s, %s = %s", resultVar, errVar, call)
	default:
		return "", fmt.Errorf("unsupported signature %s: want func(...) [T] [error]", fnType)
	}

	return fmt.Sprintf(`func %s() {
	defer func() {
		if r := recover(); r != nil {
			%s = %s(r)
		}
	}()
	%s
}`, invokeFn, errVar, panicFn, stmt), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func isErrorType(t reflect.Type) bool {
	return t == errorType || (t.Kind() == reflect.Interface && t.Name() == "error")
}

// literalType reports whether %#v renders values of t as a literal that
// needs no imports: predeclared types and unnamed composites of them.
func literalType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Name() == "" && literalType(t.Elem())
	case reflect.Map:
		return t.Name() == "" && literalType(t.Key()) && literalType(t.Elem())
	case reflect.Interface:
		return t.PkgPath() == "" && t.NumMethod() == 0
	case reflect.Func, reflect.Chan, reflect.Pointer, reflect.Struct, reflect.UnsafePointer:
		return false
	default:
		return t.PkgPath() == ""
	}
}

// renderArgs serializes args as Go literals. Only values that survive a
// copy into a separate interpreter are accepted: booleans, numbers, strings,
// and unnamed slices, arrays and maps of those.
func renderArgs(args []any) ([]string, error) {
	out := make([]string, len(args))
	for i, arg := range args {
		if arg == nil {
			out[i] = "nil"
			continue
		}
		if err := checkSerializable(reflect.ValueOf(arg)); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = fmt.Sprintf("%#v", arg)
	}
	return out, nil
}

func checkSerializable(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite float %v", f)
		}
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkSerializable(v.Elem())
	case reflect.Slice, reflect.Array:
		if !literalType(v.Type()) {
			return fmt.Errorf("cannot serialize %s", v.Type())
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkSerializable(v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if !literalType(v.Type()) {
			return fmt.Errorf("cannot serialize %s", v.Type())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := checkSerializable(iter.Key()); err != nil {
				return err
			}
			if err := checkSerializable(iter.Value()); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot serialize %s", v.Type())
	}
}
