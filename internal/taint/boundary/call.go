package boundary

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/kolkov/taintflow/internal/taint/adapter"
)

// Call describes one boundary crossing as the rewriter emits it.
//
// Target forms:
//   - Fn alone: a function value
//   - Fn with Receiver: a method expression; Receiver is passed first
//   - Method with Receiver: the named method of Receiver
//
// Kwargs, when non-empty, are passed as one trailing map[string]any
// argument.
type Call struct {
	Receiver any
	Method   string
	Fn       any
	Args     []any
	Kwargs   map[string]any
}

// target is a resolved call target.
type target struct {
	fn   reflect.Value
	name string // qualified function name, pkg.(*T).M style
	pkg  string // import path of the defining package
	args []any  // positional arguments, receiver first for method expressions
}

func resolve(call Call) (*target, error) {
	switch {
	case call.Fn != nil:
		fv := reflect.ValueOf(adapter.Unwrap(call.Fn))
		if fv.Kind() != reflect.Func || fv.IsNil() {
			return nil, &CallError{Target: fmt.Sprintf("%T", adapter.Unwrap(call.Fn)), Err: ErrNotCallable}
		}
		t := &target{fn: fv, name: funcName(fv), args: call.Args}
		if call.Receiver != nil {
			t.args = append([]any{call.Receiver}, call.Args...)
		}
		t.pkg = pkgOf(t.name)
		return t, nil

	case call.Method != "" && call.Receiver != nil:
		rv := reflect.ValueOf(adapter.Unwrap(call.Receiver))
		if !rv.IsValid() {
			return nil, &CallError{Target: call.Method, Err: ErrNotCallable}
		}
		m := rv.MethodByName(call.Method)
		if !m.IsValid() {
			return nil, &CallError{Target: rv.Type().String() + "." + call.Method, Err: ErrNoMethod}
		}
		t := &target{fn: m, args: call.Args}
		if meth, ok := rv.Type().MethodByName(call.Method); ok {
			t.name = funcName(meth.Func)
		}
		t.pkg = pkgOf(t.name)
		if t.pkg == "" {
			t.pkg = typePkg(rv.Type())
		}
		if t.name == "" {
			t.name = rv.Type().String() + "." + call.Method
		}
		return t, nil
	}
	return nil, &CallError{Target: "<nil>", Err: ErrNotCallable}
}

// funcName returns the runtime name of a function value, or "".
func funcName(fv reflect.Value) string {
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(fv.Pointer())
	if f == nil {
		return ""
	}
	return strings.TrimSuffix(f.Name(), "-fm")
}

// pkgOf extracts the import path from a runtime function name:
//
//	example.com/app/llm.(*Client).Complete -> example.com/app/llm
//	main.main.func1                        -> main
func pkgOf(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return ""
	}
	return name[:slash+1+dot]
}

func typePkg(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath()
}

func (t *target) String() string {
	if t.name != "" {
		return t.name
	}
	return t.fn.Type().String()
}
