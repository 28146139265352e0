package attr

import (
	"fmt"
	"reflect"

	"github.com/kolkov/taintflow/internal/taint/adapter"
)

// Attributes is implemented by types that resolve attribute access
// themselves instead of exposing struct fields or map keys.
type Attributes interface {
	GetAttr(name string) (any, error)
	SetAttr(name string, value any) error
}

// load reads attribute name of parent. Adapters are looked through.
func load(parent any, name string) (any, error) {
	target := adapter.Unwrap(parent)
	if target == nil {
		return nil, ErrNilParent
	}
	if a, ok := target.(Attributes); ok {
		return a.GetAttr(name)
	}

	rv, err := deref(reflect.ValueOf(target))
	if err != nil {
		return nil, err
	}
	switch rv.Kind() {
	case reflect.Struct:
		f, err := field(rv, name)
		if err != nil {
			return nil, err
		}
		return f.Interface(), nil
	case reflect.Map:
		k, err := mapKey(rv, name)
		if err != nil {
			return nil, err
		}
		v := rv.MapIndex(k)
		if !v.IsValid() {
			return nil, ErrNoAttribute
		}
		return v.Interface(), nil
	default:
		return nil, ErrNoAttributes
	}
}

// store assigns value to attribute name of parent.
//
// A struct held by an adapter is copied, updated and put back, so the
// program never observes a struct value changing in place.
func store(parent any, name string, value any) error {
	if parent == nil {
		return ErrNilParent
	}
	if r, ok := parent.(*adapter.Ref); ok {
		return storeInRef(r, name, value)
	}
	if a, ok := parent.(Attributes); ok {
		return a.SetAttr(name, value)
	}
	return storeValue(reflect.ValueOf(parent), name, value)
}

func storeInRef(r *adapter.Ref, name string, value any) error {
	inner := r.Value()
	if inner == nil {
		return ErrNilParent
	}
	if a, ok := inner.(Attributes); ok {
		return a.SetAttr(name, value)
	}

	rv := reflect.ValueOf(inner)
	if rv.Kind() != reflect.Struct {
		return storeValue(rv, name, value)
	}
	cp := reflect.New(rv.Type()).Elem()
	cp.Set(rv)
	if err := assign(cp, name, value); err != nil {
		return err
	}
	r.Set(cp.Interface())
	return nil
}

func storeValue(rv reflect.Value, name string, value any) error {
	rv, err := deref(rv)
	if err != nil {
		return err
	}
	return assign(rv, name, value)
}

func assign(rv reflect.Value, name string, value any) error {
	switch rv.Kind() {
	case reflect.Struct:
		f, err := field(rv, name)
		if err != nil {
			return err
		}
		if !f.CanSet() {
			return ErrNotSettable
		}
		v, err := adapter.ValueFor(value, f.Type())
		if err != nil {
			return err
		}
		f.Set(v)
		return nil
	case reflect.Map:
		k, err := mapKey(rv, name)
		if err != nil {
			return err
		}
		if rv.IsNil() {
			return ErrNilParent
		}
		v, err := adapter.ValueFor(value, rv.Type().Elem())
		if err != nil {
			return err
		}
		rv.SetMapIndex(k, v)
		return nil
	default:
		return ErrNoAttributes
	}
}

// deref follows pointers and interfaces down to the attribute holder.
func deref(rv reflect.Value) (reflect.Value, error) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, ErrNilParent
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return reflect.Value{}, ErrNilParent
	}
	return rv, nil
}

func field(rv reflect.Value, name string) (reflect.Value, error) {
	sf, ok := rv.Type().FieldByName(name)
	if !ok {
		return reflect.Value{}, ErrNoAttribute
	}
	if !sf.IsExported() {
		return reflect.Value{}, ErrUnexported
	}
	f, err := rv.FieldByIndexErr(sf.Index)
	if err != nil {
		// Promoted through a nil embedded pointer.
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrNilParent, err)
	}
	return f, nil
}

func mapKey(rv reflect.Value, name string) (reflect.Value, error) {
	kt := rv.Type().Key()
	if kt.Kind() != reflect.String {
		return reflect.Value{}, ErrNoAttributes
	}
	return reflect.ValueOf(name).Convert(kt), nil
}
