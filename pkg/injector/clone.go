package injector

import (
	"fmt"
	"reflect"
)

// cloner walks a value tree producing a deep copy. Pointer and map identity
// is tracked in seen so cyclic references through them are preserved (the
// clone has its own cycle, not an infinite unrolling of the original's).
// Slices are copied element by element without identity tracking.
type cloner struct {
	strategy CloneStrategy
	seen     map[uintptr]any
}

func (c *cloner) clone(v reflect.Value, path string) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	if c.strategy != nil {
		if cloned, ok := c.strategy(v.Interface(), path); ok {
			return cloned, nil
		}
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v.Interface(), nil

	case reflect.Func:
		return nil, &UnclonableError{Path: path, Kind: "func"}
	case reflect.Chan:
		return nil, &UnclonableError{Path: path, Kind: "chan"}
	case reflect.UnsafePointer:
		return nil, &UnclonableError{Path: path, Kind: "unsafe.Pointer"}

	case reflect.Ptr:
		if v.IsNil() {
			return nil, nil
		}
		addr := v.Pointer()
		if existing, ok := c.seen[addr]; ok {
			return existing, nil
		}

		clonedElem := reflect.New(v.Type().Elem())
		c.seen[addr] = clonedElem.Interface()

		inner, err := c.clone(v.Elem(), path)
		if err != nil {
			return nil, err
		}
		if inner != nil {
			clonedElem.Elem().Set(reflect.ValueOf(inner))
		}
		return clonedElem.Interface(), nil

	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return c.clone(v.Elem(), path)

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()).Interface(), nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for idx := 0; idx < v.Len(); idx++ {
			elemPath := fmt.Sprintf("%s[%d]", path, idx)
			cloned, err := c.clone(v.Index(idx), elemPath)
			if err != nil {
				return nil, err
			}
			if cloned != nil {
				out.Index(idx).Set(reflect.ValueOf(cloned))
			}
		}
		return out.Interface(), nil

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for idx := 0; idx < v.Len(); idx++ {
			elemPath := fmt.Sprintf("%s[%d]", path, idx)
			cloned, err := c.clone(v.Index(idx), elemPath)
			if err != nil {
				return nil, err
			}
			if cloned != nil {
				out.Index(idx).Set(reflect.ValueOf(cloned))
			}
		}
		return out.Interface(), nil

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type()).Interface(), nil
		}
		addr := v.Pointer()
		if existing, ok := c.seen[addr]; ok {
			return existing, nil
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[addr] = out.Interface()
		iter := v.MapRange()
		for iter.Next() {
			keyPath := fmt.Sprintf("%s.%v", path, iter.Key().Interface())
			clonedVal, err := c.clone(iter.Value(), keyPath)
			if err != nil {
				return nil, err
			}
			key := iter.Key()
			if clonedVal == nil {
				out.SetMapIndex(key, reflect.Zero(v.Type().Elem()))
			} else {
				out.SetMapIndex(key, reflect.ValueOf(clonedVal))
			}
		}
		return out.Interface(), nil

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		// Start from a shallow copy so unexported fields, which reflect
		// cannot set one by one, keep their values.
		out.Set(v)
		for idx := 0; idx < v.NumField(); idx++ {
			field := v.Type().Field(idx)
			fieldPath := fmt.Sprintf("%s.%s", path, field.Name)
			if !out.Field(idx).CanSet() {
				// Unexported field: kept as copied above; it holds no
				// invariant the clone needs to break sharing for.
				continue
			}
			cloned, err := c.clone(v.Field(idx), fieldPath)
			if err != nil {
				return nil, err
			}
			if cloned != nil {
				out.Field(idx).Set(reflect.ValueOf(cloned))
			}
		}
		return out.Interface(), nil

	default:
		return nil, &UnclonableError{Path: path, Kind: v.Kind().String()}
	}
}
