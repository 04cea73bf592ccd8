package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime/debug"
	"unicode"
)

// methodType is one callable entry point. Its positional parameter list is read from the Go
// function type once, at registration.
type methodType struct {
	name      string
	fn        reflect.Value
	hasCtx    bool
	argTypes  []reflect.Type
	variadic  bool
	hasResult bool
	hasError  bool
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newMethod checks that fn has an accepted shape:
//
//	func([ctx context.Context,] p1 T1, ..., pn Tn) [R | error | (R, error)]
//
// with JSON-decodable parameter types. The last parameter may be variadic.
func newMethod(name string, fn reflect.Value) (*methodType, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("rpc: %s is not a function", name)
	}
	typ := fn.Type()

	m := &methodType{name: name, fn: fn, variadic: typ.IsVariadic()}
	first := 0
	if typ.NumIn() > 0 && typ.In(0) == contextType {
		m.hasCtx = true
		first = 1
	}
	for i := first; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if !decodable(in) {
			return nil, fmt.Errorf("rpc: %s: parameter %d has unsupported type %s", name, i, in)
		}
		m.argTypes = append(m.argTypes, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			m.hasError = true
		} else {
			m.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("rpc: %s: second result must be error, got %s", name, typ.Out(1))
		}
		m.hasResult = true
		m.hasError = true
	default:
		return nil, fmt.Errorf("rpc: %s: too many results (%d)", name, typ.NumOut())
	}
	return m, nil
}

func decodable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Slice:
		// A variadic parameter arrives as a slice type.
		return decodable(t.Elem())
	}
	return t != contextType
}

// decodeArgs unpacks positional JSON params into values of the declared parameter types.
func (m *methodType) decodeArgs(params []json.RawMessage) ([]reflect.Value, error) {
	fixed := len(m.argTypes)
	if m.variadic {
		fixed--
	}
	if len(params) < fixed || (!m.variadic && len(params) > fixed) {
		if m.variadic {
			return nil, fmt.Errorf("%s takes at least %d params, got %d", m.name, fixed, len(params))
		}
		return nil, fmt.Errorf("%s takes %d params, got %d", m.name, fixed, len(params))
	}

	args := make([]reflect.Value, 0, len(params))
	for i, raw := range params {
		var t reflect.Type
		if m.variadic && i >= fixed {
			t = m.argTypes[fixed].Elem()
		} else {
			t = m.argTypes[i]
		}
		v := reflect.New(t)
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args = append(args, v.Elem())
	}
	return args, nil
}

// panicError carries a recovered panic together with the goroutine stack at the panic site.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.value, p.stack)
}

// invoke calls the method. A panic inside the method is recovered and returned as an error.
func (m *methodType) invoke(ctx context.Context, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	in := args
	if m.hasCtx {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	}
	out := m.fn.Call(in)

	if m.hasError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if m.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// lowerCamel turns an exported Go method name into its RPC name: Ping → ping,
// GetStatus → getStatus, HTTPGet → httpGet.
func lowerCamel(s string) string {
	r := []rune(s)
	for i := 0; i < len(r) && unicode.IsUpper(r[i]); i++ {
		if i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
