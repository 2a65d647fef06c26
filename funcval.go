// Copyright (C) 2022 K2 Cyber Security Inc.

package hookengine

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

// FuncPC returns the entry address of a Go function value, or 0 when fn is
// not a non-nil func.
func FuncPC(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

// MakeFunc returns a function value of type T whose code is at pc. It
// panics if T is not a func type.
func MakeFunc[T any](pc uintptr) T {
	var fn T
	if t := reflect.TypeOf(&fn).Elem(); t.Kind() != reflect.Func {
		panic(errors.Wrap(ErrInputType, t.String()))
	}
	// a func value points to a funcval whose first word is the code pointer
	p := new(uintptr)
	*p = pc
	*(*unsafe.Pointer)(unsafe.Pointer(&fn)) = unsafe.Pointer(p)
	return fn
}

// Apply redirects the function target to detour, both Go functions of the
// same type, in a buffer of its own. Detours must be top-level functions:
// a closure expects its context register, which the target's callers do
// not set. A target that grows its stack re-enters through its patched
// entry, so the detour can run twice for one call.
func Apply(target, detour any) (*Hook, error) {
	vt, vd := reflect.ValueOf(target), reflect.ValueOf(detour)
	if vt.Kind() != reflect.Func || vd.Kind() != reflect.Func {
		return nil, ErrInputType
	}
	if vt.Type() != vd.Type() {
		return nil, ErrDifferentType
	}
	if vt.IsNil() || vd.IsNil() {
		return nil, ErrInputType
	}
	h := New(vt.Pointer())
	buf, err := CreateHooks([]Prep{{Hook: h, Detour: vd.Pointer()}})
	if err != nil {
		_ = h.Close()
		if buf != nil {
			_ = buf.Close()
		}
		return nil, err
	}
	// the hook is now the buffer's only owner
	return h, buf.Close()
}

// Replace redirects target to detour and returns the hook together with a
// function value that runs target's original code.
func Replace[T any](target, detour T) (*Hook, T, error) {
	var zero T
	h, err := Apply(target, detour)
	if err != nil {
		return nil, zero, err
	}
	return h, MakeFunc[T](h.Trampoline()), nil
}

// Observe makes observer run on every call of target, with context as its
// second argument, in a buffer of its own.
func Observe[T any](target T, observer uintptr, context unsafe.Pointer) (*ObserverHook, error) {
	pc := FuncPC(target)
	if pc == 0 {
		return nil, ErrInputType
	}
	h := NewObserver(pc)
	buf, err := CreateObserverHooks([]ObserverPrep{{Hook: h, Observer: observer, Context: context}})
	if err != nil {
		_ = h.Close()
		if buf != nil {
			_ = buf.Close()
		}
		return nil, err
	}
	return h, buf.Close()
}
