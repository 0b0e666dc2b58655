// Package xerrors adds call-site information to errors for structured logging.
//
// New/Newf/WithStack/EnsureTrace capture a stack, Wrap/Wrapf capture the
// single PC of the wrapping call. The log package reads both when rendering
// error_links and stack attributes.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

// stack returns the callers above the exported function that called it.
func stack() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, stack, exported constructor
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

func callerPC() uintptr {
	var pcs [1]uintptr
	// runtime.Callers, callerPC, exported constructor
	if runtime.Callers(3, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func New(msg string) error { return &withStack{err: errors.New(msg), pcs: stack()} }

func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: stack()}
}

// WithStack attaches the current stack to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: stack()}
}

// EnsureTrace attaches a stack unless err already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: stack()}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC()}
}
