package wasm

import (
	"fmt"
)

// FaultKind classifies a runtime violation.
type FaultKind uint8

const (
	FaultCondition FaultKind = iota
	FaultBounds
	FaultStack
	FaultDivZero
	FaultOverflow
	FaultShift
	FaultBadInstruction
	FaultHeap
	FaultCallDepth
	FaultOutOfGas
	FaultHalt
)

func (k FaultKind) String() string {
	switch k {
	case FaultCondition:
		return "condition"
	case FaultBounds:
		return "bounds"
	case FaultStack:
		return "stack"
	case FaultDivZero:
		return "div-zero"
	case FaultOverflow:
		return "overflow"
	case FaultShift:
		return "shift"
	case FaultBadInstruction:
		return "bad-instruction"
	case FaultHeap:
		return "heap"
	case FaultCallDepth:
		return "call-depth"
	case FaultOutOfGas:
		return "out-of-gas"
	case FaultHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Fault is a runtime violation. The interpreter raises it as a panic;
// the invocation driver recovers it once at the top level.
type Fault struct {
	Kind FaultKind
	Msg  string
}

func (f *Fault) Error() string {
	if f.Msg == "" {
		return fmt.Sprintf("wasm fault: %s", f.Kind)
	}
	return fmt.Sprintf("wasm fault: %s: %s", f.Kind, f.Msg)
}

// CompileError is returned for a malformed or unsupported module.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string {
	return "wasm compile: " + e.Reason
}

// Throw raises a fault of the given kind.
func Throw(kind FaultKind, msg string) {
	panic(&Fault{Kind: kind, Msg: msg})
}

// Fail raises a generic condition fault.
func Fail(msg string) {
	Throw(FaultCondition, msg)
}

// Test raises a condition fault unless b holds.
func Test(b bool) {
	if !b {
		Fail("test failed")
	}
}

// recoverCompile converts a recovered fault into a CompileError.
func recoverCompile(r interface{}) error {
	switch x := r.(type) {
	case nil:
		return nil
	case *CompileError:
		return x
	case *Fault:
		return &CompileError{Reason: x.Error()}
	default:
		panic(r)
	}
}
