// Package vm implements the ijvm interpreter.
//
// This package contains:
//   - Bounded int32 operand stack and fixed-size local slots
//   - Frame-based execution with single-step support
//   - Instruction dispatch for the integer JVM subset
//   - Tracing and opcode profiling hooks
//
// An Interpreter holds configuration only. Every run gets its own Frame,
// so concurrent runs share nothing mutable except an optional Profiler.
package vm
