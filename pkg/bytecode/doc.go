// Package bytecode defines the instruction set understood by ijvm: the
// integer subset of JVM bytecode made of constant pushes, local variable
// loads and stores, pop/dup and the iadd/isub/imul/idiv/ior arithmetic
// group, plus ireturn/return as terminators.
//
// Opcode byte values and operand encodings match the JVM so a method's code
// array can be executed as-is when it stays inside the subset.
//
// # Components
//
//   - Opcodes: the Opcode enumeration with per-opcode metadata (mnemonic,
//     stack effect, operand size and kind).
//
//   - Decoder: turns raw code into Instructions lazily. Operands of bipush
//     and sipush are sign-extended to int32; iload/istore slots are unsigned.
//     Truncated operands and unknown opcodes fail with ErrMalformedBytecode.
//
//   - Program: a fully decoded code buffer with its local slot count,
//     content hash and the "IJBC" container format for storage.
//
//   - Assembler/Disassembler: a line-oriented text form using javap
//     mnemonics, used by the CLI, the language server and test fixtures.
package bytecode
