// Package aot translates programs to Go source. The generated function
// performs each instruction directly, with the operand stack resolved at
// generation time, so there is no dispatch loop and no stack slice.
package aot

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/vm"
)

// Options controls code generation.
type Options struct {
	Package  string // Package clause of the generated file
	Func     string // Name of the generated function
	MaxStack int    // Stack capacity to enforce; zero means vm.DefaultMaxStack
}

// GenError reports an instruction that would fault on every run.
type GenError struct {
	IP     int
	Offset int
	Instr  bytecode.Instruction
	Err    error
}

func (e *GenError) Error() string {
	return fmt.Sprintf("aot: %v at ip=%d (offset %04X, %s)", e.Err, e.IP, e.Offset, e.Instr)
}

func (e *GenError) Unwrap() error {
	return e.Err
}

// Generate renders prog as a Go file declaring
//
//	func fn() (locals []int32, ret int32, err error)
//
// Stack underflow, overflow and invalid slots cannot depend on data, so
// they are reported here. Division by zero is checked at run time.
func Generate(prog *bytecode.Program, pkg, fn string) ([]byte, error) {
	f, err := GenerateFile(prog, Options{Package: pkg, Func: fn})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("aot: render: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateFile is Generate returning the jennifer file, for callers that
// add declarations of their own.
func GenerateFile(prog *bytecode.Program, opts Options) (*jen.File, error) {
	if !token.IsIdentifier(opts.Package) {
		return nil, fmt.Errorf("aot: invalid package name %q", opts.Package)
	}
	if !token.IsIdentifier(opts.Func) {
		return nil, fmt.Errorf("aot: invalid function name %q", opts.Func)
	}
	if opts.MaxStack <= 0 {
		opts.MaxStack = vm.DefaultMaxStack
	}

	c := &compiler{prog: prog, maxStack: opts.MaxStack}
	body, err := c.compile()
	if err != nil {
		return nil, err
	}

	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by ijvm aot. DO NOT EDIT.")

	name := prog.Name
	if name == "" {
		name = "program"
	}
	f.Commentf("%s runs %s (sha256 %s).", opts.Func, name, prog.Hash())
	f.Func().Id(opts.Func).Params().Params(
		jen.Id("locals").Index().Int32(),
		jen.Id("ret").Int32(),
		jen.Id("err").Error(),
	).Block(body...)
	return f, nil
}

// compiler tracks the operand stack symbolically: each entry names the
// Go variable holding that value.
type compiler struct {
	prog     *bytecode.Program
	maxStack int

	stack []string
	next  int
	body  []jen.Code
}

func (c *compiler) compile() ([]jen.Code, error) {
	c.emit(jen.Id("locals").Op("=").Make(jen.Index().Int32(), jen.Lit(c.prog.MaxLocals)))

	for ip, in := range c.prog.Instructions {
		c.emit(jen.Commentf("%04X  %s", in.Offset, in))
		done, err := c.instruction(ip, in)
		if err != nil {
			return nil, &GenError{IP: ip, Offset: in.Offset, Instr: in, Err: err}
		}
		if done {
			return c.body, nil
		}
	}

	c.discardAll()
	c.emit(jen.Return(jen.Id("locals"), jen.Lit(0), jen.Nil()))
	return c.body, nil
}

// instruction emits one instruction. It reports true after a return.
func (c *compiler) instruction(ip int, in bytecode.Instruction) (bool, error) {
	switch {
	case in.Op == bytecode.OpNop:
		return false, nil

	case in.Op.IsConstPush():
		v, _ := in.Literal()
		return false, c.define(jen.Int32().Call(jen.Lit(int(v))))

	case in.Op.IsLoad():
		slot, _ := in.Slot()
		if slot >= c.prog.MaxLocals {
			return false, vm.ErrInvalidSlot
		}
		return false, c.define(jen.Id("locals").Index(jen.Lit(slot)))

	case in.Op.IsStore():
		slot, _ := in.Slot()
		v, err := c.pop()
		if err != nil {
			return false, err
		}
		if slot >= c.prog.MaxLocals {
			return false, vm.ErrInvalidSlot
		}
		c.emit(jen.Id("locals").Index(jen.Lit(slot)).Op("=").Id(v))
		return false, nil

	case in.Op == bytecode.OpPop:
		v, err := c.pop()
		if err != nil {
			return false, err
		}
		c.emit(jen.Id("_").Op("=").Id(v))
		return false, nil

	case in.Op == bytecode.OpDup:
		if len(c.stack) == 0 {
			return false, vm.ErrStackUnderflow
		}
		return false, c.push(c.stack[len(c.stack)-1])

	case in.Op.IsArithmetic():
		b, err := c.pop()
		if err != nil {
			return false, err
		}
		a, err := c.pop()
		if err != nil {
			return false, err
		}
		if in.Op == bytecode.OpIdiv {
			msg := fmt.Sprintf("%s at ip=%d (offset %04X, idiv)", vm.ErrDivisionByZero, ip, in.Offset)
			c.emit(jen.If(jen.Id(b).Op("==").Lit(0)).Block(
				jen.Return(jen.Id("locals"), jen.Lit(0), jen.Qual("errors", "New").Call(jen.Lit(msg))),
			))
		}
		return false, c.define(jen.Id(a).Op(arithOp[in.Op]).Id(b))

	case in.Op == bytecode.OpIreturn:
		v, err := c.pop()
		if err != nil {
			return false, err
		}
		c.discardAll()
		c.emit(jen.Return(jen.Id("locals"), jen.Id(v), jen.Nil()))
		return true, nil

	case in.Op == bytecode.OpReturn:
		c.discardAll()
		c.emit(jen.Return(jen.Id("locals"), jen.Lit(0), jen.Nil()))
		return true, nil
	}
	return false, errors.New("unsupported opcode")
}

var arithOp = map[bytecode.Opcode]string{
	bytecode.OpIadd: "+",
	bytecode.OpIsub: "-",
	bytecode.OpImul: "*",
	bytecode.OpIdiv: "/",
	bytecode.OpIor:  "|",
}

func (c *compiler) emit(code jen.Code) {
	c.body = append(c.body, code)
}

// define assigns expr to a fresh variable and pushes it.
func (c *compiler) define(expr *jen.Statement) error {
	name := fmt.Sprintf("s%d", c.next)
	if err := c.push(name); err != nil {
		return err
	}
	c.next++
	c.emit(jen.Id(name).Op(":=").Add(expr))
	return nil
}

func (c *compiler) push(name string) error {
	if len(c.stack) >= c.maxStack {
		return vm.ErrStackOverflow
	}
	c.stack = append(c.stack, name)
	return nil
}

func (c *compiler) pop() (string, error) {
	n := len(c.stack)
	if n == 0 {
		return "", vm.ErrStackUnderflow
	}
	v := c.stack[n-1]
	c.stack = c.stack[:n-1]
	return v, nil
}

// discardAll marks values left on the stack as used.
func (c *compiler) discardAll() {
	seen := make(map[string]bool)
	for _, v := range c.stack {
		if seen[v] {
			continue
		}
		seen[v] = true
		c.emit(jen.Id("_").Op("=").Id(v))
	}
	c.stack = c.stack[:0]
}
