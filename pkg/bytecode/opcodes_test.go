package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if got := OpcodeCount(); got != 29 {
		t.Errorf("OpcodeCount() = %d, want 29", got)
	}
}

func TestAllOpcodesSorted(t *testing.T) {
	ops := AllOpcodes()
	for i := 1; i < len(ops); i++ {
		if ops[i-1] >= ops[i] {
			t.Fatalf("AllOpcodes not sorted at %d: 0x%02X >= 0x%02X", i, byte(ops[i-1]), byte(ops[i]))
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "nop"},
		{OpIconstM1, "iconst_m1"},
		{OpIconst5, "iconst_5"},
		{OpBipush, "bipush"},
		{OpSipush, "sipush"},
		{OpIload, "iload"},
		{OpIload2, "iload_2"},
		{OpIstore, "istore"},
		{OpIstore3, "istore_3"},
		{OpPop, "pop"},
		{OpDup, "dup"},
		{OpIadd, "iadd"},
		{OpIor, "ior"},
		{OpReturn, "return"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestOpcodeByteValues(t *testing.T) {
	// Standard JVM encodings.
	tests := []struct {
		op   Opcode
		want byte
	}{
		{OpIconst0, 0x03},
		{OpIconst5, 0x08},
		{OpBipush, 0x10},
		{OpSipush, 0x11},
		{OpIload, 0x15},
		{OpIload0, 0x1A},
		{OpIstore, 0x36},
		{OpIstore0, 0x3B},
		{OpPop, 0x57},
		{OpDup, 0x59},
		{OpIadd, 0x60},
		{OpIsub, 0x64},
		{OpImul, 0x68},
		{OpIdiv, 0x6C},
		{OpIor, 0x80},
		{OpIreturn, 0xAC},
		{OpReturn, 0xB1},
	}
	for _, tt := range tests {
		if byte(tt.op) != tt.want {
			t.Errorf("%s = 0x%02X, want 0x%02X", tt.op, byte(tt.op), tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.IsValid() {
		t.Error("0xEE should not be valid")
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpIconst3, 0},
		{OpBipush, 1},
		{OpSipush, 2},
		{OpIload, 1},
		{OpIload1, 0},
		{OpIstore, 1},
		{OpIdiv, 0},
	}

	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestOpcodeCategories(t *testing.T) {
	for _, op := range AllOpcodes() {
		n := 0
		for _, is := range []bool{op.IsConstPush(), op.IsLoad(), op.IsStore(), op.IsArithmetic(), op.IsReturn()} {
			if is {
				n++
			}
		}
		if n > 1 {
			t.Errorf("%s is in %d categories", op, n)
		}
	}

	if !OpIconstM1.IsConstPush() || !OpSipush.IsConstPush() {
		t.Error("const pushes not classified")
	}
	if !OpIload3.IsLoad() || OpIstore.IsLoad() {
		t.Error("load classification wrong")
	}
	if !OpIstore0.IsStore() || OpIload.IsStore() {
		t.Error("store classification wrong")
	}
	if !OpIor.IsArithmetic() || OpDup.IsArithmetic() {
		t.Error("arithmetic classification wrong")
	}
}

func TestLookupMnemonic(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := LookupMnemonic(strings.ToUpper(op.String()))
		if !ok || got != op {
			t.Errorf("LookupMnemonic(%q) = %v, %v", strings.ToUpper(op.String()), got, ok)
		}
	}
	if _, ok := LookupMnemonic("invokevirtual"); ok {
		t.Error("invokevirtual should not be recognized")
	}
}
