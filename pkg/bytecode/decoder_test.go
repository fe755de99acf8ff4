package bytecode

import (
	"errors"
	"io"
	"testing"
)

func TestDecodeConstPushes(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want int32
	}{
		{"iconst_m1", []byte{0x02}, -1},
		{"iconst_0", []byte{0x03}, 0},
		{"iconst_5", []byte{0x08}, 5},
		{"bipush positive", []byte{0x10, 100}, 100},
		{"bipush negative", []byte{0x10, 0xFB}, -5},
		{"bipush min", []byte{0x10, 0x80}, -128},
		{"sipush 1000", []byte{0x11, 0x03, 0xE8}, 1000},
		{"sipush negative", []byte{0x11, 0xFF, 0xFE}, -2},
		{"sipush min", []byte{0x11, 0x80, 0x00}, -32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instrs, err := Decode(tt.code)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(instrs) != 1 {
				t.Fatalf("got %d instructions, want 1", len(instrs))
			}
			got, ok := instrs[0].Literal()
			if !ok {
				t.Fatalf("%s has no literal", instrs[0])
			}
			if got != tt.want {
				t.Errorf("literal = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeOperandPresence(t *testing.T) {
	instrs, err := Decode([]byte{0x08, 0x10, 7, 0x15, 200, 0x60})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	want := []Instruction{
		{Op: OpIconst5, Offset: 0},
		{Op: OpBipush, Operand: 7, HasOperand: true, Offset: 1},
		{Op: OpIload, Operand: 200, HasOperand: true, Offset: 3},
		{Op: OpIadd, Offset: 5},
	}
	if len(instrs) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(instrs), len(want))
	}
	for i := range want {
		if instrs[i] != want[i] {
			t.Errorf("instr %d = %+v, want %+v", i, instrs[i], want[i])
		}
	}
}

func TestDecodeSlotIsUnsigned(t *testing.T) {
	instrs, err := Decode([]byte{0x36, 0xFF})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	slot, ok := instrs[0].Slot()
	if !ok || slot != 255 {
		t.Errorf("Slot() = %d, %v; want 255, true", slot, ok)
	}
}

func TestDecodeShortFormSlots(t *testing.T) {
	for i, op := range []Opcode{OpIload0, OpIload1, OpIload2, OpIload3} {
		slot, ok := Instruction{Op: op}.Slot()
		if !ok || slot != i {
			t.Errorf("%s.Slot() = %d, %v", op, slot, ok)
		}
	}
	for i, op := range []Opcode{OpIstore0, OpIstore1, OpIstore2, OpIstore3} {
		slot, ok := Instruction{Op: op}.Slot()
		if !ok || slot != i {
			t.Errorf("%s.Slot() = %d, %v", op, slot, ok)
		}
	}
	if _, ok := (Instruction{Op: OpIadd}).Slot(); ok {
		t.Error("iadd should have no slot")
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		offset int
	}{
		{"unknown opcode", []byte{0x08, 0xBA}, 1},
		{"bipush truncated", []byte{0x10}, 0},
		{"sipush truncated", []byte{0x03, 0x11, 0x01}, 1},
		{"iload truncated", []byte{0x15}, 0},
		{"long constant", []byte{0x09}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.code)
			if !errors.Is(err, ErrMalformedBytecode) {
				t.Fatalf("expected ErrMalformedBytecode, got %v", err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
			if de.Offset != tt.offset {
				t.Errorf("Offset = %d, want %d", de.Offset, tt.offset)
			}
		})
	}
}

func TestDecoderIsNotRestartable(t *testing.T) {
	d := NewDecoder([]byte{0x04, 0x05})
	for i := 0; i < 2; i++ {
		if _, err := d.Next(); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := d.Next(); err != io.EOF {
			t.Fatalf("expected io.EOF after end, got %v", err)
		}
	}
}

func TestDecoderStickyError(t *testing.T) {
	d := NewDecoder([]byte{0xFE, 0x04})
	_, err1 := d.Next()
	_, err2 := d.Next()
	if err1 == nil || err1 != err2 {
		t.Errorf("expected same error twice, got %v and %v", err1, err2)
	}
}

func TestInstructionsIteratorStopsEarly(t *testing.T) {
	n := 0
	for _, err := range Instructions([]byte{0x03, 0x04, 0x05, 0x06}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d times, want 2", n)
	}
}

func TestInstructionsIteratorYieldsError(t *testing.T) {
	var (
		seen    int
		lastErr error
	)
	for _, err := range Instructions([]byte{0x03, 0x11}) {
		if err != nil {
			lastErr = err
			continue
		}
		seen++
	}
	if seen != 1 {
		t.Errorf("decoded %d good instructions, want 1", seen)
	}
	if !errors.Is(lastErr, ErrMalformedBytecode) {
		t.Errorf("expected malformed error, got %v", lastErr)
	}
}

func TestInstructionEncodeRoundTrip(t *testing.T) {
	code := []byte{0x02, 0x10, 0x9C, 0x11, 0x7F, 0xFF, 0x15, 9, 0x36, 10, 0x57, 0x59, 0x80, 0xB1}
	instrs, err := Decode(code)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var out []byte
	for _, in := range instrs {
		out = in.Encode(out)
	}
	if string(out) != string(code) {
		t.Errorf("re-encoded % X, want % X", out, code)
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{0x08, 0x06, 0x60, 0x3B})
	f.Add([]byte{0x11, 0x03, 0xE8, 0x36, 8})
	f.Add([]byte{0x10})
	f.Add([]byte{0xFF, 0x00})

	f.Fuzz(func(t *testing.T, code []byte) {
		instrs, err := Decode(code)
		if err != nil {
			if !errors.Is(err, ErrMalformedBytecode) {
				t.Fatalf("unexpected error type %T: %v", err, err)
			}
			return
		}
		total := 0
		for _, in := range instrs {
			if in.Offset != total {
				t.Fatalf("offset %d, want %d", in.Offset, total)
			}
			total += in.Len()
		}
		if total != len(code) {
			t.Fatalf("decoded %d bytes of %d", total, len(code))
		}
	})
}
