package vm

// DefaultMaxStack is the operand stack capacity used when none is configured.
const DefaultMaxStack = 1024

// OperandStack is a bounded LIFO of int32 values.
type OperandStack struct {
	values []int32
	max    int
}

// NewOperandStack creates an empty stack holding at most max values.
// A max of zero or less uses DefaultMaxStack.
func NewOperandStack(max int) *OperandStack {
	if max <= 0 {
		max = DefaultMaxStack
	}
	initial := max
	if initial > 64 {
		initial = 64
	}
	return &OperandStack{values: make([]int32, 0, initial), max: max}
}

// Push appends v, failing with ErrStackOverflow at capacity.
func (s *OperandStack) Push(v int32) error {
	if len(s.values) >= s.max {
		return ErrStackOverflow
	}
	s.values = append(s.values, v)
	return nil
}

// Pop removes and returns the top value.
func (s *OperandStack) Pop() (int32, error) {
	n := len(s.values)
	if n == 0 {
		return 0, ErrStackUnderflow
	}
	v := s.values[n-1]
	s.values = s.values[:n-1]
	return v, nil
}

// Peek returns the top value without removing it.
func (s *OperandStack) Peek() (int32, error) {
	n := len(s.values)
	if n == 0 {
		return 0, ErrStackUnderflow
	}
	return s.values[n-1], nil
}

// Duplicate pushes a copy of the top value.
func (s *OperandStack) Duplicate() error {
	v, err := s.Peek()
	if err != nil {
		return err
	}
	return s.Push(v)
}

// Depth returns the number of values on the stack.
func (s *OperandStack) Depth() int {
	return len(s.values)
}

// Max returns the configured capacity.
func (s *OperandStack) Max() int {
	return s.max
}

// Snapshot returns a copy of the stack, bottom first.
func (s *OperandStack) Snapshot() []int32 {
	out := make([]int32, len(s.values))
	copy(out, s.values)
	return out
}
