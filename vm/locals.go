package vm

// LocalSlots is the fixed-size local variable array of one run.
// Every slot starts at zero.
type LocalSlots struct {
	slots []int32
}

// NewLocalSlots allocates n zeroed slots.
func NewLocalSlots(n int) *LocalSlots {
	if n < 0 {
		n = 0
	}
	return &LocalSlots{slots: make([]int32, n)}
}

// Load returns the value in slot index.
func (l *LocalSlots) Load(index int) (int32, error) {
	if index < 0 || index >= len(l.slots) {
		return 0, ErrInvalidSlot
	}
	return l.slots[index], nil
}

// Store overwrites slot index.
func (l *LocalSlots) Store(index int, v int32) error {
	if index < 0 || index >= len(l.slots) {
		return ErrInvalidSlot
	}
	l.slots[index] = v
	return nil
}

// Len returns the number of slots.
func (l *LocalSlots) Len() int {
	return len(l.slots)
}

// Snapshot returns a copy of all slots in index order.
func (l *LocalSlots) Snapshot() []int32 {
	out := make([]int32, len(l.slots))
	copy(out, l.slots)
	return out
}

// Map returns the slots keyed by index.
func (l *LocalSlots) Map() map[int]int32 {
	m := make(map[int]int32, len(l.slots))
	for i, v := range l.slots {
		m[i] = v
	}
	return m
}
