package vm

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/ijvm/pkg/bytecode"
)

// Profiler counts executed opcodes and runs across every frame of an
// interpreter. Programs that run often enough are reported as hot through
// OnHot, which callers use to pick candidates for ahead-of-time compilation.
type Profiler struct {
	opcodes [256]atomic.Uint64
	runs    atomic.Uint64
	faults  atomic.Uint64

	programs sync.Map // program hash -> *ProgramProfile

	// HotThreshold is the run count at which a program becomes hot.
	HotThreshold uint64
	// OnHot is called once per program, from the goroutine whose run
	// crossed the threshold.
	OnHot func(hash string, profile *ProgramProfile)

	hotCount atomic.Uint64
}

// ProgramProfile holds per-program counters.
type ProgramProfile struct {
	Runs  atomic.Uint64
	IsHot atomic.Bool
}

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// Record counts one executed instruction.
func (p *Profiler) Record(op bytecode.Opcode) {
	p.opcodes[op].Add(1)
}

// RecordRun counts a finished run.
func (p *Profiler) RecordRun(err error) {
	p.runs.Add(1)
	if err != nil {
		p.faults.Add(1)
	}
}

// RecordProgram counts a run of the program with the given hash. It
// returns true if this run made the program hot.
func (p *Profiler) RecordProgram(hash string) bool {
	val, _ := p.programs.LoadOrStore(hash, &ProgramProfile{})
	profile := val.(*ProgramProfile)

	count := profile.Runs.Add(1)
	if p.HotThreshold == 0 || count < p.HotThreshold {
		return false
	}
	if !profile.IsHot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(hash, profile)
	}
	return true
}

// OpcodeCount returns how many times op has executed.
func (p *Profiler) OpcodeCount(op bytecode.Opcode) uint64 {
	return p.opcodes[op].Load()
}

// ProfileSnapshot is a point-in-time copy of the profiler counters.
type ProfileSnapshot struct {
	Runs         uint64            `json:"runs"`
	Faults       uint64            `json:"faults"`
	Instructions uint64            `json:"instructions"`
	HotPrograms  uint64            `json:"hot_programs"`
	Opcodes      map[string]uint64 `json:"opcodes"`
}

// Snapshot copies the counters. Opcodes that never ran are omitted.
func (p *Profiler) Snapshot() ProfileSnapshot {
	s := ProfileSnapshot{
		Runs:        p.runs.Load(),
		Faults:      p.faults.Load(),
		HotPrograms: p.hotCount.Load(),
		Opcodes:     make(map[string]uint64),
	}
	for i := range p.opcodes {
		n := p.opcodes[i].Load()
		if n == 0 {
			continue
		}
		s.Instructions += n
		s.Opcodes[bytecode.Opcode(i).String()] = n
	}
	return s
}

// OpcodeStat pairs an opcode with its execution count.
type OpcodeStat struct {
	Op    bytecode.Opcode
	Count uint64
}

// TopOpcodes returns the n most executed opcodes, most frequent first.
func (p *Profiler) TopOpcodes(n int) []OpcodeStat {
	var stats []OpcodeStat
	for i := range p.opcodes {
		if c := p.opcodes[i].Load(); c > 0 {
			stats = append(stats, OpcodeStat{Op: bytecode.Opcode(i), Count: c})
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Op < stats[j].Op
	})
	if n >= 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

// Reset zeroes every counter.
func (p *Profiler) Reset() {
	for i := range p.opcodes {
		p.opcodes[i].Store(0)
	}
	p.runs.Store(0)
	p.faults.Store(0)
	p.hotCount.Store(0)
	p.programs.Range(func(k, _ any) bool {
		p.programs.Delete(k)
		return true
	})
}
