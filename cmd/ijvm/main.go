// ijvm CLI - runs, inspects and serves integer JVM bytecode programs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ijvm/aot"
	"github.com/chazu/ijvm/manifest"
	"github.com/chazu/ijvm/pkg/bytecode"
	"github.com/chazu/ijvm/server"
	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

var log = commonlog.GetLogger("ijvm")

type options struct {
	asm      bool
	hex      bool
	disasm   bool
	trace    bool
	stats    bool
	emitGo   string
	funcName string
	compile  bool
	output   string
	record   bool
	serve    bool
	addr     string
	lsp      bool
	config   string
	maxStack int
	verbose  int
}

func main() {
	var opts options
	flag.BoolVar(&opts.asm, "asm", false, "Treat input as assembly (default for .jasm files)")
	flag.BoolVar(&opts.hex, "hex", false, "Treat input as hex text, e.g. \"05 3c\"")
	flag.BoolVar(&opts.disasm, "disasm", false, "Print a listing instead of running")
	flag.BoolVar(&opts.trace, "trace", false, "Print every executed instruction")
	flag.BoolVar(&opts.stats, "stats", false, "Print opcode counts after the run")
	flag.StringVar(&opts.emitGo, "emit-go", "", "Write the program as Go source in the named package")
	flag.StringVar(&opts.funcName, "func", "Run", "Function name for -emit-go")
	flag.BoolVar(&opts.compile, "compile", false, "Write an IJBC container instead of running")
	flag.StringVar(&opts.output, "o", "", "Output file for -emit-go and -compile (default stdout)")
	flag.BoolVar(&opts.record, "record", false, "Record the run in the configured store")
	flag.BoolVar(&opts.serve, "serve", false, "Start the RPC server (Connect, gRPC, gRPC-Web, trace websocket)")
	flag.StringVar(&opts.addr, "addr", "", "Server address (overrides ijvm.toml)")
	flag.BoolVar(&opts.lsp, "lsp", false, "Start the assembly language server on stdio")
	flag.StringVar(&opts.config, "config", "", "Path to ijvm.toml (default: search upward from the working directory)")
	flag.IntVar(&opts.maxStack, "max-stack", 0, "Operand stack capacity (overrides ijvm.toml)")
	flag.IntVar(&opts.verbose, "v", 0, "Additional log verbosity")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ijvm [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a program of raw bytecode, an IJBC container or .jasm assembly.\n")
		fmt.Fprintf(os.Stderr, "A file of \"-\" reads standard input.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ijvm testdata/Test.jasm           # Assemble and run\n")
		fmt.Fprintf(os.Stderr, "  ijvm -disasm prog.bin              # List raw bytecode\n")
		fmt.Fprintf(os.Stderr, "  echo 08 3c | ijvm -hex -trace -    # Trace hex input\n")
		fmt.Fprintf(os.Stderr, "  ijvm -emit-go progs -o prog.go Test.jasm\n")
		fmt.Fprintf(os.Stderr, "  ijvm -serve -addr :8732            # Serve RPC\n")
	}
	flag.Parse()

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, args []string) error {
	m, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	if opts.maxStack > 0 {
		m.VM.MaxStack = opts.maxStack
	}
	if opts.trace {
		m.VM.Trace = true
	}
	if opts.addr != "" {
		m.Server.Addr = opts.addr
	}
	if err := m.Validate(); err != nil {
		return err
	}
	commonlog.Configure(m.Log.Verbosity+opts.verbose, m.LogFile())

	switch {
	case opts.lsp:
		return server.NewLSP().Run()
	case opts.serve:
		return serve(m)
	}

	if len(args) != 1 {
		flag.Usage()
		return errors.New("expected exactly one input file")
	}
	prog, err := loadProgram(args[0], opts.asm, opts.hex)
	if err != nil {
		return err
	}

	switch {
	case opts.disasm:
		fmt.Print(prog.Disassemble())
		return nil
	case opts.compile:
		data, err := prog.Serialize()
		if err != nil {
			return err
		}
		return writeOutput(opts.output, data)
	case opts.emitGo != "":
		src, err := aot.GenerateFile(prog, aot.Options{Package: opts.emitGo, Func: opts.funcName, MaxStack: m.VM.MaxStack})
		if err != nil {
			return err
		}
		return renderOutput(opts.output, src)
	}

	return execute(m, prog, opts)
}

// loadConfig loads an explicit config, the nearest ijvm.toml, or defaults.
func loadConfig(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func execute(m *manifest.Manifest, prog *bytecode.Program, opts options) error {
	profiler := vm.NewProfiler()
	vmOpts := []vm.Option{vm.WithMaxStack(m.VM.MaxStack), vm.WithProfiler(profiler)}
	if m.VM.Trace {
		vmOpts = append(vmOpts, vm.WithTracer(stepTracer()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := vm.NewInterpreter(vmOpts...).RunContext(ctx, prog)

	if opts.record {
		st, err := store.Open(m.Store.Driver, m.StorePath())
		if err != nil {
			return err
		}
		defer st.Close()
		hash, err := st.PutProgram(ctx, prog)
		if err != nil {
			return err
		}
		rec, err := st.RecordRun(ctx, hash, res, runErr)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "recorded run %s\n", rec.ID)
	}

	if res != nil {
		printResult(res)
	}
	if opts.stats {
		printStats(profiler)
	}
	return runErr
}

// stepTracer routes steps through the log when it is at debug level, so
// traces land in the configured log file; otherwise they go to stderr.
func stepTracer() vm.Tracer {
	if t := vm.NewLogTracer(); t.Log.AllowLevel(commonlog.Debug) {
		return t
	}
	return &vm.WriterTracer{W: os.Stderr}
}

func printResult(res *vm.Result) {
	for i, v := range res.Slots {
		fmt.Printf("locals[%d] = %d\n", i, v)
	}
	if res.HasReturn {
		fmt.Printf("returned %d\n", res.Returned)
	}
}

func printStats(p *vm.Profiler) {
	snap := p.Snapshot()
	fmt.Fprintf(os.Stderr, "%d instructions\n", snap.Instructions)
	for _, st := range p.TopOpcodes(-1) {
		fmt.Fprintf(os.Stderr, "  %-10s %d\n", st.Op, st.Count)
	}
}

func serve(m *manifest.Manifest) error {
	st, err := store.Open(m.Store.Driver, m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	interp := vm.NewInterpreter(
		vm.WithMaxStack(m.VM.MaxStack),
		vm.WithProfiler(vm.NewProfiler()),
	)
	srv := server.New(
		server.WithStore(st),
		server.WithInterpreter(interp),
		server.WithWorkers(m.Server.Workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(m.Server.Addr) }()

	select {
	case err := <-errc:
		srv.Stop()
		return err
	case <-ctx.Done():
		log.Notice("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
