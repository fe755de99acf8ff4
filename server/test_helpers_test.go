package server

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/ijvm/store"
	"github.com/chazu/ijvm/vm"
)

// testEnv bundles a server, its HTTP test listener and typed clients.
type testEnv struct {
	Server *IjvmServer
	HTTP   *httptest.Server
	Store  *store.Store

	Execute      *connect.Client[ExecuteRequest, ExecuteResponse]
	Assemble     *connect.Client[AssembleRequest, AssembleResponse]
	Disassemble  *connect.Client[DisassembleRequest, DisassembleResponse]
	GetRun       *connect.Client[GetRunRequest, GetRunResponse]
	ListRuns     *connect.Client[ListRunsRequest, ListRunsResponse]
	ListPrograms *connect.Client[ListProgramsRequest, ListProgramsResponse]
	Stats        *connect.Client[StatsRequest, StatsResponse]
}

// newTestEnv starts a server. withStore attaches a sqlite store in a temp dir.
func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	env := &testEnv{}
	opts := []ServerOption{
		WithWorkers(2),
		WithInterpreter(vm.NewInterpreter(vm.WithProfiler(vm.NewProfiler()))),
	}
	if withStore {
		st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "server.db"))
		if err != nil {
			t.Fatal(err)
		}
		env.Store = st
		opts = append(opts, WithStore(st))
	}

	env.Server = New(opts...)
	env.HTTP = httptest.NewServer(env.Server.Handler())
	t.Cleanup(func() {
		env.HTTP.Close()
		env.Server.Stop()
		if env.Store != nil {
			env.Store.Close()
		}
	})

	hc := env.HTTP.Client()
	base := env.HTTP.URL
	codec := WithJSONCodec()
	env.Execute = connect.NewClient[ExecuteRequest, ExecuteResponse](hc, base+ExecuteProcedure, codec)
	env.Assemble = connect.NewClient[AssembleRequest, AssembleResponse](hc, base+AssembleProcedure, codec)
	env.Disassemble = connect.NewClient[DisassembleRequest, DisassembleResponse](hc, base+DisassembleProcedure, codec)
	env.GetRun = connect.NewClient[GetRunRequest, GetRunResponse](hc, base+GetRunProcedure, codec)
	env.ListRuns = connect.NewClient[ListRunsRequest, ListRunsResponse](hc, base+ListRunsProcedure, codec)
	env.ListPrograms = connect.NewClient[ListProgramsRequest, ListProgramsResponse](hc, base+ListProgramsProcedure, codec)
	env.Stats = connect.NewClient[StatsRequest, StatsResponse](hc, base+StatsProcedure, codec)
	return env
}

func readFixture(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile("../testdata/Test.jasm")
	if err != nil {
		t.Fatal(err)
	}
	return string(src)
}
