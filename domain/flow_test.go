package domain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/cfdrun/InputParameters"
	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

// fakeRunner records invocations and writes the log and output named by
// preprocessor style arguments.
type fakeRunner struct {
	st    *stage.Stager
	calls [][]string
	codes []int
}

func (r *fakeRunner) Run(ctx context.Context, program string, args []string, opts ...execenv.Option) (*execenv.Result, error) {
	o := &execenv.Options{}
	for _, opt := range opts {
		opt(o)
	}
	r.calls = append(r.calls, append([]string{program}, args...))
	code := 0
	if i := len(r.calls) - 1; i < len(r.codes) {
		code = r.codes[i]
	}
	for i := 0; i < len(args)-1; i++ {
		switch {
		case args[i] == "--log" && args[i+1] == "--out":
			_ = r.st.WriteFile(filepath.Join(o.WorkingDir, casedir.PreprocessorLog), []byte("log"), 0o644)
		case args[i] == "--log":
			_ = r.st.WriteFile(filepath.Join(o.WorkingDir, args[i+1]), []byte("log"), 0o644)
		case args[i] == "--out" && code == 0:
			_ = r.st.WriteFile(filepath.Join(o.WorkingDir, args[i+1]), []byte("mesh"), 0o644)
		}
	}
	return &execenv.Result{ExitCode: code}, nil
}

type fakeCompiler struct {
	code   int
	srcDir string
}

func (c *fakeCompiler) CompileAndLink(ctx context.Context, pkg *config.Package, srcDir, destDir string,
	libAdd []string, stdout, stderr io.Writer) (int, error) {
	c.srcDir = srcDir
	io.WriteString(stdout, "cc -c usr.c\n")
	return c.code, nil
}

func testPackage() *config.Package {
	pkg := config.DefaultPackage()
	pkg.BinDir = "/opt/cs/bin"
	return pkg
}

func write(t *testing.T, st *stage.Stager, path, content string) {
	t.Helper()
	require.NoError(t, st.WriteFile(path, []byte(content), 0o644))
}

func newTestFlow(t *testing.T, st *stage.Stager, opts ...Option) (*FlowDomain, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{st: st}
	opts = append([]Option{WithStager(st), WithRunner(r), WithConfigFiles()}, opts...)
	d := NewFlowDomain(testPackage(), opts...)
	require.NoError(t, d.SetCaseDir("/study/case"))
	require.NoError(t, d.SetExecDir("run1"))
	require.NoError(t, d.SetResultDir("run1", ""))
	return d, r
}

func TestResolveNProcs(t *testing.T) {
	assert.Equal(t, NProcs{Requested: 1, Min: 1}, ResolveNProcs(0, 0, 0))
	assert.Equal(t, NProcs{Requested: 4, Min: 1}, ResolveNProcs(4, 0, 0))
	assert.Equal(t, NProcs{Requested: 2, Min: 2, Max: 8}, ResolveNProcs(0, 2, 8))
	assert.Equal(t, NProcs{Requested: 8, Min: 1, Max: 8}, ResolveNProcs(16, 0, 8))
	assert.Equal(t, NProcs{Requested: 3, Min: 3, Max: 3}, ResolveNProcs(1, 3, 3))
}

func TestFlowDomainDirs(t *testing.T) {
	st := stage.NewMemory()
	{ // Single domain case
		d, _ := newTestFlow(t, st)
		l := d.Dirs()
		assert.Equal(t, "/study/case", l.CaseDir)
		assert.Equal(t, "/study/case/DATA", l.DataDir)
		assert.Equal(t, "/study/case/SRC", l.SrcDir)
		assert.Equal(t, "/study/case/RESU/run1", l.ExecDir)
		assert.Equal(t, "/study/case/RESU/run1", l.ResultDir)
		assert.True(t, st.IsDir(l.ExecDir))
		assert.Equal(t, "/opt/cs/bin/cs_solver", d.SolverPath)
		assert.True(t, d.ExecutesSolver())
	}
	{ // Named domain with a scratch execution directory
		d := NewFlowDomain(testPackage(), WithStager(st), WithName("fluid"), WithNProcs(4, 2, 0))
		require.NoError(t, d.SetCaseDir("/study"))
		require.NoError(t, d.SetExecDir("/scratch/run1"))
		require.NoError(t, d.SetResultDir("run1", ""))
		assert.Equal(t, "/study/fluid", d.CaseDir)
		assert.Equal(t, "/scratch/run1/fluid", d.ExecDir)
		assert.Equal(t, "/study/fluid/RESU/run1/fluid", d.ResultDir)
		assert.Equal(t, NProcs{Requested: 4, Min: 2}, d.NProcs())
		d.SetNProcs(6)
		assert.Equal(t, 6, d.NProcs().Requested)
	}
}

func TestFlowParameters(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/DATA/setup.yaml", `
version: "2.0"
mesh_dir: ~/meshes
meshes: [fluid.med, [solid.unv, --num, "2"]]
solver_args: --trace
mpi_io: ip
user_scratch_files: ["*.tmp"]
physical_model: les
`)
	var paramCalls, domainCalls int
	hooks := Hooks{
		ParameterFile: func(d *FlowDomain) error {
			paramCalls++
			d.Param = "setup.yaml"
			return nil
		},
		DomainParameters: func(d *FlowDomain) error {
			domainCalls++
			d.SolverArgs += " --benchmark"
			return nil
		},
	}
	d, _ := newTestFlow(t, st, WithHooks(hooks))
	assert.Equal(t, "setup.yaml", d.Param)
	assert.Equal(t, "~/meshes", d.MeshDir)
	assert.Equal(t, []InputParameters.Mesh{
		{Path: "fluid.med"},
		{Path: "solid.unv", Options: []string{"--num", "2"}},
	}, d.Meshes)
	assert.Equal(t, "--trace --benchmark", d.SolverArgs)
	assert.Equal(t, "ip", d.MPIIO)
	assert.Equal(t, []string{"*.tmp"}, d.UserScratchFiles)
	assert.True(t, d.ExecSolver)

	// Hooks run once
	require.NoError(t, d.SetCaseDir("/study/case"))
	assert.Equal(t, 1, paramCalls)
	assert.Equal(t, 1, domainCalls)
	assert.Equal(t, "--trace", d.SolverArgs)

	{ // Hook failures are reported
		d := NewFlowDomain(testPackage(), WithStager(st), WithHooks(Hooks{
			DomainParameters: func(*FlowDomain) error { return errors.New("bad override") },
		}))
		err := d.SetCaseDir("/study/case")
		var rce *RunCaseError
		require.True(t, errors.As(err, &rce))
		assert.Contains(t, err.Error(), "bad override")
	}
	{ // Values read are logged at debug level
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		d := NewFlowDomain(testPackage(), WithStager(st), WithLogger(logger), WithParam("setup.yaml"))
		require.NoError(t, d.SetCaseDir("/study/case"))
		assert.Contains(t, logs.String(), "parameters read")
		assert.Contains(t, logs.String(), "= solver_args")
		assert.Contains(t, logs.String(), "unknown key [physical_model] ignored")
	}
	{ // Wrong version
		write(t, st, "/study/case/DATA/old.yaml", `version: "1.0"`)
		d := NewFlowDomain(testPackage(), WithStager(st), WithParam("old.yaml"))
		require.Error(t, d.SetCaseDir("/study/case"))
	}
}

func TestCaseAndMPIHooks(t *testing.T) {
	var calls int
	d := NewFlowDomain(testPackage(), WithStager(stage.NewMemory()), WithHooks(Hooks{
		CaseParameters: func(p *CaseParameters) error {
			calls++
			p.NProcs = 12
			return nil
		},
		MPIEnvironment: func(e *execenv.MPIEnvironment) error {
			calls++
			e.Launcher = "srun"
			return nil
		},
	}))
	p := &CaseParameters{}
	require.NoError(t, d.DefineCaseParameters(p))
	require.NoError(t, d.DefineCaseParameters(p))
	assert.Equal(t, 12, p.NProcs)
	env := execenv.DefaultMPIEnvironment()
	require.NoError(t, d.DefineMPIEnvironment(&env))
	require.NoError(t, d.DefineMPIEnvironment(&env))
	assert.Equal(t, "srun", env.Launcher)
	assert.Equal(t, 2, calls)
}

func TestCopyDataFile(t *testing.T) {
	st := stage.NewMemory()
	d, _ := newTestFlow(t, st)
	write(t, st, "/study/case/DATA/inlet.dat", "1 2 3")
	write(t, st, "/data/profile.csv", "z,u")

	require.NoError(t, d.CopyDataFile("inlet.dat", "", ""))
	assert.True(t, st.IsFile("/study/case/RESU/run1/inlet.dat"))
	require.NoError(t, d.CopyDataFile("/data/profile.csv", "", ""))
	assert.True(t, st.IsFile("/study/case/RESU/run1/profile.csv"))
	require.NoError(t, d.CopyDataFile("inlet.dat", "inlet_copy.dat", ""))
	assert.True(t, st.IsFile("/study/case/RESU/run1/inlet_copy.dat"))

	err := d.CopyDataFile("fuel.xml", "dp_FCP.xml", "solid fuel")
	require.Error(t, err)
	assert.Equal(t, "The solid fuel file: fuel.xml\ncan not be accessed.", err.Error())
	err = d.CopyDataFile("missing.dat", "", "")
	assert.Equal(t, "File: missing.dat\ncan not be accessed.", err.Error())
}

func TestCompileAndLink(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/SRC/cs_user_boundary.c", "void f(void){}")
	write(t, st, "/study/case/SRC/cs_user.h", "")
	write(t, st, "/study/case/SRC/notes.txt", "")
	{
		c := &fakeCompiler{}
		d, _ := newTestFlow(t, st, WithCompiler(c))
		require.True(t, d.NeedsCompile())
		require.NoError(t, d.PrepareData(context.Background()))
		assert.Equal(t, "/study/case/RESU/run1/src_saturne", c.srcDir)
		assert.True(t, st.IsFile("/study/case/RESU/run1/src_saturne/cs_user_boundary.c"))
		assert.True(t, st.IsFile("/study/case/RESU/run1/src_saturne/cs_user.h"))
		assert.False(t, st.Exists("/study/case/RESU/run1/src_saturne/notes.txt"))
		assert.True(t, st.IsFile("/study/case/RESU/run1/compile.log"))
		assert.Equal(t, "/study/case/RESU/run1/cs_solver", d.SolverPath)
	}
	{ // Failure keeps sources and log with the results
		c := &fakeCompiler{code: 1}
		r := &fakeRunner{st: st}
		d := NewFlowDomain(testPackage(), WithStager(st), WithRunner(r), WithCompiler(c))
		require.NoError(t, d.SetCaseDir("/study/case"))
		require.NoError(t, d.SetExecDir("/scratch/run2"))
		require.NoError(t, d.SetResultDir("run2", ""))
		err := d.CompileAndLink(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Compile or link error.", err.Error())
		assert.True(t, st.IsFile("/study/case/RESU/run2/src_saturne/cs_user_boundary.c"))
		assert.True(t, st.IsFile("/study/case/RESU/run2/compile.log"))
		assert.Equal(t, "/opt/cs/bin/cs_solver", d.SolverPath)
	}
	{ // A failed harvest still reports the compile failure
		c := &fakeCompiler{code: 2}
		d := NewFlowDomain(testPackage(), WithStager(st), WithRunner(&fakeRunner{st: st}), WithCompiler(c))
		require.NoError(t, d.SetCaseDir("/study/case"))
		require.NoError(t, d.SetExecDir("/scratch/run3"))
		write(t, st, "/study/case/RESU/blocked", "")
		d.ResultDir = "/study/case/RESU/blocked"
		err := d.CompileAndLink(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Compile or link error.")
		assert.Contains(t, err.Error(), "cannot create directory /study/case/RESU/blocked")
		var rce *RunCaseError
		require.True(t, errors.As(err, &rce))
		assert.Equal(t, "Compile or link error.", rce.Msg)
	}
	{ // Disabled solver never compiles
		d, _ := newTestFlow(t, st)
		d.ExecSolver = false
		assert.False(t, d.NeedsCompile())
	}
}

func TestCopySolverData(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/DATA/setup.xml", `<Code_Saturne_GUI version="2.0"/>`)
	write(t, st, "/study/case/DATA/fuel.xml", "<fuel/>")
	write(t, st, "/study/case/DATA/profile1", "z u")
	write(t, st, "/study/case/DATA/inlet.dat", "1")
	write(t, st, "/study/case/RESU/prev/checkpoint/main", "restart data")

	d, _ := newTestFlow(t, st, WithParam("setup.xml"))
	d.RestartInput = "RESU/prev/checkpoint"
	d.SolidFuelData = "fuel.xml"
	d.MeteoData = "profile1"
	d.UserInputFiles = []string{"inlet.dat"}
	require.NoError(t, d.CopySolverData())

	exec := d.ExecDir
	assert.True(t, st.IsFile(filepath.Join(exec, "setup.xml")))
	assert.True(t, st.IsDir(filepath.Join(exec, "restart")))
	assert.True(t, st.IsFile(filepath.Join(exec, "dp_FCP.xml")))
	assert.True(t, st.IsFile(filepath.Join(exec, "meteo")))
	assert.True(t, st.IsFile(filepath.Join(exec, "profile1")))
	assert.True(t, st.IsFile(filepath.Join(exec, "inlet.dat")))

	{ // Restart input must be a directory
		d.RestartInput = "DATA/inlet.dat"
		err := d.CopySolverData()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	}
	{ // Missing partition input
		d.RestartInput = ""
		d.PartitionInput = "RESU/none/partition_output"
		err := d.CopySolverData()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	}
}

func TestCopyPreprocessorData(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/RESU/prev/mesh_input", "mesh")
	d, _ := newTestFlow(t, st)
	require.NoError(t, d.CopyPreprocessorData())
	assert.False(t, st.Exists(filepath.Join(d.ExecDir, casedir.MeshInput)))

	d.MeshInput = "RESU/prev/mesh_input"
	require.NoError(t, d.CopyPreprocessorData())
	assert.True(t, st.IsFile(filepath.Join(d.ExecDir, casedir.MeshInput)))

	d.MeshInput = "RESU/none/mesh_input"
	require.Error(t, d.CopyPreprocessorData())
}

func TestPreprocessedMeshInput(t *testing.T) {
	ctx := context.Background()
	st := stage.NewMemory()
	write(t, st, "/study/case/DATA/setup.yaml", "meshes: fluid.med\n")
	write(t, st, "/study/case/RESU/prev/mesh_input", "mesh")
	d, r := newTestFlow(t, st, WithParam("setup.yaml"))
	d.MeshInput = "RESU/prev/mesh_input"
	d.ExecSolver = false
	exec := d.ExecDir

	require.NoError(t, d.PrepareData(ctx))
	names, err := st.List(exec)
	require.NoError(t, err)
	assert.Equal(t, []string{casedir.MeshInput}, names)
	assert.False(t, st.Exists(filepath.Join(exec, "setup.yaml")))

	code, err := d.RunPreprocessor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, r.calls)

	require.NoError(t, d.CopyPreprocessorResults())
	names, err = st.List(exec)
	require.NoError(t, err)
	assert.Equal(t, []string{casedir.MeshInput}, names)
	assert.Equal(t, exec, d.ResultDir)
	assert.False(t, st.Exists(filepath.Join(exec, casedir.PreprocessorLog)))
	assert.True(t, st.IsFile("/study/case/RESU/prev/mesh_input"))

	{ // Separate result directory stays empty
		d, _ := newTestFlow(t, st, WithParam("setup.yaml"))
		require.NoError(t, d.SetExecDir("/scratch/run4"))
		require.NoError(t, d.SetResultDir("run4", ""))
		d.MeshInput = "RESU/prev/mesh_input"
		d.ExecSolver = false
		require.NoError(t, d.PrepareData(ctx))
		require.NoError(t, d.Preprocess(ctx))
		require.NoError(t, d.CopyPreprocessorResults())
		names, err := st.List(d.ResultDir)
		require.NoError(t, err)
		assert.Empty(t, names)
		names, err = st.List(d.ExecDir)
		require.NoError(t, err)
		assert.Equal(t, []string{casedir.MeshInput}, names)
	}
}

func TestRunPreprocessor(t *testing.T) {
	ctx := context.Background()
	st := stage.NewMemory()
	write(t, st, "/study/MESH/fluid.med", "")
	write(t, st, "/study/MESH/solid.unv", "")
	write(t, st, "/meshes/inlet.cgns", "")

	{ // Single mesh
		d, r := newTestFlow(t, st)
		d.Meshes = []InputParameters.Mesh{{Path: "fluid.med", Options: []string{"--reorient"}}}
		code, err := d.RunPreprocessor(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		require.Len(t, r.calls, 1)
		assert.Equal(t, []string{"/opt/cs/bin/cs_preprocess", "--reorient", "--log", "--out", "mesh_input",
			"/study/MESH/fluid.med"}, r.calls[0])

		require.NoError(t, d.CopyPreprocessorResults())
		assert.True(t, st.IsFile("/study/case/RESU/run1/preprocessor.log"))
		assert.False(t, st.Exists("/study/case/RESU/run1/mesh_input"))
	}
	{ // Several meshes, searched in the domain mesh directory first
		d, r := newTestFlow(t, st)
		d.MeshDir = "/meshes"
		d.Meshes = []InputParameters.Mesh{{Path: "inlet.cgns"}, {Path: "solid.unv"}}
		code, err := d.RunPreprocessor(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		require.Len(t, r.calls, 2)
		assert.Equal(t, []string{"/opt/cs/bin/cs_preprocess", "--log", "preprocessor_01.log",
			"--out", "mesh_input/mesh_01", "/meshes/inlet.cgns"}, r.calls[0])
		assert.Equal(t, []string{"/opt/cs/bin/cs_preprocess", "--log", "preprocessor_02.log",
			"--out", "mesh_input/mesh_02", "/study/MESH/solid.unv"}, r.calls[1])
		assert.True(t, st.IsFile("/study/case/RESU/run1/mesh_input/mesh_02"))
	}
	{ // A failure stops the loop and disables the solver
		d, r := newTestFlow(t, st)
		r.codes = []int{4}
		d.Meshes = []InputParameters.Mesh{{Path: "fluid.med"}, {Path: "solid.unv"}}
		code, err := d.RunPreprocessor(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, code)
		assert.Len(t, r.calls, 1)
		assert.False(t, d.ExecSolver)
		assert.Equal(t, PreprocessError, d.ErrorTag())

		require.NoError(t, d.CopyPreprocessorResults())
		assert.True(t, st.IsFile("/study/case/RESU/run1/preprocessor_01.log"))
		assert.True(t, st.IsDir("/study/case/RESU/run1/mesh_input"))
	}
	{ // Every mesh is located before any run
		d, r := newTestFlow(t, st)
		d.Meshes = []InputParameters.Mesh{{Path: "fluid.med"}, {Path: "missing.med"}}
		_, err := d.RunPreprocessor(ctx)
		require.Error(t, err)
		assert.Equal(t, "Mesh file missing.med not found", err.Error())
		assert.Empty(t, r.calls)
	}
	{ // No search directory at all
		st := stage.NewMemory()
		d, _ := newTestFlow(t, st)
		d.Meshes = []InputParameters.Mesh{{Path: "fluid.med"}}
		_, err := d.RunPreprocessor(ctx)
		require.Error(t, err)
		assert.Equal(t, "Mesh file fluid.med not found (no mesh directory given)", err.Error())
	}
	{
		d, _ := newTestFlow(t, st)
		_, err := d.RunPreprocessor(ctx)
		assert.EqualError(t, err, "Preprocessing stage required but no mesh is given")
		d.MeshInput = "RESU/prev/mesh_input"
		_, err = d.RunPreprocessor(ctx)
		assert.NoError(t, err)
	}
}

func TestMeshSearchDirsFromConfig(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/home/u/.code_saturne.cfg", "[run]\nmeshdir = /m1:/m2\n")
	write(t, st, "/etc/code_saturne.cfg", "[run]\nmeshdir = /m3\n")
	d := NewFlowDomain(testPackage(), WithStager(st),
		WithConfigFiles("/home/u/.code_saturne.cfg", "/etc/code_saturne.cfg"))
	require.NoError(t, d.SetCaseDir("/study/case"))
	d.MeshDir = "meshes"
	dirs, err := d.MeshSearchDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"/study/case/meshes", "/m1", "/m2", "/m3"}, dirs)
}

func TestFlowSolverCommand(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/DATA/setup.xml", `<Code_Saturne_GUI version="2.0"/>`)
	d, _ := newTestFlow(t, st, WithParam("setup.xml"), WithLoggingArgs("--logp 1"))
	c := d.SolverCommand(CommandOptions{})
	assert.Equal(t, "/study/case/RESU/run1", c.Dir)
	assert.Equal(t, "/opt/cs/bin/cs_solver", c.Path)
	assert.Equal(t, "--param setup.xml --logp 1", c.ArgString())

	d.SetNProcs(4)
	d.MPIIO = "off"
	d.SolverArgs = "--trace"
	c = d.SolverCommand(CommandOptions{SocketPort: 35623})
	assert.Equal(t, []string{"--param", "setup.xml", "--logp", "1", "--trace", "--mpi",
		"--mpi-io", "off", "--syr-socket", "35623"}, c.Args)

	d.name = "fluid"
	d.Debugger = "valgrind --tool=memcheck"
	c = d.SolverCommand(CommandOptions{})
	assert.Equal(t, "valgrind", c.Path)
	assert.Equal(t, []string{"--tool=memcheck", "/opt/cs/bin/cs_solver", "--param", "setup.xml",
		"--logp", "1", "--trace", "--mpi", "--app-name", "fluid", "--mpi-io", "off"}, c.Args)
}

func TestCopySolverResults(t *testing.T) {
	st := stage.NewMemory()
	write(t, st, "/study/case/DATA/setup.xml", `<Code_Saturne_GUI version="2.0"/>`)
	d, _ := newTestFlow(t, st, WithParam("setup.xml"))
	require.NoError(t, d.SetExecDir("/scratch/run1"))
	d.UserScratchFiles = []string{"*.tmp"}
	for _, f := range []string{"mesh_input", "cs_solver", "run_solver.sh", "core.1234", "work.tmp",
		"setup.xml", "listing", "run_solver.log", "error_r1", "checkpoint/main", "checkpoint/auxiliary",
		"postprocessing/results.case", "monitoring/history.csv", "src_saturne/usr.c"} {
		write(t, st, filepath.Join("/scratch/run1", f), f)
	}
	require.NoError(t, d.CopyResults(context.Background()))

	resu := "/study/case/RESU/run1"
	for _, f := range []string{"setup.xml", "listing", "run_solver.log", "error_r1", "checkpoint/main",
		"checkpoint/auxiliary", "postprocessing/results.case", "monitoring/history.csv", "src_saturne/usr.c"} {
		assert.True(t, st.IsFile(filepath.Join(resu, f)), f)
	}
	for _, f := range []string{"mesh_input", "cs_solver", "run_solver.sh", "core.1234", "work.tmp"} {
		assert.False(t, st.Exists(filepath.Join(resu, f)), f)
	}
	names, err := st.List("/scratch/run1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCopySolverResultsKeepsOnError(t *testing.T) {
	st := stage.NewMemory()
	d, _ := newTestFlow(t, st)
	require.NoError(t, d.SetExecDir("/scratch/run1"))
	d.Error = "solver"
	write(t, st, "/scratch/run1/core.1", "")
	write(t, st, "/scratch/run1/listing", "")
	require.NoError(t, d.CopySolverResults())
	assert.True(t, st.IsFile("/scratch/run1/core.1"))
	assert.True(t, st.IsFile("/scratch/run1/listing"))
	assert.True(t, st.IsFile("/study/case/RESU/run1/listing"))
}

func TestCopySolverResultsGuard(t *testing.T) {
	st := stage.NewMemory()
	d, _ := newTestFlow(t, st)
	require.NoError(t, d.SetExecDir("/home/u"))
	write(t, st, "/home/u/notes.txt", "")
	write(t, st, "/home/u/thesis/chapter1.tex", "")
	require.NoError(t, d.CopySolverResults())
	assert.True(t, st.IsFile("/home/u/notes.txt"))
	assert.False(t, st.Exists("/study/case/RESU/run1/notes.txt"))
}

func TestFlowSummary(t *testing.T) {
	st := stage.NewMemory()
	d, _ := newTestFlow(t, st)
	require.NoError(t, d.SetExecDir("/scratch/run1"))
	var buf bytes.Buffer
	require.NoError(t, d.SummaryInfo(&buf))
	assert.Equal(t, strings.Join([]string{
		"  Case           : case",
		"    directory    : /study/case",
		"    results dir. : /study/case/RESU/run1",
		"    exec. dir.   : /scratch/run1",
		"    preprocessor : /opt/cs/bin/cs_preprocess",
		"    solver       : /opt/cs/bin/cs_solver",
		"",
	}, "\n"), buf.String())

	buf.Reset()
	d.MeshInput = "mesh_input"
	d.ExecSolver = false
	require.NoError(t, d.SummaryInfo(&buf))
	assert.NotContains(t, buf.String(), "preprocessor")
	assert.NotContains(t, buf.String(), "solver")
}
