package thermal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/domain"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

var _ domain.ThermalCase = &Case{}

// Case is one thermal solver case
type Case struct {
	pkg *Package

	dataFile  string
	name      string
	nProcs    int
	nProcsRad int
	dataDir   string
	srcDir    string
	execDir   string
	logFile   string
	postMode  string
	verbose   bool

	// Data holds the KEY = value entries of the data file
	Data map[string]string
}

func (c *Case) DataFile() string       { return c.dataFile }
func (c *Case) NProcs() int            { return c.nProcs }
func (c *Case) NProcsRadiation() int   { return c.nProcsRad }
func (c *Case) LogFile() string        { return c.logFile }
func (c *Case) SetLogFile(name string) { c.logFile = name }
func (c *Case) PostMode() string       { return c.postMode }

// ReadDataFile parses KEY = value lines; lines starting with / are comments
func (c *Case) ReadDataFile() error {
	data, err := c.pkg.stager.ReadFile(c.dataFile)
	if err != nil {
		return err
	}
	c.Data = make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "/") {
			continue
		}
		i := strings.Index(line, "=")
		if i < 0 {
			return fmt.Errorf("%s:%d: expected KEY = value", c.dataFile, n)
		}
		key := strings.Join(strings.Fields(line[:i]), " ")
		c.Data[key] = strings.TrimSpace(line[i+1:])
	}
	return sc.Err()
}

// Mesh is the conduction mesh named in the data file, relative to the data
// directory unless absolute.
func (c *Case) Mesh() string {
	m := c.Data[MeshKey]
	if m == "" || filepath.IsAbs(m) {
		return m
	}
	return filepath.Join(c.dataDir, m)
}

// ResultPrefix names the solver's result files, the case name by default
func (c *Case) ResultPrefix() string {
	if p := c.Data[ResultPrefixKey]; p != "" {
		return p
	}
	return c.name
}

// PrepareRun copies the data file and mesh to the execution directory, then
// compiles user sources or links the stock solver. It returns
// domain.ThermalDataCopyError or domain.ThermalCompileError on failure.
func (c *Case) PrepareRun(ctx context.Context, srcDir, compileLog string) int {
	st := c.pkg.stager
	log := c.pkg.logger.With("case", c.name)
	if err := st.MkdirAll(c.execDir); err != nil {
		log.Error("cannot create execution directory", "err", err)
		return domain.ThermalDataCopyError
	}
	mesh := c.Mesh()
	if mesh == "" {
		log.Error("no conduction mesh in data file", "file", c.dataFile)
		return domain.ThermalDataCopyError
	}
	for _, f := range []string{c.dataFile, mesh} {
		if !st.IsFile(f) {
			log.Error("thermal data file not found", "file", f)
			return domain.ThermalDataCopyError
		}
		if err := st.Copy(f, filepath.Join(c.execDir, filepath.Base(f)), false); err != nil {
			log.Error("cannot copy thermal data", "file", f, "err", err)
			return domain.ThermalDataCopyError
		}
	}

	exe := filepath.Join(c.execDir, c.pkg.Name)
	var sources []string
	if names, err := st.List(c.srcDir); err == nil {
		sources = stage.Filter(names, "*.c")
	}
	if len(sources) == 0 {
		if err := st.Link(c.pkg.tool(c.pkg.Name), exe, stage.CheckFile); err != nil {
			log.Error("cannot link thermal solver", "err", err)
			return domain.ThermalCompileError
		}
		return 0
	}

	compiler := strings.Fields(c.pkg.Compiler)
	if len(compiler) == 0 {
		log.Error("no thermal compile command configured")
		return domain.ThermalCompileError
	}
	if err := st.MkdirAll(srcDir); err != nil {
		log.Error("cannot create source directory", "err", err)
		return domain.ThermalCompileError
	}
	for _, f := range sources {
		if err := st.CopyFile(filepath.Join(c.srcDir, f), filepath.Join(srcDir, f)); err != nil {
			log.Error("cannot copy user source", "file", f, "err", err)
			return domain.ThermalCompileError
		}
	}
	out, err := st.Create(compileLog)
	if err != nil {
		log.Error("cannot create compile log", "err", err)
		return domain.ThermalCompileError
	}
	defer out.Close()
	args := append(compiler[1:], "--source", srcDir, "--dest", c.execDir, "--name", c.pkg.Name)
	res, err := c.pkg.runner.Run(ctx, c.pkg.tool(compiler[0]), args,
		execenv.WithWorkingDir(c.execDir), execenv.WithOutput(out, out))
	if code := execenv.ExitCode(res, err); code != 0 {
		log.Error("thermal solver compilation failed", "exit", code, "err", err)
		return domain.ThermalCompileError
	}
	return 0
}

// Dump prints the case settings
func (c *Case) Dump(w io.Writer) {
	fmt.Fprintf(w, "Thermal case %s\n", c.name)
	fmt.Fprintf(w, "  data file   : %s\n", c.dataFile)
	fmt.Fprintf(w, "  mesh        : %s\n", c.Mesh())
	fmt.Fprintf(w, "  processes   : %d", c.nProcs)
	if c.nProcsRad > 0 {
		fmt.Fprintf(w, " (radiation: %d)", c.nProcsRad)
	}
	fmt.Fprintf(w, "\n  exec. dir.  : %s\n", c.execDir)
	if c.postMode != "" {
		fmt.Fprintf(w, "  post mode   : %s\n", c.postMode)
	}
}

func (c *Case) logPath() string {
	if filepath.IsAbs(c.logFile) {
		return c.logFile
	}
	return filepath.Join(c.execDir, c.logFile)
}

// LogfileInit starts the solver log with a header
func (c *Case) LogfileInit() error {
	if c.logFile == "" {
		return nil
	}
	header := fmt.Sprintf("Thermal case %s\nData file: %s\n\n", c.name, c.dataFile)
	return c.pkg.stager.WriteFile(c.logPath(), []byte(header), 0o644)
}

func (c *Case) run(ctx context.Context, program string, args ...string) int {
	res, err := c.pkg.runner.Run(ctx, program, args, execenv.WithWorkingDir(c.execDir))
	code := execenv.ExitCode(res, err)
	if code != 0 {
		c.pkg.logger.Error("thermal tool failed", "case", c.name, "program", program, "exit", code, "err", err)
	} else if c.verbose && res != nil {
		c.pkg.logger.Info("thermal tool output", "case", c.name, "program", program, "stdout", res.Stdout)
	}
	return code
}

// Preprocessing partitions the mesh when more than one conduction process
// is requested.
func (c *Case) Preprocessing(ctx context.Context) int {
	if c.nProcs <= 1 {
		return 0
	}
	mesh := filepath.Base(c.Mesh())
	return c.run(ctx, c.pkg.tool(c.pkg.Partitioner), "-m", mesh, "-n", fmt.Sprint(c.nProcs))
}

// Postprocessing converts results to the format named by mode
func (c *Case) Postprocessing(ctx context.Context, mode string) int {
	return c.run(ctx, c.pkg.tool("syrthes4"+mode), "-m", filepath.Base(c.Mesh()),
		"-r", c.ResultPrefix(), "-o", c.name)
}

// SaveResults merges the execution directory into dir. Existing files are
// kept unless overwrite is set. The solver executable is not saved.
func (c *Case) SaveResults(ctx context.Context, dir string, overwrite bool) int {
	st := c.pkg.stager
	names, err := st.List(c.execDir)
	if err == nil {
		err = st.MkdirAll(dir)
	}
	for _, n := range names {
		if err != nil || ctx.Err() != nil {
			break
		}
		if n == c.pkg.Name || n == casedir.RunSolverScript {
			continue
		}
		dest := filepath.Join(dir, n)
		if !overwrite && st.Exists(dest) {
			continue
		}
		err = st.Copy(filepath.Join(c.execDir, n), dest, false)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.pkg.logger.Error("cannot save thermal results", "case", c.name, "dir", dir, "err", err)
		return 1
	}
	return 0
}
