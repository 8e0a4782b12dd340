package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/notargets/cfdrun/InputParameters"
	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

// ParamVersion is the accepted parameter file version
const ParamVersion = "2.0"

var (
	sourcePatterns = []string{"*.c", "*.cxx", "*.cpp", "*.[fF]", "*.[fF]90"}
	headerPatterns = []string{"*.h", "*.hxx", "*.hpp"}
)

// FlowDomain is the primary flow solver domain
type FlowDomain struct {
	Base
	// Compute is the package used to build and run the solver
	Compute *config.Package

	Param               string
	Meshes              []InputParameters.Mesh
	MeshDir             string
	MeshInput           string
	RestartInput        string
	PartitionInput      string
	ExecSolver          bool
	LoggingArgs         string
	SolverArgs          string
	MPIIO               string
	ThermochemistryData string
	SolidFuelData       string
	MeteoData           string
	UserInputFiles      []string
	UserScratchFiles    []string
	LibAdd              []string

	hooks          Hooks
	runner         execenv.Runner
	compiler       Compiler
	configFiles    []string
	configFilesSet bool
}

// NewFlowDomain returns a flow domain for pkg with the solver enabled
func NewFlowDomain(pkg *config.Package, opts ...Option) *FlowDomain {
	s := newSettings(opts)
	compute := s.compute
	if compute == nil {
		compute = pkg
	}
	d := &FlowDomain{
		Base:           newBase(pkg, s),
		Compute:        compute,
		Param:          s.param,
		ExecSolver:     true,
		LoggingArgs:    s.loggingArgs,
		LibAdd:         s.libAdd,
		hooks:          s.hooks,
		runner:         s.runner,
		compiler:       s.compiler,
		configFiles:    s.configFiles,
		configFilesSet: s.configFilesSet,
	}
	d.SolverPath = compute.SolverPath()
	return d
}

func (d *FlowDomain) ExecutesSolver() bool {
	return d.ExecSolver
}

// SetCaseDir derives the case directories, then reads the parameter file
// and runs the parameter hooks.
func (d *FlowDomain) SetCaseDir(root string) (err error) {
	if err = d.Base.SetCaseDir(root); err != nil {
		return err
	}
	if err = d.defineParameterFile(); err != nil {
		return err
	}
	if d.Param != "" {
		if err = d.readParameters(); err != nil {
			return err
		}
	}
	return d.defineDomainParameters()
}

func (d *FlowDomain) paramPath() string {
	if filepath.IsAbs(d.Param) {
		return d.Param
	}
	return filepath.Join(d.DataDir, d.Param)
}

func (d *FlowDomain) readParameters() error {
	path := d.paramPath()
	data, err := d.stager.ReadFile(path)
	if err != nil {
		return wrapRunCaseError(err, "cannot read parameter file %s", path)
	}
	ip, err := InputParameters.Read(path, bytes.NewReader(data), d.Package.RootTag(), ParamVersion)
	if err != nil {
		return wrapRunCaseError(err, "invalid parameter file%s", d.forDomain())
	}
	for _, key := range ip.Unknown {
		d.logger.Warn("ignoring unknown parameter", "key", key, "file", path)
	}
	if d.logger.Enabled(context.Background(), slog.LevelDebug) {
		var buf bytes.Buffer
		ip.Print(&buf)
		d.logger.Debug("parameters read", "file", path, "values", buf.String())
	}
	d.ApplyParameters(ip)
	return nil
}

// ApplyParameters overrides the domain's values with every parameter set in ip
func (d *FlowDomain) ApplyParameters(ip *InputParameters.Parameters) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&d.MeshDir, ip.MeshDir)
	setString(&d.MeshInput, ip.MeshInput)
	setString(&d.RestartInput, ip.RestartInput)
	setString(&d.PartitionInput, ip.PartitionInput)
	setString(&d.SolverArgs, ip.SolverArgs)
	setString(&d.LoggingArgs, ip.LoggingArgs)
	setString(&d.MPIIO, ip.MPIIO)
	setString(&d.Debugger, ip.Debugger)
	setString(&d.ThermochemistryData, ip.ThermochemistryData)
	setString(&d.SolidFuelData, ip.SolidFuelData)
	setString(&d.MeteoData, ip.MeteoData)
	if ip.ExecSolver != nil {
		d.ExecSolver = *ip.ExecSolver
	}
	if ip.Meshes != nil {
		d.Meshes = append([]InputParameters.Mesh{}, ip.Meshes...)
	}
	if ip.UserInputFiles != nil {
		d.UserInputFiles = append([]string{}, ip.UserInputFiles...)
	}
	if ip.UserScratchFiles != nil {
		d.UserScratchFiles = append([]string{}, ip.UserScratchFiles...)
	}
}

func (d *FlowDomain) userFiles(patterns []string) []string {
	names, err := d.stager.List(d.SrcDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, p := range patterns {
		files = append(files, stage.Filter(names, p)...)
	}
	return files
}

// NeedsCompile reports whether the solver runs and the source directory
// holds user sources.
func (d *FlowDomain) NeedsCompile() bool {
	return d.ExecSolver && len(d.userFiles(sourcePatterns)) > 0
}

// CompileAndLink builds a solver with the user sources in the execution
// directory and makes it the solver executable.
func (d *FlowDomain) CompileAndLink(ctx context.Context) error {
	sources := d.userFiles(sourcePatterns)
	if len(sources) == 0 {
		return nil
	}
	execSrc := filepath.Join(d.ExecDir, d.Compute.SrcDir)
	if err := d.mkdir(execSrc); err != nil {
		return err
	}
	for _, f := range append(sources, d.userFiles(headerPatterns)...) {
		if err := d.stager.CopyFile(filepath.Join(d.SrcDir, f), filepath.Join(execSrc, f)); err != nil {
			return wrapRunCaseError(err, "cannot copy user source %s", f)
		}
	}

	logPath := filepath.Join(d.ExecDir, casedir.CompileLog)
	log, err := d.stager.Create(logPath)
	if err != nil {
		return wrapRunCaseError(err, "cannot create %s", logPath)
	}
	code, cerr := d.compiler.CompileAndLink(ctx, d.Compute, execSrc, d.ExecDir, d.LibAdd, log, log)
	if err = log.Close(); err != nil && cerr == nil {
		cerr = err
	}
	if code == 0 && cerr == nil {
		d.SolverPath = filepath.Join(d.ExecDir, filepath.Base(d.Compute.Solver))
		return nil
	}

	d.logger.Error("compilation failed", "exit", code, "err", cerr)
	errs := []error{&RunCaseError{Msg: "Compile or link error.", Err: cerr}}
	if err = d.mkdir(d.ResultDir); err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, f := range []string{d.Compute.SrcDir, casedir.CompileLog} {
		if err = d.CopyResult(f, false); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

// CopyPreprocessorData links a previously preprocessed mesh into the
// execution directory.
func (d *FlowDomain) CopyPreprocessorData() error {
	if d.MeshInput == "" {
		return nil
	}
	src, err := casedir.Resolve(d.CaseDir, d.MeshInput)
	if err != nil {
		return wrapRunCaseError(err, "invalid mesh input%s", d.forDomain())
	}
	err = d.stager.Link(src, filepath.Join(d.ExecDir, casedir.MeshInput), stage.CheckNone)
	return wrapRunCaseError(err, "cannot use mesh input%s", d.forDomain())
}

func (d *FlowDomain) linkInputDir(input, name string) error {
	src, err := casedir.Resolve(d.CaseDir, input)
	if err != nil {
		return wrapRunCaseError(err, "invalid %s input%s", name, d.forDomain())
	}
	err = d.stager.Link(src, filepath.Join(d.ExecDir, name), stage.CheckDir)
	return wrapRunCaseError(err, "cannot use %s input%s", name, d.forDomain())
}

// CopySolverData stages the parameter file, restart and partition inputs,
// physics data files and user input files.
func (d *FlowDomain) CopySolverData() error {
	if !d.ExecSolver {
		return nil
	}
	if d.Param != "" {
		if err := d.CopyDataFile(d.Param, filepath.Base(d.Param), "parameters"); err != nil {
			return err
		}
	}
	if d.RestartInput != "" {
		if err := d.linkInputDir(d.RestartInput, casedir.Restart); err != nil {
			return err
		}
	}
	if d.PartitionInput != "" {
		if err := d.linkInputDir(d.PartitionInput, casedir.PartitionInput); err != nil {
			return err
		}
	}

	physics := []struct{ name, copyName, description string }{
		{d.SolidFuelData, casedir.SolidFuel, "solid fuel"},
		{d.ThermochemistryData, casedir.Thermochemistry, "thermochemistry"},
		{d.MeteoData, casedir.Meteo, "meteo profile"},
	}
	for _, p := range physics {
		if p.name == "" {
			continue
		}
		if err := d.CopyDataFile(p.name, p.copyName, p.description); err != nil {
			return err
		}
	}
	// The meteo file is also read under its own name
	if d.MeteoData != "" && filepath.Base(d.MeteoData) != casedir.Meteo {
		if err := d.CopyDataFile(d.MeteoData, filepath.Base(d.MeteoData), "meteo profile"); err != nil {
			return err
		}
	}

	for _, f := range d.UserInputFiles {
		if err := d.CopyDataFile(f, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// MeshSearchDirs lists, in order, the domain mesh directory, the study MESH
// directory and the run.meshdir entries of the user and global config files.
func (d *FlowDomain) MeshSearchDirs() ([]string, error) {
	var dirs []string
	if d.MeshDir != "" {
		dir, err := casedir.Resolve(d.CaseDir, d.MeshDir)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	if study := filepath.Join(casedir.StudyDir(d.CaseDir), casedir.MeshDirName); d.stager.IsDir(study) {
		dirs = append(dirs, study)
	}
	files := d.configFiles
	if !d.configFilesSet {
		files = d.Package.ConfigFiles()
	}
	cfg, err := config.MeshSearchDirs(d.stager.FS(), files...)
	if err != nil {
		return nil, err
	}
	return append(dirs, cfg...), nil
}

func (d *FlowDomain) findMesh(mesh string, dirs []string) (string, error) {
	m, err := homedir.Expand(mesh)
	if err != nil {
		return "", wrapRunCaseError(err, "invalid mesh path %s", mesh)
	}
	path := m
	if !filepath.IsAbs(m) {
		if len(dirs) == 0 {
			path = filepath.Join(d.ExecDir, m)
		}
		for _, dir := range dirs {
			path = filepath.Join(dir, m)
			if d.stager.IsFile(path) {
				break
			}
		}
	}
	if d.stager.IsFile(path) {
		return path, nil
	}
	msg := fmt.Sprintf("Mesh file %s not found", m)
	if !filepath.IsAbs(m) && len(dirs) == 0 {
		msg += " (no mesh directory given)"
	}
	return "", &RunCaseError{Msg: msg}
}

// RunPreprocessor runs the preprocessor once per mesh and returns the exit
// status of the last run. A failed run disables the solver and marks the
// domain with PreprocessError.
func (d *FlowDomain) RunPreprocessor(ctx context.Context) (int, error) {
	if d.MeshInput != "" {
		return 0, nil
	}
	if len(d.Meshes) == 0 {
		return 0, runCaseErrorf("Preprocessing stage required but no mesh is given")
	}
	dirs, err := d.MeshSearchDirs()
	if err != nil {
		return 0, wrapRunCaseError(err, "cannot read mesh directories%s", d.forDomain())
	}
	paths := make([]string, len(d.Meshes))
	for i, m := range d.Meshes {
		if paths[i], err = d.findMesh(m.Path, dirs); err != nil {
			return 0, err
		}
	}

	multi := len(d.Meshes) > 1
	if multi {
		if err = d.resetMeshOutput(); err != nil {
			return 0, err
		}
	}
	cmd := d.Package.PreprocessorCommand()
	if len(cmd) == 0 {
		return 0, runCaseErrorf("no preprocessor configured for %s", d.Package.CodeName)
	}

	code := 0
	for i, m := range d.Meshes {
		args := append([]string{}, cmd[1:]...)
		args = append(args, m.Options...)
		if multi {
			args = append(args, "--log", casedir.PreprocessorLogName(i+1), "--out", casedir.MeshOutputName(i+1))
		} else {
			args = append(args, "--log", "--out", casedir.MeshInput)
		}
		args = append(args, paths[i])

		res, rerr := d.runner.Run(ctx, cmd[0], args, execenv.WithWorkingDir(d.ExecDir))
		if code = execenv.ExitCode(res, rerr); code != 0 {
			d.logger.Error("Error running the preprocessor. Check the preprocessor log for details.",
				"mesh", m.Path, "exit", code, "err", rerr)
			d.ExecSolver = false
			d.Error = PreprocessError
			break
		}
	}
	return code, nil
}

func (d *FlowDomain) resetMeshOutput() error {
	dest := filepath.Join(d.ExecDir, casedir.MeshInput)
	if !d.stager.IsDir(dest) {
		return wrapRunCaseError(d.stager.MkdirAll(dest), "cannot create %s", dest)
	}
	names, err := d.stager.List(dest)
	if err != nil {
		return wrapRunCaseError(err, "cannot list %s", dest)
	}
	for _, n := range names {
		if err = d.stager.Remove(filepath.Join(dest, n)); err != nil {
			return wrapRunCaseError(err, "cannot clear %s", dest)
		}
	}
	return nil
}

// SolverCommand returns the solver invocation in the execution directory
func (d *FlowDomain) SolverCommand(opts CommandOptions) Command {
	var args []string
	if d.Param != "" {
		args = append(args, "--param", filepath.Base(d.Param))
	}
	args = append(args, strings.Fields(d.LoggingArgs)...)
	args = append(args, strings.Fields(d.SolverArgs)...)
	switch {
	case d.name != "":
		args = append(args, "--mpi", "--app-name", d.name)
	case d.nProcs.Requested > 1:
		args = append(args, "--mpi")
	}
	if d.MPIIO != "" {
		args = append(args, "--mpi-io", d.MPIIO)
	}
	if opts.SocketPort > 0 {
		args = append(args, "--syr-socket", strconv.Itoa(opts.SocketPort))
	}
	return d.underDebugger(Command{Dir: d.ExecDir, Path: d.SolverPath, Args: args})
}

// CopyPreprocessorResults keeps the preprocessor logs and, when the solver
// does not run, the preprocessed mesh.
func (d *FlowDomain) CopyPreprocessorResults() error {
	if d.MeshInput != "" {
		return nil
	}
	purge := d.Error != PreprocessError
	var logs []string
	if len(d.Meshes) == 1 {
		logs = append(logs, casedir.PreprocessorLog)
	} else {
		for i := range d.Meshes {
			logs = append(logs, casedir.PreprocessorLogName(i+1))
		}
	}
	for _, f := range logs {
		if d.stager.IsFile(filepath.Join(d.ExecDir, f)) {
			if err := d.CopyResult(f, purge); err != nil {
				return err
			}
		}
	}

	if d.Error != "" {
		purge = false
	}
	mesh := filepath.Join(d.ExecDir, casedir.MeshInput)
	if !d.ExecSolver {
		if d.stager.Exists(mesh) {
			return d.CopyResult(casedir.MeshInput, purge)
		}
		return nil
	}
	if purge {
		return d.PurgeResult(casedir.MeshInput)
	}
	return nil
}

// CopySolverResults classifies the execution directory contents: inputs and
// scratch files are purged, sources and logs are copied, then checkpoint,
// then everything else. Nothing is harvested from a directory holding none
// of the expected files.
func (d *FlowDomain) CopySolverResults() error {
	if !d.ExecSolver {
		return nil
	}
	names, err := d.stager.List(d.ExecDir)
	if err != nil {
		return wrapRunCaseError(err, "cannot list %s", d.ExecDir)
	}
	remaining := make(map[string]bool, len(names))
	for _, n := range names {
		remaining[n] = true
	}
	take := func(f string) bool {
		if f == "" || !remaining[f] {
			return false
		}
		delete(remaining, f)
		return true
	}
	purge := d.Error == ""

	var purgeList []string
	for _, f := range []string{casedir.MeshInput, casedir.Restart, casedir.PartitionInput,
		filepath.Base(d.Compute.Solver), filepath.Base(d.Package.Solver), casedir.RunSolverScript} {
		if take(f) {
			purgeList = append(purgeList, f)
		}
	}
	patterns := append([]string{"core*"}, d.UserScratchFiles...)
	for _, p := range patterns {
		for _, f := range stage.Filter(names, p) {
			if take(f) {
				purgeList = append(purgeList, f)
			}
		}
	}
	if purge {
		for _, f := range purgeList {
			if err = d.PurgeResult(f); err != nil {
				return err
			}
		}
	}

	valid := len(purgeList) > 0
	var param string
	if d.Param != "" {
		param = filepath.Base(d.Param)
	}
	var copyList []string
	for _, f := range []string{d.Compute.SrcDir, casedir.CompileLog, param} {
		if take(f) {
			copyList = append(copyList, f)
		}
	}
	for _, p := range []string{"listing*", "*.log", "error*"} {
		for _, f := range stage.Filter(names, p) {
			if take(f) {
				copyList = append(copyList, f)
			}
		}
	}
	// checkpoint goes before the bulk of the output, in case the disk fills
	if take(casedir.Checkpoint) {
		copyList = append(copyList, casedir.Checkpoint)
	}
	if len(copyList) > 0 {
		valid = true
	}
	if !valid {
		d.logger.Warn("execution directory holds no solver output, results not copied", "dir", d.ExecDir)
		return nil
	}

	for _, f := range names {
		if take(f) {
			copyList = append(copyList, f)
		}
	}
	for _, f := range copyList {
		if err = d.CopyResult(f, purge); err != nil {
			return err
		}
	}
	return nil
}

// SummaryInfo adds the preprocessor and solver to the base summary
func (d *FlowDomain) SummaryInfo(w io.Writer) error {
	var sb strings.Builder
	d.writeSummary(&sb)
	if d.MeshInput == "" {
		fmt.Fprintf(&sb, "    preprocessor : %s\n", strings.Join(d.Package.PreprocessorCommand(), " "))
	}
	if d.ExecSolver {
		fmt.Fprintf(&sb, "    solver       : %s\n", d.SolverPath)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// PrepareData compiles user sources if needed, then stages preprocessor and
// solver inputs.
func (d *FlowDomain) PrepareData(ctx context.Context) error {
	if d.NeedsCompile() {
		if err := d.CompileAndLink(ctx); err != nil {
			return err
		}
	}
	if err := d.CopyPreprocessorData(); err != nil {
		return err
	}
	return d.CopySolverData()
}

func (d *FlowDomain) Preprocess(ctx context.Context) error {
	_, err := d.RunPreprocessor(ctx)
	return err
}

func (d *FlowDomain) CopyResults(ctx context.Context) error {
	if err := d.CopyPreprocessorResults(); err != nil {
		return err
	}
	return d.CopySolverResults()
}
