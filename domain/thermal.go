package domain

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
)

const (
	DefaultThermalParam   = "syrthes.data"
	DefaultThermalLogFile = "syrthes.log"
)

// Status codes of ThermalCase.PrepareRun
const (
	ThermalDataCopyError = 1
	ThermalCompileError  = 2
)

// ThermalPackage is an installed thermal solver
type ThermalPackage interface {
	// Executable is the solver name inside an execution directory
	Executable() string
	// ProcessCmdLine builds a case from thermal solver command line arguments
	ProcessCmdLine(args []string) (ThermalCase, error)
}

// ThermalCase is the thermal solver's own view of a case. Status returns are
// 0 on success.
type ThermalCase interface {
	DataFile() string
	NProcs() int
	NProcsRadiation() int
	LogFile() string
	SetLogFile(name string)
	PostMode() string
	ReadDataFile() error
	PrepareRun(ctx context.Context, srcDir, compileLog string) int
	Dump(w io.Writer)
	LogfileInit() error
	Preprocessing(ctx context.Context) int
	Postprocessing(ctx context.Context, mode string) int
	SaveResults(ctx context.Context, dir string, overwrite bool) int
}

// ThermalDomain couples a thermal solver to the flow solver. Its case is
// built by Finalize, after the case runner has placed its directories.
type ThermalDomain struct {
	Base
	CmdLine         string
	Param           string
	LogFile         string
	NProcsRadiation int

	thermal  ThermalPackage
	external ThermalCase
	out      io.Writer
}

// NewThermalDomain returns a named thermal domain using the thermal package
func NewThermalDomain(pkg *config.Package, thermal ThermalPackage, opts ...Option) (*ThermalDomain, error) {
	s := newSettings(opts)
	if s.name == "" {
		return nil, runCaseErrorf("a thermal domain requires a name")
	}
	if thermal == nil {
		return nil, runCaseErrorf("no thermal solver package for domain %s", s.name)
	}
	d := &ThermalDomain{
		Base:            newBase(pkg, s),
		CmdLine:         s.cmdLine,
		Param:           s.param,
		LogFile:         s.logFile,
		NProcsRadiation: s.nProcsRadiation,
		thermal:         thermal,
		out:             s.out,
	}
	if d.Param == "" {
		d.Param = DefaultThermalParam
	}
	if d.LogFile == "" {
		d.LogFile = DefaultThermalLogFile
	}
	return d, nil
}

func (d *ThermalDomain) ExecutesSolver() bool {
	return true
}

// SetCaseDir uses the case directory itself for data and sources
func (d *ThermalDomain) SetCaseDir(root string) error {
	if err := d.Base.SetCaseDir(root); err != nil {
		return err
	}
	d.DataDir = d.CaseDir
	d.SrcDir = d.CaseDir
	return nil
}

// SetResultDir places results in RESU/RESU_<name>/<run>, or <given>/<name>
func (d *ThermalDomain) SetResultDir(name, given string) error {
	if given == "" {
		d.ResultDir = filepath.Join(d.CaseDir, casedir.ResultDirName, "RESU_"+d.name, name)
	} else {
		d.ResultDir = filepath.Join(given, d.name)
	}
	return d.mkdir(d.ResultDir)
}

// CaseArgs are the command line arguments Finalize hands to the thermal
// package.
func (d *ThermalDomain) CaseArgs() []string {
	args := []string{"-d", filepath.Join(d.CaseDir, d.Param), "--name", d.name}
	if n := d.nProcs.Requested; n != 1 {
		args = append(args, "-n", strconv.Itoa(n))
	}
	if d.NProcsRadiation > 0 {
		args = append(args, "-r", strconv.Itoa(d.NProcsRadiation))
	}
	if d.DataDir != "" {
		args = append(args, "--data-dir", d.DataDir)
	}
	if d.SrcDir != "" {
		args = append(args, "--src-dir", d.SrcDir)
	}
	if d.ExecDir != "" {
		args = append(args, "--exec-dir", d.ExecDir)
	}
	return append(args, strings.Fields(d.CmdLine)...)
}

// Finalize builds the thermal solver's case from the domain's settings
func (d *ThermalDomain) Finalize() error {
	c, err := d.thermal.ProcessCmdLine(d.CaseArgs())
	if err != nil {
		return wrapRunCaseError(err, "cannot set up thermal case%s", d.forDomain())
	}
	d.external = c
	return nil
}

func (d *ThermalDomain) finalized() (ThermalCase, error) {
	if d.external == nil {
		return nil, runCaseErrorf("thermal domain %s used before Finalize", d.name)
	}
	return d.external, nil
}

// PrepareData reads the thermal data file, then stages data and builds the
// solver in the execution directory.
func (d *ThermalDomain) PrepareData(ctx context.Context) error {
	c, err := d.finalized()
	if err != nil {
		return err
	}
	if c.LogFile() == "" {
		c.SetLogFile(d.LogFile)
	} else {
		d.LogFile = c.LogFile()
	}
	if err = c.ReadDataFile(); err != nil {
		return wrapRunCaseError(err, "cannot read thermal data file%s", d.forDomain())
	}

	srcDir := filepath.Join(d.ExecDir, "src")
	if err = d.mkdir(srcDir); err != nil {
		return err
	}
	compileLog := filepath.Join(d.ExecDir, casedir.CompileLog)
	ret := c.PrepareRun(ctx, srcDir, compileLog)
	if err = d.CopyResult(compileLog, false); err != nil {
		return err
	}
	if ret != 0 {
		msg := "Error during the thermal solver preparation step"
		switch ret {
		case ThermalDataCopyError:
			msg += ": error during data copy"
		case ThermalCompileError:
			msg += ": error during compilation and link"
			if err = d.CopyResult(srcDir, false); err != nil {
				return err
			}
		}
		return &RunCaseError{Msg: msg}
	}
	d.SolverPath = filepath.Join(d.ExecDir, d.thermal.Executable())
	return nil
}

// Preprocess prints the thermal case, opens its log and runs its
// preprocessing.
func (d *ThermalDomain) Preprocess(ctx context.Context) error {
	c, err := d.finalized()
	if err != nil {
		return err
	}
	c.Dump(d.out)
	if err = c.LogfileInit(); err != nil {
		return wrapRunCaseError(err, "cannot open thermal log%s", d.forDomain())
	}
	if ret := c.Preprocessing(ctx); ret != 0 {
		d.Error = PreprocessError
		return runCaseErrorf("Error during the thermal solver preprocessing step (exit %d)", ret)
	}
	return nil
}

// CopyResults post-processes if requested, then saves results unless the
// execution directory is the result directory.
func (d *ThermalDomain) CopyResults(ctx context.Context) error {
	c, err := d.finalized()
	if err != nil {
		return err
	}
	if mode := c.PostMode(); mode != "" {
		if ret := c.Postprocessing(ctx, mode); ret != 0 {
			return runCaseErrorf("Error during the thermal solver postprocessing step (exit %d)", ret)
		}
	}
	if filepath.Clean(d.ExecDir) == filepath.Clean(d.ResultDir) {
		return nil
	}
	if ret := c.SaveResults(ctx, d.ResultDir, true); ret != 0 {
		return runCaseErrorf("Error saving thermal solver results (exit %d)", ret)
	}
	return nil
}

// SolverCommand runs the thermal solver on its data file, using the case's
// process counts once finalized.
func (d *ThermalDomain) SolverCommand(opts CommandOptions) Command {
	dataFile := filepath.Join(d.CaseDir, d.Param)
	n, nr := d.nProcs.Requested, d.NProcsRadiation
	if c := d.external; c != nil {
		dataFile, n, nr = c.DataFile(), c.NProcs(), c.NProcsRadiation()
	}
	args := []string{"-d", dataFile, "-n", strconv.Itoa(n)}
	if nr > 0 {
		args = append(args, "-r", strconv.Itoa(nr))
	}
	args = append(args, "--name", d.name, "--log", d.LogFile)
	return d.underDebugger(Command{Dir: d.ExecDir, Path: d.SolverPath, Args: args})
}

func (d *ThermalDomain) SummaryInfo(w io.Writer) error {
	var sb strings.Builder
	d.writeSummary(&sb)
	if d.SolverPath != "" {
		fmt.Fprintf(&sb, "    thermal      : %s\n", d.SolverPath)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
