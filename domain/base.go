package domain

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/stage"
)

// Base is the state shared by all domain kinds
type Base struct {
	casedir.Layout
	Package    *config.Package
	SolverPath string
	// Debugger is a wrapper command, such as valgrind, the solver is run under
	Debugger string
	// Error is empty, or the tag of the phase that failed
	Error string

	name   string
	nProcs NProcs
	stager *stage.Stager
	logger *slog.Logger
}

func newBase(pkg *config.Package, s *settings) Base {
	return Base{
		Package: pkg,
		name:    s.name,
		nProcs:  ResolveNProcs(s.nProcs, s.nProcsMin, s.nProcsMax),
		stager:  s.stager,
		logger:  s.logger.With("domain", s.name),
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Dirs() casedir.Layout {
	return b.Layout
}

func (b *Base) ErrorTag() string {
	return b.Error
}

// SetError tags the domain with the phase that failed
func (b *Base) SetError(tag string) {
	b.Error = tag
}

func (b *Base) forDomain() string {
	if b.name == "" {
		return ""
	}
	return " for domain " + b.name
}

// SetCaseDir derives the data, result and source directories from root
func (b *Base) SetCaseDir(root string) error {
	b.Layout = casedir.New(root, b.name)
	return nil
}

// SetExecDir places the execution directory and creates it if missing
func (b *Base) SetExecDir(path string) error {
	b.ExecDir = casedir.ExecDir(b.CaseDir, path, b.name)
	return b.mkdir(b.ExecDir)
}

// SetResultDir places the result directory of run name, or given, and
// creates it if missing.
func (b *Base) SetResultDir(name, given string) error {
	b.ResultDir = casedir.ResultDir(b.CaseDir, name, given, b.name)
	return b.mkdir(b.ResultDir)
}

func (b *Base) mkdir(dir string) error {
	if b.stager.IsDir(dir) {
		return nil
	}
	return wrapRunCaseError(b.stager.MkdirAll(dir), "cannot create directory %s", dir)
}

// CopyDataFile copies a data file to the execution directory. Relative names
// are read from the data directory; copyName, when given, renames the copy.
func (b *Base) CopyDataFile(name, copyName, description string) error {
	var src, dest string
	if filepath.IsAbs(name) {
		src = name
		dest = filepath.Join(b.ExecDir, filepath.Base(name))
	} else {
		src = filepath.Join(b.DataDir, name)
		dest = filepath.Join(b.ExecDir, name)
	}
	switch {
	case copyName == "":
	case filepath.IsAbs(copyName):
		dest = copyName
	default:
		dest = filepath.Join(b.ExecDir, copyName)
	}

	if !b.stager.IsFile(src) {
		if description != "" {
			return runCaseErrorf("The %s file: %s\ncan not be accessed.", description, name)
		}
		return runCaseErrorf("File: %s\ncan not be accessed.", name)
	}
	return wrapRunCaseError(b.stager.CopyFile(src, dest), "cannot copy %s", name)
}

func (b *Base) resultPaths(name string) (src, dest string) {
	if filepath.IsAbs(name) {
		return name, filepath.Join(b.ResultDir, filepath.Base(name))
	}
	return filepath.Join(b.ExecDir, name), filepath.Join(b.ResultDir, name)
}

// CopyResult copies a file or directory to the result directory, removing
// it from the execution directory when purge is set.
func (b *Base) CopyResult(name string, purge bool) error {
	src, dest := b.resultPaths(name)
	return wrapRunCaseError(b.stager.Copy(src, dest, purge), "cannot copy result %s", name)
}

// PurgeResult removes a file or directory from the execution directory
func (b *Base) PurgeResult(name string) error {
	f := name
	if !filepath.IsAbs(name) {
		f = filepath.Join(b.ExecDir, name)
	}
	return wrapRunCaseError(b.stager.Remove(f), "cannot remove %s", name)
}

func (b *Base) NProcs() NProcs {
	return b.nProcs
}

func (b *Base) SetNProcs(n int) {
	b.nProcs.Requested = n
}

// SolverCommand returns the solver's working directory and executable
func (b *Base) SolverCommand(opts CommandOptions) Command {
	return Command{Dir: b.ExecDir, Path: b.SolverPath}
}

// underDebugger makes the debugger the executable, with the solver as its
// first argument.
func (b *Base) underDebugger(c Command) Command {
	wrapper := strings.Fields(b.Debugger)
	if len(wrapper) == 0 {
		return c
	}
	args := append([]string{}, wrapper[1:]...)
	args = append(args, c.Path)
	args = append(args, c.Args...)
	return Command{Dir: c.Dir, Path: wrapper[0], Args: args}
}

func (b *Base) writeSummary(sb *strings.Builder) {
	name := b.name
	if name == "" {
		name = filepath.Base(b.CaseDir)
	}
	fmt.Fprintf(sb, "  Case           : %s\n", name)
	fmt.Fprintf(sb, "    directory    : %s\n", b.CaseDir)
	fmt.Fprintf(sb, "    results dir. : %s\n", b.ResultDir)
	if b.ExecDir != b.ResultDir {
		fmt.Fprintf(sb, "    exec. dir.   : %s\n", b.ExecDir)
	}
}

// SummaryInfo writes the case name and directories to w
func (b *Base) SummaryInfo(w io.Writer) error {
	var sb strings.Builder
	b.writeSummary(&sb)
	_, err := io.WriteString(w, sb.String())
	return err
}
