// Package domain holds the lifecycle of the domains taking part in a case
// run: directory setup, data staging, optional compilation of user sources,
// preprocessing, solver command construction and result harvesting. A flow
// solver domain and a coupled thermal solver domain share the Base lifecycle.
package domain

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

// Error tags of the phase a domain failed in
const (
	PreprocessError = "preprocess"
	SolverError     = "solver"
)

// Domain is one participant of a case run, driven through its phases in a
// fixed order by a case runner.
type Domain interface {
	Name() string
	Dirs() casedir.Layout
	ErrorTag() string
	SetError(tag string)
	ExecutesSolver() bool
	SetCaseDir(root string) error
	SetExecDir(path string) error
	SetResultDir(name, given string) error
	NProcs() NProcs
	SetNProcs(n int)
	PrepareData(ctx context.Context) error
	Preprocess(ctx context.Context) error
	SolverCommand(opts CommandOptions) Command
	CopyResults(ctx context.Context) error
	SummaryInfo(w io.Writer) error
}

// NProcs is the process count policy of a domain. Max == 0 is unbounded.
type NProcs struct {
	Requested, Min, Max int
}

// ResolveNProcs clamps the requested count (1 when unset) into [min, max],
// with min at least 1.
func ResolveNProcs(requested, min, max int) NProcs {
	if min < 1 {
		min = 1
	}
	n := requested
	if n < 1 {
		n = 1
	}
	if n < min {
		n = min
	}
	if max > 0 && n > max {
		n = max
	}
	return NProcs{Requested: n, Min: min, Max: max}
}

// Command is the working directory, executable and arguments of a solver run
type Command struct {
	Dir  string
	Path string
	Args []string
}

func (c Command) ArgString() string {
	return strings.Join(c.Args, " ")
}

// CommandOptions tune SolverCommand. SocketPort > 0 requests socket coupling
// with a thermal solver on that port.
type CommandOptions struct {
	SocketPort int
}

// Compiler compiles and links user sources into a solver executable
type Compiler interface {
	CompileAndLink(ctx context.Context, pkg *config.Package, srcDir, destDir string,
		libAdd []string, stdout, stderr io.Writer) (int, error)
}

type settings struct {
	name                         string
	nProcs, nProcsMin, nProcsMax int
	param                        string
	loggingArgs                  string
	libAdd                       []string
	compute                      *config.Package
	hooks                        Hooks
	stager                       *stage.Stager
	runner                       execenv.Runner
	compiler                     Compiler
	logger                       *slog.Logger
	out                          io.Writer
	configFiles                  []string
	configFilesSet               bool
	cmdLine                      string
	logFile                      string
	nProcsRadiation              int
}

// Option configures a domain at construction
type Option func(*settings)

func newSettings(opts []Option) *settings {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.stager == nil {
		s.stager = stage.NewOS()
	}
	if s.runner == nil {
		s.runner = execenv.NewRunner(s.logger)
	}
	if s.compiler == nil {
		s.compiler = &execenv.PackageCompiler{Runner: s.runner}
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	return s
}

// WithName sets the domain name, used only when a case has several domains
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithNProcs sets the recommended, minimum and maximum process counts.
// Zero values mean unset.
func WithNProcs(weight, min, max int) Option {
	return func(s *settings) {
		s.nProcs, s.nProcsMin, s.nProcsMax = weight, min, max
	}
}

// WithParam sets the parameter file, relative to the data directory
func WithParam(param string) Option {
	return func(s *settings) {
		s.param = param
	}
}

func WithLoggingArgs(args string) Option {
	return func(s *settings) {
		s.loggingArgs = args
	}
}

// WithLibAdd adds linker options for user code compilation
func WithLibAdd(flags ...string) Option {
	return func(s *settings) {
		s.libAdd = append(s.libAdd, flags...)
	}
}

// WithComputePackage sets the package used on the compute side when it
// differs from the front-end package.
func WithComputePackage(pkg *config.Package) Option {
	return func(s *settings) {
		s.compute = pkg
	}
}

func WithHooks(h Hooks) Option {
	return func(s *settings) {
		s.hooks = h
	}
}

func WithStager(st *stage.Stager) Option {
	return func(s *settings) {
		s.stager = st
	}
}

func WithRunner(r execenv.Runner) Option {
	return func(s *settings) {
		s.runner = r
	}
}

func WithCompiler(c Compiler) Option {
	return func(s *settings) {
		s.compiler = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithOutput sets where delegate summaries are printed
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		s.out = w
	}
}

// WithConfigFiles replaces the package's user and global config files when
// looking up mesh directories.
func WithConfigFiles(files ...string) Option {
	return func(s *settings) {
		s.configFiles = files
		s.configFilesSet = true
	}
}

// WithCmdLine sets extra options passed to the thermal solver
func WithCmdLine(cmdLine string) Option {
	return func(s *settings) {
		s.cmdLine = cmdLine
	}
}

func WithLogFile(name string) Option {
	return func(s *settings) {
		s.logFile = name
	}
}

func WithRadiationProcs(n int) Option {
	return func(s *settings) {
		s.nProcsRadiation = n
	}
}
