// Package thermal drives the coupled conduction/radiation solver installed
// next to the flow solver: command line processing, data file reading, build
// of the solver executable, mesh partitioning, post-processing and result
// saving.
package thermal

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/notargets/cfdrun/domain"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

// Data file keys
const (
	MeshKey         = "MAILLAGE CONDUCTION"
	ResultPrefixKey = "PREFIXE DES RESULTATS"
	RadiationKey    = "RAYONNEMENT CONFINE"
)

// Package is a thermal solver installation
type Package struct {
	BinDir      string
	Name        string
	Compiler    string
	Partitioner string

	stager *stage.Stager
	runner execenv.Runner
	logger *slog.Logger
}

type Option func(*Package)

func WithStager(st *stage.Stager) Option {
	return func(p *Package) {
		p.stager = st
	}
}

func WithRunner(r execenv.Runner) Option {
	return func(p *Package) {
		p.runner = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Package) {
		p.logger = l
	}
}

// NewPackage describes the thermal solver installed in binDir
func NewPackage(binDir string, opts ...Option) *Package {
	p := &Package{
		BinDir:      binDir,
		Name:        "syrthes",
		Compiler:    "syrthes_compile",
		Partitioner: "syrthes4_partition",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.stager == nil {
		p.stager = stage.NewOS()
	}
	if p.runner == nil {
		p.runner = execenv.NewRunner(p.logger)
	}
	return p
}

func (p *Package) Executable() string {
	return p.Name
}

func (p *Package) tool(name string) string {
	if p.BinDir == "" {
		return name
	}
	return filepath.Join(p.BinDir, name)
}

// ProcessCmdLine builds a case from solver command line arguments
func (p *Package) ProcessCmdLine(args []string) (domain.ThermalCase, error) {
	c := &Case{pkg: p}
	fs := pflag.NewFlagSet(p.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&c.dataFile, "data-file", "d", "", "thermal data file")
	fs.StringVar(&c.name, "name", "", "case name")
	fs.IntVarP(&c.nProcs, "nprocs", "n", 1, "number of conduction processes")
	fs.IntVarP(&c.nProcsRad, "nprocs-rad", "r", 0, "number of radiation processes")
	fs.StringVar(&c.dataDir, "data-dir", "", "data directory")
	fs.StringVar(&c.srcDir, "src-dir", "", "user source directory")
	fs.StringVar(&c.execDir, "exec-dir", "", "execution directory")
	fs.StringVarP(&c.logFile, "log", "l", "", "solver log file")
	fs.StringVar(&c.postMode, "post-mode", "", "post-processing format, such as ensight or med")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "verbose preprocessing")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("thermal command line: %w", err)
	}
	if c.dataFile == "" {
		return nil, fmt.Errorf("thermal command line: no data file given")
	}
	if c.dataDir == "" {
		c.dataDir = filepath.Dir(c.dataFile)
	}
	if c.srcDir == "" {
		c.srcDir = c.dataDir
	}
	if c.execDir == "" {
		c.execDir = c.dataDir
	}
	if c.name == "" {
		c.name = strings.TrimSuffix(filepath.Base(c.dataFile), filepath.Ext(c.dataFile))
	}
	if c.nProcs < 1 {
		c.nProcs = 1
	}
	return c, nil
}
