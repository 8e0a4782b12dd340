// Package runcase runs a case: it places the domains' directories, stages
// their data, preprocesses, launches the solvers and harvests the results.
package runcase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/domain"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/stage"
)

// RunIDFormat is the time layout of generated run ids
const RunIDFormat = "20060102-1504"

// SolverLog receives the output of the solver launch
const SolverLog = "run_solver.log"

// Stages selects the steps of a run. The zero value runs all of them.
type Stages struct {
	Prepare    bool
	Preprocess bool
	Execute    bool
	Finalize   bool
}

func (s Stages) all() bool {
	return !s.Prepare && !s.Preprocess && !s.Execute && !s.Finalize
}

// RunOptions tune one run of a case
type RunOptions struct {
	// ID names the run; generated from the date when empty
	ID string
	// ExecRoot, when set, holds execution directories instead of RESU
	ExecRoot string
	// ResultDir, when set, replaces RESU/<id> as the result directory
	ResultDir string
	// NProcs overrides the process count of a single domain case
	NProcs int
	Stages Stages
}

// Result describes a finished run
type Result struct {
	ID       string
	RunDir   string
	ExitCode int
}

type finalizer interface {
	Finalize() error
}

type caseHooks interface {
	DefineCaseParameters(p *domain.CaseParameters) error
	DefineMPIEnvironment(e *execenv.MPIEnvironment) error
}

// Case is a set of domains run together from a case or study directory
type Case struct {
	Root    string
	Domains []domain.Domain
	Package *config.Package
	MPI     execenv.MPIEnvironment

	stager *stage.Stager
	runner execenv.Runner
	logger *slog.Logger
	out    io.Writer
	lock   bool
	now    func() time.Time
}

type Option func(*Case)

func WithStager(st *stage.Stager) Option {
	return func(c *Case) {
		c.stager = st
	}
}

func WithRunner(r execenv.Runner) Option {
	return func(c *Case) {
		c.runner = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Case) {
		c.logger = l
	}
}

// WithOutput sets where the run summary is echoed
func WithOutput(w io.Writer) Option {
	return func(c *Case) {
		c.out = w
	}
}

func WithMPIEnvironment(e execenv.MPIEnvironment) Option {
	return func(c *Case) {
		c.MPI = e
	}
}

// WithLock enables the advisory lock taken on the run directory. It needs
// the host filesystem.
func WithLock(lock bool) Option {
	return func(c *Case) {
		c.lock = lock
	}
}

// WithClock replaces time.Now when naming runs
func WithClock(now func() time.Time) Option {
	return func(c *Case) {
		c.now = now
	}
}

// New returns a case rooted at root. Domains must be named when there is
// more than one.
func New(root string, pkg *config.Package, domains []domain.Domain, opts ...Option) (*Case, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("case %s has no domain", root)
	}
	if len(domains) > 1 {
		seen := make(map[string]bool)
		for _, d := range domains {
			if d.Name() == "" {
				return nil, fmt.Errorf("case %s: domains of a coupled case must be named", root)
			}
			if seen[d.Name()] {
				return nil, fmt.Errorf("case %s: duplicate domain %s", root, d.Name())
			}
			seen[d.Name()] = true
		}
	}
	c := &Case{
		Root:    root,
		Domains: domains,
		Package: pkg,
		MPI:     execenv.DefaultMPIEnvironment(),
		lock:    true,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.stager == nil {
		c.stager = stage.NewOS()
	}
	if c.runner == nil {
		c.runner = execenv.NewRunner(c.logger)
	}
	if c.out == nil {
		c.out = io.Discard
	}
	return c, nil
}

// RunID returns id, or a date based id, made unique among the result
// directories of the case.
func (c *Case) RunID(id, resultDir string) string {
	if id == "" {
		id = c.now().Format(RunIDFormat)
	}
	if resultDir != "" {
		return id
	}
	taken := func(id string) bool {
		for _, d := range c.Domains {
			if c.stager.Exists(filepath.Join(d.Dirs().CaseDir, casedir.ResultDirName, id)) {
				return true
			}
		}
		return false
	}
	if !taken(id) {
		return id
	}
	for {
		unique := id + "-" + strings.SplitN(uuid.New().String(), "-", 2)[0]
		if !taken(unique) {
			return unique
		}
	}
}

func (c *Case) flowDomains() (hooks []caseHooks) {
	for _, d := range c.Domains {
		if h, ok := d.(caseHooks); ok {
			hooks = append(hooks, h)
		}
	}
	return
}

// runDir is where the solvers are launched from
func (c *Case) runDir() string {
	exec := c.Domains[0].Dirs().ExecDir
	if len(c.Domains) == 1 {
		return exec
	}
	return filepath.Dir(exec)
}

// Setup places the directories of every domain for the run and finalizes
// the domains that need it. It returns the run id.
func (c *Case) Setup(opts RunOptions) (string, error) {
	for _, d := range c.Domains {
		if err := d.SetCaseDir(c.Root); err != nil {
			return "", err
		}
	}

	p := &domain.CaseParameters{NProcs: opts.NProcs, ExecRoot: opts.ExecRoot, RunID: opts.ID, ResultRoot: opts.ResultDir}
	for _, h := range c.flowDomains() {
		if err := h.DefineCaseParameters(p); err != nil {
			return "", err
		}
	}
	if p.NProcs > 0 {
		if len(c.Domains) == 1 {
			c.Domains[0].SetNProcs(p.NProcs)
		} else {
			c.logger.Warn("process count ignored for a coupled case", "nprocs", p.NProcs)
		}
	}

	id := c.RunID(p.RunID, p.ResultRoot)
	execPath := id
	if p.ExecRoot != "" {
		root, err := casedir.Resolve(c.Root, p.ExecRoot)
		if err != nil {
			return "", err
		}
		execPath = filepath.Join(root, id)
	}
	for _, d := range c.Domains {
		if err := d.SetExecDir(execPath); err != nil {
			return "", err
		}
		if err := d.SetResultDir(id, p.ResultRoot); err != nil {
			return "", err
		}
		if f, ok := d.(finalizer); ok {
			if err := f.Finalize(); err != nil {
				return "", err
			}
		}
	}
	return id, nil
}

// Run goes through the selected stages of a run. Domains are harvested
// even when an earlier stage failed.
func (c *Case) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	id, err := c.Setup(opts)
	if err != nil {
		return nil, err
	}
	res = &Result{ID: id, RunDir: c.runDir()}
	log := c.logger.With("run", id)

	if c.lock {
		lock := flock.New(res.RunDir + ".lock")
		locked, lerr := lock.TryLock()
		if lerr != nil {
			return res, fmt.Errorf("locking run %s: %w", id, lerr)
		}
		if !locked {
			return res, fmt.Errorf("run %s is in use by another process", id)
		}
		defer func() {
			_ = lock.Unlock()
			_ = os.Remove(lock.Path())
		}()
	}

	st := opts.Stages
	if st.all() {
		st = Stages{Prepare: true, Preprocess: true, Execute: true, Finalize: true}
	}
	if err = c.WriteSummary(filepath.Join(res.RunDir, casedir.Summary)); err != nil {
		return res, err
	}

	err = c.stages(ctx, st, res, log)
	if st.Finalize {
		for _, d := range c.Domains {
			if ferr := d.CopyResults(ctx); ferr != nil {
				log.Error("result harvest failed", "domain", d.Name(), "err", ferr)
				err = errors.Join(err, ferr)
			}
		}
		if ferr := c.harvestRunFiles(res.RunDir); ferr != nil {
			log.Error("run files harvest failed", "err", ferr)
			err = errors.Join(err, ferr)
		}
	}
	return res, err
}

// harvestRunFiles copies the summary and solver log of a run directory shared
// by several domains into each domain's result directory. A single domain
// runs in its own execution directory and harvests them itself.
func (c *Case) harvestRunFiles(runDir string) error {
	for _, d := range c.Domains {
		if filepath.Clean(d.Dirs().ExecDir) == filepath.Clean(runDir) {
			return nil
		}
	}
	var errs []error
	for _, d := range c.Domains {
		dest := d.Dirs().ResultDir
		for _, f := range []string{casedir.Summary, SolverLog} {
			if err := c.stager.Copy(filepath.Join(runDir, f), filepath.Join(dest, f), false); err != nil {
				errs = append(errs, fmt.Errorf("copying %s to %s: %w", f, dest, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Case) stages(ctx context.Context, st Stages, res *Result, log *slog.Logger) error {
	if st.Prepare {
		log.Info("preparing data")
		for _, d := range c.Domains {
			if err := d.PrepareData(ctx); err != nil {
				return err
			}
		}
	}
	if st.Preprocess {
		log.Info("preprocessing")
		for _, d := range c.Domains {
			if err := d.Preprocess(ctx); err != nil {
				return err
			}
		}
	}
	if !st.Execute {
		return nil
	}
	for _, d := range c.Domains {
		if d.ExecutesSolver() {
			continue
		}
		if tag := d.ErrorTag(); tag != "" {
			return fmt.Errorf("%s stage failed in %s, solver not run", tag, d.Dirs().CaseDir)
		}
		log.Info("solver disabled", "domain", d.Name())
		return nil
	}
	code, err := c.Execute(ctx)
	res.ExitCode = code
	if err != nil {
		return err
	}
	if code != 0 {
		for _, d := range c.Domains {
			d.SetError(domain.SolverError)
		}
		return fmt.Errorf("solver exited with status %d, see %s", code, filepath.Join(res.RunDir, SolverLog))
	}
	return nil
}

// Execute launches the solvers of all domains through a run_solver.sh
// script in the run directory and returns their exit status.
func (c *Case) Execute(ctx context.Context) (int, error) {
	mpi := c.MPI
	for _, h := range c.flowDomains() {
		if err := h.DefineMPIEnvironment(&mpi); err != nil {
			return -1, err
		}
	}

	runDir := c.runDir()
	var apps []execenv.App
	for _, d := range c.Domains {
		cmd := d.SolverCommand(domain.CommandOptions{})
		app := execenv.App{NProcs: d.NProcs().Requested, Path: cmd.Path, Args: cmd.Args}
		if cmd.Dir != runDir {
			app = app.InDir(cmd.Dir)
		}
		apps = append(apps, app)
	}
	program, args, err := mpi.Command(apps)
	if err != nil {
		return -1, err
	}

	script := filepath.Join(runDir, casedir.RunSolverScript)
	if err = c.stager.WriteFile(script, []byte(execenv.Script(runDir, program, args)), 0o755); err != nil {
		return -1, err
	}
	out, err := c.stager.Create(filepath.Join(runDir, SolverLog))
	if err != nil {
		return -1, err
	}
	defer out.Close()

	opts := []execenv.Option{execenv.WithWorkingDir(runDir), execenv.WithOutput(out, out)}
	for k, v := range mpi.Env {
		opts = append(opts, execenv.WithEnvVar(k, v))
	}
	c.logger.Info("starting solver", "dir", runDir, "program", program, "nprocs", totalProcs(apps))
	r, err := c.runner.Run(ctx, "/bin/sh", []string{script}, opts...)
	return execenv.ExitCode(r, err), err
}

func totalProcs(apps []execenv.App) (n int) {
	for _, a := range apps {
		if a.NProcs < 1 {
			n++
			continue
		}
		n += a.NProcs
	}
	return
}

// WriteSummary writes the run description and each domain's summary to
// path, echoing it to the case output.
func (c *Case) WriteSummary(path string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run on %s\n", c.now().Format(time.RFC1123))
	if host, err := os.Hostname(); err == nil {
		fmt.Fprintf(&sb, "  host           : %s\n", host)
	}
	if c.Package != nil {
		fmt.Fprintf(&sb, "  package        : %s\n", c.Package.CodeName)
	}
	var n []execenv.App
	for _, d := range c.Domains {
		n = append(n, execenv.App{NProcs: d.NProcs().Requested})
	}
	fmt.Fprintf(&sb, "  processes      : %d\n", totalProcs(n))
	for _, d := range c.Domains {
		if err := d.SummaryInfo(&sb); err != nil {
			return err
		}
	}
	if err := c.stager.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	_, err := io.WriteString(c.out, sb.String())
	return err
}
