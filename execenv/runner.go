// Package execenv runs the external programs of a case: preprocessor,
// compiler and solver, under an optional MPI launcher.
package execenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Result holds the output and exit status of a command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Runner executes a program to completion
type Runner interface {
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures a command execution
type Options struct {
	WorkingDir   string
	Env          map[string]string
	Capture      bool
	StdoutWriter io.Writer
	StderrWriter io.Writer
}

type Option func(*Options)

func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithOutput sends stdout and stderr to the given writers instead of
// capturing them.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.Capture = false
		o.StdoutWriter = stdout
		o.StderrWriter = stderr
	}
}

// CommandRunner runs programs with os/exec
type CommandRunner struct {
	logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *CommandRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRunner{logger: logger}
}

// Run executes program and waits for it. A non-zero exit is reported through
// Result.ExitCode and a nil error; the error is set only when the program
// could not be run at all, in which case ExitCode is -1.
func (r *CommandRunner) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	options := &Options{Capture: true}
	for _, opt := range opts {
		opt(options)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = options.WorkingDir
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var stdout, stderr []io.Writer
	if options.Capture {
		stdout = append(stdout, &stdoutBuf)
		stderr = append(stderr, &stderrBuf)
	}
	if options.StdoutWriter != nil {
		stdout = append(stdout, options.StdoutWriter)
	}
	if options.StderrWriter != nil {
		stderr = append(stderr, options.StderrWriter)
	}
	if len(stdout) > 0 {
		cmd.Stdout = io.MultiWriter(stdout...)
	}
	if len(stderr) > 0 {
		cmd.Stderr = io.MultiWriter(stderr...)
	}

	r.logger.Debug("running command", "program", program, "args", strings.Join(args, " "), "dir", options.WorkingDir)
	err := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
		Err:    err,
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("running %s: %w", program, err)
	}
}

// ExitCode folds a run error into a process style status
func ExitCode(res *Result, err error) int {
	if res != nil {
		return res.ExitCode
	}
	if err != nil {
		return -1
	}
	return 0
}
