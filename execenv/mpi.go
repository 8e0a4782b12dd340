package execenv

import (
	"fmt"
	"strings"
)

// MPIEnvironment describes how parallel programs are launched
type MPIEnvironment struct {
	Launcher     string   `mapstructure:"launcher"`
	LauncherArgs []string `mapstructure:"launcher_args"`
	NProcsFlag   string   `mapstructure:"nprocs_flag"`
	// Separator joins the applications of an MPMD launch
	Separator string            `mapstructure:"separator"`
	Env       map[string]string `mapstructure:"env"`
}

func DefaultMPIEnvironment() MPIEnvironment {
	return MPIEnvironment{
		Launcher:   "mpiexec",
		NProcsFlag: "-n",
		Separator:  ":",
	}
}

// App is one program of a possibly multi-program launch
type App struct {
	NProcs int
	Path   string
	Args   []string
}

// Command builds the program and arguments launching apps. A single serial
// app is run directly; anything else goes through the launcher, with
// several apps chained in MPMD form.
func (e MPIEnvironment) Command(apps []App) (program string, args []string, err error) {
	if len(apps) == 0 {
		return "", nil, fmt.Errorf("no application to launch")
	}
	if len(apps) == 1 && apps[0].NProcs <= 1 {
		return apps[0].Path, apps[0].Args, nil
	}
	if e.Launcher == "" {
		return "", nil, fmt.Errorf("an MPI launcher is required to run %d processes", totalProcs(apps))
	}
	args = append(args, e.LauncherArgs...)
	for i, app := range apps {
		if i > 0 {
			args = append(args, e.Separator)
		}
		n := app.NProcs
		if n < 1 {
			n = 1
		}
		args = append(args, e.NProcsFlag, fmt.Sprint(n), app.Path)
		args = append(args, app.Args...)
	}
	return e.Launcher, args, nil
}

// Script renders a shell script running the command from dir
func Script(dir, program string, args []string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n\n")
	fmt.Fprintf(&sb, "cd %s || exit 1\n\n", quote(dir))
	sb.WriteString(quote(program))
	for _, a := range args {
		sb.WriteString(" ")
		sb.WriteString(quote(a))
	}
	sb.WriteString("\n\nexit $?\n")
	return sb.String()
}

// InDir wraps the app in a shell starting it from dir, for MPMD launches
// where apps have different working directories.
func (a App) InDir(dir string) App {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cd %s && exec %s", quote(dir), quote(a.Path))
	for _, arg := range a.Args {
		sb.WriteString(" ")
		sb.WriteString(quote(arg))
	}
	return App{NProcs: a.NProcs, Path: "/bin/sh", Args: []string{"-c", sb.String()}}
}

func totalProcs(apps []App) (n int) {
	for _, a := range apps {
		n += a.NProcs
	}
	return
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
