/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/cfdrun/casedir"
	"github.com/notargets/cfdrun/config"
	"github.com/notargets/cfdrun/domain"
	"github.com/notargets/cfdrun/execenv"
	"github.com/notargets/cfdrun/runcase"
	"github.com/notargets/cfdrun/thermal"
)

// Domain kinds accepted in the domains list
const (
	FlowKind    = "flow"
	ThermalKind = "thermal"
)

// DomainConfig is one entry of the domains list of the configuration
type DomainConfig struct {
	Name            string `mapstructure:"name"`
	Kind            string `mapstructure:"kind"`
	Param           string `mapstructure:"param"`
	NProcs          int    `mapstructure:"n_procs"`
	NProcsMin       int    `mapstructure:"n_procs_min"`
	NProcsMax       int    `mapstructure:"n_procs_max"`
	CmdLine         string `mapstructure:"cmd_line"`
	LogFile         string `mapstructure:"log_file"`
	NProcsRadiation int    `mapstructure:"n_procs_radiation"`
}

// Overrides are command line settings applied to every flow domain after
// its parameter file is read.
type Overrides struct {
	Param      string
	SolverArgs string
	Debugger   string
}

// environment carries the options shared by everything a run builds
type environment struct {
	domain  []domain.Option
	thermal []thermal.Option
	run     []runcase.Option
}

func hostEnvironment(logger *slog.Logger, cmd *cobra.Command) environment {
	out := cmd.OutOrStdout()
	return environment{
		domain:  []domain.Option{domain.WithLogger(logger), domain.WithOutput(out)},
		thermal: []thermal.Option{thermal.WithLogger(logger)},
		run:     []runcase.Option{runcase.WithLogger(logger), runcase.WithOutput(out)},
	}
}

var runCmd = &cobra.Command{
	Use:   "run [case directory]",
	Short: "Run a case, or a coupled study from its study directory",
	Long: `
Runs the case in the given directory, the current one by default. When the
configuration lists several domains the directory is the study holding one
case directory per domain.

Domains are read from the "domains" configuration key, for example:

domains:
  - name: fluid
    kind: flow
    param: setup.xml
    n_procs: 4
  - name: solid
    kind: thermal
    cmd_line: --post-mode ensight

cfdrun run ~/studies/exchanger --exec-root /scratch`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		root := cwd
		if len(args) == 1 {
			if root, err = casedir.Resolve(cwd, args[0]); err != nil {
				return err
			}
		}
		flags := cmd.Flags()
		opts := runcase.RunOptions{
			ID:        viper.GetString("run.id"),
			ExecRoot:  viper.GetString("run.exec_root"),
			ResultDir: viper.GetString("run.result_dir"),
			NProcs:    viper.GetInt("run.n_procs"),
		}
		opts.Stages.Prepare, _ = flags.GetBool("prepare")
		opts.Stages.Preprocess, _ = flags.GetBool("preprocess")
		opts.Stages.Execute, _ = flags.GetBool("execute")
		opts.Stages.Finalize, _ = flags.GetBool("finalize")
		ov := Overrides{}
		ov.Param, _ = flags.GetString("param")
		ov.SolverArgs, _ = flags.GetString("solver-args")
		ov.Debugger, _ = flags.GetString("debugger")

		c, err := NewCase(viper.GetViper(), root, ov, hostEnvironment(slog.Default(), cmd))
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		res, err := c.Run(ctx, opts)
		if res != nil {
			slog.Info("run finished", "id", res.ID, "dir", res.RunDir, "exit", res.ExitCode)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("id", "", "run id, generated from the date by default")
	runCmd.Flags().String("exec-root", "", "directory holding execution directories instead of RESU")
	runCmd.Flags().String("result-dir", "", "result directory replacing RESU/<id>")
	runCmd.Flags().IntP("nprocs", "n", 0, "number of processes of a single domain case")
	runCmd.Flags().StringP("param", "p", "", "parameter file of a single domain case")
	runCmd.Flags().String("solver-args", "", "extra solver arguments for flow domains")
	runCmd.Flags().String("debugger", "", "run flow solvers under this debugger command")
	runCmd.Flags().Bool("prepare", false, "stage: copy data and build the solver")
	runCmd.Flags().Bool("preprocess", false, "stage: preprocess meshes")
	runCmd.Flags().Bool("execute", false, "stage: run the solvers")
	runCmd.Flags().Bool("finalize", false, "stage: copy results")
	_ = viper.BindPFlag("run.id", runCmd.Flags().Lookup("id"))
	_ = viper.BindPFlag("run.exec_root", runCmd.Flags().Lookup("exec-root"))
	_ = viper.BindPFlag("run.result_dir", runCmd.Flags().Lookup("result-dir"))
	_ = viper.BindPFlag("run.n_procs", runCmd.Flags().Lookup("nprocs"))
}

// Domains reads the domains list of v. Without one the case is a single
// unnamed flow domain.
func Domains(v *viper.Viper) ([]DomainConfig, error) {
	var dcs []DomainConfig
	if v.IsSet("domains") {
		if err := v.UnmarshalKey("domains", &dcs); err != nil {
			return nil, fmt.Errorf("reading domains: %w", err)
		}
	}
	if len(dcs) == 0 {
		return []DomainConfig{{Kind: FlowKind}}, nil
	}
	for i := range dcs {
		if dcs[i].Kind == "" {
			dcs[i].Kind = FlowKind
		}
	}
	return dcs, nil
}

// NewCase builds the case rooted at root from the package, MPI, thermal and
// domains settings of v.
func NewCase(v *viper.Viper, root string, ov Overrides, env environment) (*runcase.Case, error) {
	pkg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	mpi := execenv.DefaultMPIEnvironment()
	if v.IsSet("mpi") {
		if err = v.UnmarshalKey("mpi", &mpi); err != nil {
			return nil, fmt.Errorf("reading mpi: %w", err)
		}
	}
	dcs, err := Domains(v)
	if err != nil {
		return nil, err
	}
	if ov.Param != "" {
		if len(dcs) > 1 {
			return nil, fmt.Errorf("--param applies to single domain cases only")
		}
		dcs[0].Param = ov.Param
	}

	hooks := domain.Hooks{
		DomainParameters: func(d *domain.FlowDomain) error {
			if ov.SolverArgs != "" {
				d.SolverArgs = ov.SolverArgs
			}
			if ov.Debugger != "" {
				d.Debugger = ov.Debugger
			}
			return nil
		},
	}
	var tp *thermal.Package
	var domains []domain.Domain
	for _, dc := range dcs {
		opts := append([]domain.Option{
			domain.WithName(dc.Name),
			domain.WithNProcs(dc.NProcs, dc.NProcsMin, dc.NProcsMax),
		}, env.domain...)
		switch dc.Kind {
		case FlowKind:
			opts = append(opts, domain.WithParam(dc.Param), domain.WithHooks(hooks))
			domains = append(domains, domain.NewFlowDomain(pkg, opts...))
		case ThermalKind:
			if tp == nil {
				tp = thermal.NewPackage(v.GetString("thermal.bindir"), env.thermal...)
			}
			opts = append(opts, domain.WithCmdLine(dc.CmdLine), domain.WithLogFile(dc.LogFile),
				domain.WithRadiationProcs(dc.NProcsRadiation))
			if dc.Param != "" {
				opts = append(opts, domain.WithParam(dc.Param))
			}
			d, err := domain.NewThermalDomain(pkg, tp, opts...)
			if err != nil {
				return nil, err
			}
			domains = append(domains, d)
		default:
			return nil, fmt.Errorf("domain %s: unknown kind %q", dc.Name, dc.Kind)
		}
	}
	return runcase.New(root, pkg, domains, append([]runcase.Option{runcase.WithMPIEnvironment(mpi)}, env.run...)...)
}
