package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Package describes the installed solver package
type Package struct {
	CodeName         string `mapstructure:"code_name"`
	BinDir           string `mapstructure:"bindir"`
	Solver           string `mapstructure:"solver"`
	Preprocessor     string `mapstructure:"preprocessor"`
	Compiler         string `mapstructure:"compiler"`
	SrcDir           string `mapstructure:"srcdir"`
	ConfigFile       string `mapstructure:"configfile"`
	GlobalConfigFile string `mapstructure:"global_configfile"`
}

func DefaultPackage() *Package {
	return &Package{
		CodeName:         "Code_Saturne",
		Solver:           "cs_solver",
		Preprocessor:     "cs_preprocess",
		Compiler:         "code_saturne compile",
		SrcDir:           "src_saturne",
		ConfigFile:       "code_saturne.cfg",
		GlobalConfigFile: "/etc/code_saturne.cfg",
	}
}

// Load reads the "package" section of v over the defaults
func Load(v *viper.Viper) (*Package, error) {
	p := DefaultPackage()
	if v == nil || !v.IsSet("package") {
		return p, nil
	}
	if err := v.UnmarshalKey("package", p); err != nil {
		return nil, fmt.Errorf("reading package configuration: %w", err)
	}
	return p, nil
}

// RootTag is the root element expected in parameter files of this package
func (p *Package) RootTag() string {
	return p.CodeName + "_GUI"
}

func (p *Package) binPath(name string) string {
	if p.BinDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.BinDir, name)
}

// SolverPath is the default solver executable
func (p *Package) SolverPath() string {
	return p.binPath(p.Solver)
}

// PreprocessorCommand is the preprocessor program followed by its fixed options
func (p *Package) PreprocessorCommand() []string {
	return p.command(p.Preprocessor)
}

// CompilerCommand is the compile/link helper followed by its fixed options
func (p *Package) CompilerCommand() []string {
	return p.command(p.Compiler)
}

func (p *Package) command(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	fields[0] = p.binPath(fields[0])
	return fields
}

// UserConfigFile is ~/.<configfile>
func (p *Package) UserConfigFile() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "."+p.ConfigFile), nil
}

// ConfigFiles lists the user then global config files
func (p *Package) ConfigFiles() []string {
	var files []string
	if u, err := p.UserConfigFile(); err == nil {
		files = append(files, u)
	}
	if p.GlobalConfigFile != "" {
		files = append(files, p.GlobalConfigFile)
	}
	return files
}

// MeshSearchDirs collects the colon separated run.meshdir entries of the INI
// config files, in file order. Missing files are skipped.
func MeshSearchDirs(fs billy.Filesystem, files ...string) ([]string, error) {
	var dirs []string
	for _, f := range files {
		if _, err := fs.Stat(f); err != nil {
			continue
		}
		data, err := util.ReadFile(fs, f)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", f, err)
		}
		v := viper.New()
		v.SetConfigType("ini")
		if err = v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", f, err)
		}
		if !v.IsSet("run.meshdir") {
			continue
		}
		for _, d := range strings.Split(v.GetString("run.meshdir"), ":") {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	return dirs, nil
}
