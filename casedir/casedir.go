package casedir

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Directory names of a case tree
const (
	DataDirName   = "DATA"
	ResultDirName = "RESU"
	SrcDirName    = "SRC"
	MeshDirName   = "MESH"
)

// Fixed artifact names inside an execution directory
const (
	MeshInput       = "mesh_input"
	Restart         = "restart"
	PartitionInput  = "partition_input"
	Checkpoint      = "checkpoint"
	CompileLog      = "compile.log"
	PreprocessorLog = "preprocessor.log"
	RunSolverScript = "run_solver.sh"
	Summary         = "summary"
	SolidFuel       = "dp_FCP.xml"
	Thermochemistry = "dp_thch"
	Meteo           = "meteo"
)

// Layout holds the directories of one domain in a case
type Layout struct {
	CaseDir   string
	DataDir   string
	ResultDir string
	SrcDir    string
	ExecDir   string
}

// New derives the case tree of a domain. When name is set the domain lives in
// its own subdirectory of root, as in multi-domain studies.
func New(root, name string) Layout {
	caseDir := root
	if name != "" {
		caseDir = filepath.Join(root, name)
	}
	return Layout{
		CaseDir:   caseDir,
		DataDir:   filepath.Join(caseDir, DataDirName),
		ResultDir: filepath.Join(caseDir, ResultDirName),
		SrcDir:    filepath.Join(caseDir, SrcDirName),
	}
}

// ExecDir returns path verbatim if absolute, else caseDir/RESU/path, with the
// domain name appended when set.
func ExecDir(caseDir, path, name string) string {
	dir := path
	if !filepath.IsAbs(path) {
		dir = filepath.Join(caseDir, ResultDirName, path)
	}
	if name != "" {
		dir = filepath.Join(dir, name)
	}
	return dir
}

// ResultDir returns caseDir/RESU/run, or given when set, with the domain name
// appended when set.
func ResultDir(caseDir, run, given, name string) string {
	dir := given
	if given == "" {
		dir = filepath.Join(caseDir, ResultDirName, run)
	}
	if name != "" {
		dir = filepath.Join(dir, name)
	}
	return dir
}

// StudyDir is the parent of a case directory
func StudyDir(caseDir string) string {
	return filepath.Dir(caseDir)
}

// Resolve expands a leading ~ and joins relative paths under base.
func Resolve(base, path string) (string, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return p, nil
}

// PreprocessorLogName is the log of the id-th mesh of a multi-mesh case
func PreprocessorLogName(id int) string {
	return fmt.Sprintf("preprocessor_%02d.log", id)
}

// MeshOutputName is the preprocessor output of the id-th mesh, relative to
// the execution directory.
func MeshOutputName(id int) string {
	return filepath.Join(MeshInput, fmt.Sprintf("mesh_%02d", id))
}
