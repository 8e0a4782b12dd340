package InputParameters

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
)

// Mesh is a mesh file and the extra preprocessor options applied to it
type Mesh struct {
	Path    string   `json:"path"`
	Options []string `json:"options,omitempty"`
}

// MeshList always decodes to a list: a bare path or a single mesh object
// becomes a one-element list, and list elements may each be a path, an
// object, or a [path, option...] array.
type MeshList []Mesh

func (ml *MeshList) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*ml = nil
		return nil
	case []interface{}:
		list := make(MeshList, 0, len(v))
		for i, e := range v {
			m, err := meshFrom(e)
			if err != nil {
				return fmt.Errorf("meshes[%d]: %w", i, err)
			}
			list = append(list, m)
		}
		*ml = list
		return nil
	default:
		m, err := meshFrom(v)
		if err != nil {
			return err
		}
		*ml = MeshList{m}
		return nil
	}
}

func meshFrom(e interface{}) (m Mesh, err error) {
	switch v := e.(type) {
	case string:
		m.Path = v
	case []interface{}:
		if len(v) == 0 {
			return m, fmt.Errorf("empty mesh descriptor")
		}
		for i, s := range v {
			str, ok := s.(string)
			if !ok {
				return m, fmt.Errorf("mesh descriptor element %d is not a string", i)
			}
			if i == 0 {
				m.Path = str
			} else {
				m.Options = append(m.Options, str)
			}
		}
	case map[string]interface{}:
		var data []byte
		if data, err = json.Marshal(v); err != nil {
			return
		}
		if err = json.Unmarshal(data, &m); err != nil {
			return
		}
	default:
		return m, fmt.Errorf("unsupported mesh descriptor %v", e)
	}
	if m.Path == "" {
		return m, fmt.Errorf("mesh descriptor without a path")
	}
	return m, nil
}

// Parameters obtained from a domain parameter file. Pointer fields are nil
// when the key is absent so that only given keys override domain defaults.
type Parameters struct {
	Version             *string  `json:"version,omitempty"`
	MeshDir             *string  `json:"mesh_dir,omitempty"`
	Meshes              MeshList `json:"meshes,omitempty"`
	MeshInput           *string  `json:"mesh_input,omitempty"`
	RestartInput        *string  `json:"restart_input,omitempty"`
	PartitionInput      *string  `json:"partition_input,omitempty"`
	ExecSolver          *bool    `json:"exec_solver,omitempty"`
	SolverArgs          *string  `json:"solver_args,omitempty"`
	LoggingArgs         *string  `json:"logging_args,omitempty"`
	MPIIO               *string  `json:"mpi_io,omitempty"`
	Debugger            *string  `json:"debugger,omitempty"`
	ThermochemistryData *string  `json:"thermochemistry_data,omitempty"`
	SolidFuelData       *string  `json:"solid_fuel_data,omitempty"`
	MeteoData           *string  `json:"meteo_data,omitempty"`
	UserInputFiles      []string `json:"user_input_files,omitempty"`
	UserScratchFiles    []string `json:"user_scratch_files,omitempty"`

	// Unknown lists keys found in the file that no field accepts
	Unknown []string `json:"-"`
}

var knownKeys = map[string]bool{
	"version":              true,
	"mesh_dir":             true,
	"meshes":               true,
	"mesh_input":           true,
	"restart_input":        true,
	"partition_input":      true,
	"exec_solver":          true,
	"solver_args":          true,
	"logging_args":         true,
	"mpi_io":               true,
	"debugger":             true,
	"thermochemistry_data": true,
	"solid_fuel_data":      true,
	"meteo_data":           true,
	"user_input_files":     true,
	"user_scratch_files":   true,
}

// MPI-IO modes accepted by the solver
var MPIIOModes = []string{"off", "eo", "ip"}

// Parse reads YAML parameters
func (ip *Parameters) Parse(data []byte) error {
	var keys map[string]interface{}
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, ip); err != nil {
		return err
	}
	for k := range keys {
		if !knownKeys[k] {
			ip.Unknown = append(ip.Unknown, k)
		}
	}
	sort.Strings(ip.Unknown)
	if v, ok := keys["version"]; ok && v != nil {
		s := versionString(v)
		ip.Version = &s
	}
	return ip.Validate()
}

// versionString keeps the decimal of numeric versions, so that an unquoted
// 2.0 reads as "2.0"
func versionString(v interface{}) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatFloat(n, 'f', 1, 64)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}

func (ip *Parameters) Validate() error {
	if ip.MPIIO != nil {
		ok := false
		for _, m := range MPIIOModes {
			ok = ok || *ip.MPIIO == m
		}
		if !ok {
			return fmt.Errorf("mpi_io must be one of %v, got %q", MPIIOModes, *ip.MPIIO)
		}
	}
	for i, m := range ip.Meshes {
		if m.Path == "" {
			return fmt.Errorf("meshes[%d] has no path", i)
		}
	}
	return nil
}

// Read parses the parameter file at path. XML files must have the given root
// element and version attribute; other files are read as YAML, where a
// version key, if present, must match.
func Read(path string, r io.Reader, root, version string) (*Parameters, error) {
	ip := &Parameters{}
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		if err := ip.ParseXML(r, root, version); err != nil {
			return nil, fmt.Errorf("parameter file %s: %w", path, err)
		}
		return ip, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parameter file %s: %w", path, err)
	}
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("parameter file %s: %w", path, err)
	}
	if ip.Version != nil && version != "" && *ip.Version != version {
		return nil, fmt.Errorf("parameter file %s: version %s, expected %s", path, *ip.Version, version)
	}
	return ip, nil
}

func (ip *Parameters) Print(w io.Writer) {
	str := func(p *string) string {
		if p == nil {
			return "<unset>"
		}
		return *p
	}
	fmt.Fprintf(w, "[%s]\t\t= mesh_dir\n", str(ip.MeshDir))
	for i, m := range ip.Meshes {
		fmt.Fprintf(w, "meshes[%d] = %s %v\n", i, m.Path, m.Options)
	}
	fmt.Fprintf(w, "[%s]\t\t= mesh_input\n", str(ip.MeshInput))
	fmt.Fprintf(w, "[%s]\t\t= restart_input\n", str(ip.RestartInput))
	fmt.Fprintf(w, "[%s]\t\t= partition_input\n", str(ip.PartitionInput))
	if ip.ExecSolver != nil {
		fmt.Fprintf(w, "[%t]\t\t= exec_solver\n", *ip.ExecSolver)
	}
	fmt.Fprintf(w, "[%s]\t\t= solver_args\n", str(ip.SolverArgs))
	fmt.Fprintf(w, "[%s]\t\t= mpi_io\n", str(ip.MPIIO))
	for _, k := range ip.Unknown {
		fmt.Fprintf(w, "unknown key [%s] ignored\n", k)
	}
}
