package InputParameters

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

type xmlMesh struct {
	Name    string `xml:"name,attr"`
	Path    string `xml:"path,attr"`
	Options string `xml:"options,attr"`
}

type xmlAny struct {
	XMLName xml.Name
}

type xmlManagement struct {
	MeshDir             *string   `xml:"mesh_dir"`
	Meshes              []xmlMesh `xml:"meshes_list>mesh"`
	MeshInput           *string   `xml:"mesh_input"`
	RestartInput        *string   `xml:"restart_input"`
	PartitionInput      *string   `xml:"partition_input"`
	ExecSolver          *string   `xml:"exec_solver"`
	SolverArgs          *string   `xml:"solver_args"`
	LoggingArgs         *string   `xml:"logging_args"`
	MPIIO               *string   `xml:"mpi_io"`
	Debugger            *string   `xml:"debugger"`
	ThermochemistryData *string   `xml:"thermochemistry_data"`
	SolidFuelData       *string   `xml:"solid_fuel_data"`
	MeteoData           *string   `xml:"meteo_data"`
	UserInputFiles      []string  `xml:"user_input_file"`
	UserScratchFiles    []string  `xml:"user_scratch_file"`
	Other               []xmlAny  `xml:",any"`
}

type xmlCase struct {
	XMLName    xml.Name
	Version    string         `xml:"version,attr"`
	Management *xmlManagement `xml:"calculation_management"`
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	return &s
}

// ParseXML reads the calculation_management section of an XML parameter file.
// Other sections hold physical settings read by the solver itself.
func (ip *Parameters) ParseXML(r io.Reader, root, version string) error {
	var doc xmlCase
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return err
	}
	if root != "" && doc.XMLName.Local != root {
		return fmt.Errorf("root element <%s>, expected <%s>", doc.XMLName.Local, root)
	}
	if version != "" && doc.Version != version {
		return fmt.Errorf("version %q, expected %q", doc.Version, version)
	}
	ip.Version = &doc.Version
	cm := doc.Management
	if cm == nil {
		return nil
	}
	ip.MeshDir = trimmed(cm.MeshDir)
	ip.MeshInput = trimmed(cm.MeshInput)
	ip.RestartInput = trimmed(cm.RestartInput)
	ip.PartitionInput = trimmed(cm.PartitionInput)
	ip.SolverArgs = trimmed(cm.SolverArgs)
	ip.LoggingArgs = trimmed(cm.LoggingArgs)
	ip.MPIIO = trimmed(cm.MPIIO)
	ip.Debugger = trimmed(cm.Debugger)
	ip.ThermochemistryData = trimmed(cm.ThermochemistryData)
	ip.SolidFuelData = trimmed(cm.SolidFuelData)
	ip.MeteoData = trimmed(cm.MeteoData)
	if cm.ExecSolver != nil {
		b, err := strconv.ParseBool(strings.TrimSpace(*cm.ExecSolver))
		if err != nil {
			return fmt.Errorf("exec_solver: %w", err)
		}
		ip.ExecSolver = &b
	}
	for _, m := range cm.Meshes {
		path := m.Path
		if path == "" {
			path = m.Name
		}
		mesh := Mesh{Path: path}
		if opts := strings.Fields(m.Options); len(opts) > 0 {
			mesh.Options = opts
		}
		ip.Meshes = append(ip.Meshes, mesh)
	}
	for _, f := range cm.UserInputFiles {
		ip.UserInputFiles = append(ip.UserInputFiles, strings.TrimSpace(f))
	}
	for _, f := range cm.UserScratchFiles {
		ip.UserScratchFiles = append(ip.UserScratchFiles, strings.TrimSpace(f))
	}
	for _, o := range cm.Other {
		ip.Unknown = append(ip.Unknown, o.XMLName.Local)
	}
	sort.Strings(ip.Unknown)
	return ip.Validate()
}
