package domain

import "github.com/notargets/cfdrun/execenv"

// Hooks let a case customize a flow domain at fixed points. Each hook runs at
// most once and is cleared after its first call.
type Hooks struct {
	// ParameterFile may set the parameter file before it is read
	ParameterFile func(d *FlowDomain) error
	// DomainParameters may override parameters after the file is applied
	DomainParameters func(d *FlowDomain) error
	// CaseParameters may adjust case-wide run settings
	CaseParameters func(p *CaseParameters) error
	// MPIEnvironment may adjust the launcher used for the run
	MPIEnvironment func(e *execenv.MPIEnvironment) error
}

// CaseParameters are the case-wide settings exposed to the CaseParameters hook
type CaseParameters struct {
	// NProcs, when set, is the process count of a single domain case
	NProcs int
	// ExecRoot, when set, places execution directories outside the case
	ExecRoot string
	RunID    string
	// ResultRoot, when set, replaces RESU/<run> as the result directory
	ResultRoot string
}

// DefineCaseParameters runs the CaseParameters hook, once
func (d *FlowDomain) DefineCaseParameters(p *CaseParameters) error {
	h := d.hooks.CaseParameters
	if h == nil {
		return nil
	}
	d.hooks.CaseParameters = nil
	return wrapRunCaseError(h(p), "case parameters hook%s", d.forDomain())
}

// DefineMPIEnvironment runs the MPIEnvironment hook, once
func (d *FlowDomain) DefineMPIEnvironment(e *execenv.MPIEnvironment) error {
	h := d.hooks.MPIEnvironment
	if h == nil {
		return nil
	}
	d.hooks.MPIEnvironment = nil
	return wrapRunCaseError(h(e), "MPI environment hook%s", d.forDomain())
}

func (d *FlowDomain) defineParameterFile() error {
	h := d.hooks.ParameterFile
	if h == nil {
		return nil
	}
	d.hooks.ParameterFile = nil
	return wrapRunCaseError(h(d), "parameter file hook%s", d.forDomain())
}

func (d *FlowDomain) defineDomainParameters() error {
	h := d.hooks.DomainParameters
	if h == nil {
		return nil
	}
	d.hooks.DomainParameters = nil
	return wrapRunCaseError(h(d), "domain parameters hook%s", d.forDomain())
}
