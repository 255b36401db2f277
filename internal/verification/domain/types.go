// Package domain contains the business logic for contract verification.
package domain

import (
	"time"
)

// Kind identifies how a backend talks to its explorer.
type Kind string

const (
	// KindExplorerAPI backends submit to a vendor JSON API and poll for the result.
	KindExplorerAPI Kind = "explorer-api"
	// KindCLIDelegated backends hand the whole protocol to an external tool.
	KindCLIDelegated Kind = "cli-delegated"
)

// Status is the outcome of one backend for one contract.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusAlreadyVerified Status = "already-verified"
	StatusFailure         Status = "failure"
)

// Mode selects how many backends are attempted per contract.
type Mode string

const (
	// ModeAll attempts every available backend.
	ModeAll Mode = "all"
	// ModeFirstSuccess stops at the first backend that succeeds.
	ModeFirstSuccess Mode = "first-success"
)

// ParseMode parses a mode name. The empty string selects ModeAll.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAll:
		return ModeAll, nil
	case ModeFirstSuccess:
		return ModeFirstSuccess, nil
	}
	return "", ErrInvalidMode
}

// Library is a deployed library linked into the contract being verified.
type Library struct {
	Path    string `json:"path,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// IsZero reports whether no library is linked.
func (l Library) IsZero() bool {
	return l.Address == ""
}

// Contract identifies one deployed contract. It is not modified once
// verification starts.
type Contract struct {
	Name            string
	Address         string
	ChainID         string
	SourcePath      string // e.g. "src/DssSpell.sol"
	ConstructorArgs string // ABI-encoded hex, may be empty
	Library         Library
}

// Outcome is what a backend reports for one contract.
type Outcome struct {
	Status Status
	Reason string
	URL    string
}

// OK reports whether the outcome counts as verified.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess || o.Status == StatusAlreadyVerified
}

// Verified returns a success outcome.
func Verified(url string) Outcome {
	return Outcome{Status: StatusSuccess, URL: url}
}

// AlreadyVerified returns an already-verified outcome.
func AlreadyVerified(url string) Outcome {
	return Outcome{Status: StatusAlreadyVerified, URL: url}
}

// Failed returns a failure outcome.
func Failed(reason string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason}
}

// Phase is a step of a submit-then-poll verification attempt.
type Phase string

const (
	PhaseSubmitted       Phase = "submitted"
	PhasePending         Phase = "pending"
	PhaseVerified        Phase = "verified"
	PhaseAlreadyVerified Phase = "already-verified"
	PhaseFailed          Phase = "failed"
)

// AttemptState tracks one (contract, backend) verification attempt.
type AttemptState struct {
	Phase  Phase
	JobID  string
	Reason string
}

// Submitted returns the state after a job was accepted.
func Submitted(jobID string) AttemptState {
	return AttemptState{Phase: PhaseSubmitted, JobID: jobID}
}

// Terminal reports whether no further polling is needed.
func (s AttemptState) Terminal() bool {
	switch s.Phase {
	case PhaseVerified, PhaseAlreadyVerified, PhaseFailed:
		return true
	}
	return false
}

// Outcome converts a terminal state to an Outcome.
func (s AttemptState) Outcome(url string) Outcome {
	switch s.Phase {
	case PhaseVerified:
		return Verified(url)
	case PhaseAlreadyVerified:
		return AlreadyVerified(url)
	case PhaseFailed:
		return Failed(s.Reason)
	}
	return Failed("verification did not finish: " + string(s.Phase))
}

// Request asks for a contract and its action contract to be verified.
type Request struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	ConstructorArgs string `json:"constructorArgs,omitempty"`
}

// BackendResult is one backend's outcome in a report.
type BackendResult struct {
	Backend  string        `json:"backend" yaml:"backend"`
	Kind     Kind          `json:"kind" yaml:"kind"`
	Status   Status        `json:"status" yaml:"status"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	URL      string        `json:"url,omitempty" yaml:"url,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// ContractReport holds the outcomes for one contract in backend order.
type ContractReport struct {
	Name    string          `json:"name" yaml:"name"`
	Address string          `json:"address" yaml:"address"`
	Results []BackendResult `json:"results" yaml:"results"`
	Success bool            `json:"success" yaml:"success"`
	Reason  string          `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Result returns the result of the named backend.
func (r *ContractReport) Result(backend string) (BackendResult, bool) {
	for _, res := range r.Results {
		if res.Backend == backend {
			return res, true
		}
	}
	return BackendResult{}, false
}

// Succeeded returns how many backends verified the contract.
func (r *ContractReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != StatusFailure {
			n++
		}
	}
	return n
}

// Failed returns the names of backends that failed.
func (r *ContractReport) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if res.Status == StatusFailure {
			names = append(names, res.Backend)
		}
	}
	return names
}

// Report is the result of one verification run.
type Report struct {
	ID         string           `json:"id,omitempty" yaml:"id,omitempty"`
	ChainID    string           `json:"chainId" yaml:"chainId"`
	Mode       Mode             `json:"mode" yaml:"mode"`
	Contracts  []ContractReport `json:"contracts" yaml:"contracts"`
	Success    bool             `json:"success" yaml:"success"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt" yaml:"finishedAt"`
}

// Primary returns the first contract report, if any.
func (r *Report) Primary() *ContractReport {
	if len(r.Contracts) == 0 {
		return nil
	}
	return &r.Contracts[0]
}
