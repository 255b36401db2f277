// Package foundry reads Foundry project layout, build artifacts and
// library configuration, and drives forge for source flattening.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pendergraft/contraverify/internal/validation"
)

var (
	// ErrArtifactNotFound means the build artifact does not exist. Run forge build first.
	ErrArtifactNotFound = errors.New("build artifact not found, run forge build first")
	// ErrArtifactMalformed means the artifact is not valid JSON. Run forge build again.
	ErrArtifactMalformed = errors.New("build artifact is malformed, run forge build again")
	// ErrMetadataField means a required metadata field is missing.
	ErrMetadataField = errors.New("missing metadata field")
)

// Metadata is the compiler configuration needed to reproduce a build.
type Metadata struct {
	CompilerVersion  string `json:"compilerVersion"` // "v0.8.16+commit.07a7930e"
	EVMVersion       string `json:"evmVersion"`
	OptimizerEnabled bool   `json:"optimizerEnabled"`
	OptimizerRuns    int    `json:"optimizerRuns"`
	LicenseName      string `json:"licenseName"`
}

// Artifact represents the parts of a Foundry artifact JSON file we read
type Artifact struct {
	Bytecode         BytecodeObject `json:"bytecode"`
	DeployedBytecode BytecodeObject `json:"deployedBytecode"`
	RawMetadata      string         `json:"rawMetadata"`
	Metadata         *ContractMeta  `json:"metadata"`
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object              string                       `json:"object"`
	LinkReferences      map[string]map[string][]Link `json:"linkReferences"`
	ImmutableReferences map[string][]Link            `json:"immutableReferences"`
}

// Link is a byte range inside bytecode
type Link struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// ContractMeta is the solc metadata embedded in the artifact
type ContractMeta struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
		EVMVersion        *string           `json:"evmVersion"`
		Optimizer         *struct {
			Enabled bool `json:"enabled"`
			Runs    int  `json:"runs"`
		} `json:"optimizer"`
	} `json:"settings"`
	Sources map[string]struct {
		License string `json:"license"`
	} `json:"sources"`
}

// ReadArtifact loads and decodes an artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMalformed, path, err)
	}

	// Older forge versions only emit rawMetadata
	if a.Metadata == nil && a.RawMetadata != "" {
		var m ContractMeta
		if err := json.Unmarshal([]byte(a.RawMetadata), &m); err != nil {
			return nil, fmt.Errorf("%w: %s: rawMetadata: %v", ErrArtifactMalformed, path, err)
		}
		a.Metadata = &m
	}
	return &a, nil
}

// ReadContractMetadata extracts compiler settings for the contract compiled
// from sourcePath out of the artifact at artifactPath.
func ReadContractMetadata(artifactPath, sourcePath string) (Metadata, error) {
	a, err := ReadArtifact(artifactPath)
	if err != nil {
		return Metadata{}, err
	}
	return a.ContractMetadata(sourcePath)
}

// ContractMetadata extracts compiler settings for sourcePath.
func (a *Artifact) ContractMetadata(sourcePath string) (Metadata, error) {
	m := a.Metadata
	if m == nil {
		return Metadata{}, fmt.Errorf("%w: metadata", ErrMetadataField)
	}
	if m.Compiler.Version == "" {
		return Metadata{}, fmt.Errorf("%w: compiler.version", ErrMetadataField)
	}
	if m.Settings.EVMVersion == nil {
		return Metadata{}, fmt.Errorf("%w: settings.evmVersion", ErrMetadataField)
	}
	if m.Settings.Optimizer == nil {
		return Metadata{}, fmt.Errorf("%w: settings.optimizer", ErrMetadataField)
	}
	src, ok := m.Sources[sourcePath]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: sources[%q]", ErrMetadataField, sourcePath)
	}

	return Metadata{
		CompilerVersion:  validation.NormalizeCompilerVersion(m.Compiler.Version),
		EVMVersion:       *m.Settings.EVMVersion,
		OptimizerEnabled: m.Settings.Optimizer.Enabled,
		OptimizerRuns:    m.Settings.Optimizer.Runs,
		LicenseName:      src.License,
	}, nil
}

// HasLinkReferences reports whether the creation bytecode needs a library.
func (a *Artifact) HasLinkReferences() bool {
	return len(a.Bytecode.LinkReferences) > 0
}
