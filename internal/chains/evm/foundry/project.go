package foundry

import (
	"errors"
	"os"
	"path"
	"path/filepath"
)

// Project describes the layout of a Foundry project on disk.
type Project struct {
	// Dir is the project root containing foundry.toml.
	Dir string
	// SrcDir and OutDir are relative to Dir.
	SrcDir string
	OutDir string
}

// NewProject returns a project rooted at dir with Foundry's default layout.
func NewProject(dir string) *Project {
	return &Project{Dir: dir, SrcDir: "src", OutDir: "out"}
}

// ConfigFile returns the path of foundry.toml.
func (p *Project) ConfigFile() string {
	return filepath.Join(p.Dir, "foundry.toml")
}

// Detect checks if Dir is a Foundry project
func (p *Project) Detect() (bool, error) {
	_, err := os.Stat(p.ConfigFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SourcePath returns the project-relative source path for a contract,
// e.g. "src/DssSpell.sol". Forge and solc metadata use forward slashes.
func (p *Project) SourcePath(contract string) string {
	return path.Join(p.SrcDir, contract+".sol")
}

// ArtifactPath returns the artifact file forge writes for a contract
// defined in sourcePath: out/<File>.sol/<Contract>.json
func (p *Project) ArtifactPath(sourcePath, contract string) string {
	return filepath.Join(p.Dir, p.OutDir, path.Base(sourcePath), contract+".json")
}
