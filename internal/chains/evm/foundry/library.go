package foundry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pendergraft/contraverify/internal/validation"
)

// foundryConfig is the subset of foundry.toml that declares linked libraries.
type foundryConfig struct {
	Profile map[string]struct {
		Libraries []string `toml:"libraries"`
	} `toml:"profile"`
}

// Library is a linked library as forge expects it in --libraries.
type Library struct {
	Path    string
	Name    string
	Address string
}

// String formats the library as <path>:<Name>:<address>.
func (l Library) String() string {
	return l.Path + ":" + l.Name + ":" + l.Address
}

// FindLibrary returns the deployed location of the named library.
// It looks at the libraries entries of foundry.toml first and then at
// a <name>.address file in the project root. ok is false when the
// project links no such library.
func (p *Project) FindLibrary(name string) (lib Library, ok bool, err error) {
	lib, ok, err = p.libraryFromConfig(name)
	if err != nil || ok {
		return lib, ok, err
	}
	return p.libraryFromFile(name)
}

func (p *Project) libraryFromConfig(name string) (Library, bool, error) {
	data, err := os.ReadFile(p.ConfigFile())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Library{}, false, nil
		}
		return Library{}, false, fmt.Errorf("reading foundry.toml: %w", err)
	}

	var cfg foundryConfig
	if _, err := toml.Decode(string(data), &cfg); err == nil {
		// default profile wins when several declare the library
		profiles := []string{"default"}
		for k := range cfg.Profile {
			if k != "default" {
				profiles = append(profiles, k)
			}
		}
		for _, profile := range profiles {
			for _, entry := range cfg.Profile[profile].Libraries {
				if lib, ok := parseLibraryEntry(entry, name); ok {
					return lib, true, nil
				}
			}
		}
		return Library{}, false, nil
	}

	// Fall back to a plain scan when the file does not decode, e.g. it uses
	// keys newer than our struct understands in a way toml rejects.
	re := regexp.MustCompile(`([^"'\s,\[]*):` + regexp.QuoteMeta(name) + `:(0x[0-9a-fA-F]{40})`)
	if m := re.FindStringSubmatch(string(data)); m != nil {
		return Library{Path: p.libraryPath(m[1], name), Name: name, Address: m[2]}, true, nil
	}
	return Library{}, false, nil
}

// parseLibraryEntry parses "<path>:<Name>:<address>".
func parseLibraryEntry(entry, name string) (Library, bool) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 3 || parts[1] != name {
		return Library{}, false
	}
	if validation.ValidateAddress(parts[2]) != nil {
		return Library{}, false
	}
	return Library{Path: parts[0], Name: name, Address: parts[2]}, true
}

func (p *Project) libraryFromFile(name string) (Library, bool, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, name+".address"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Library{}, false, nil
		}
		return Library{}, false, fmt.Errorf("reading %s.address: %w", name, err)
	}
	addr := strings.TrimSpace(string(data))
	if err := validation.ValidateAddress(addr); err != nil {
		return Library{}, false, fmt.Errorf("%s.address: %w", name, err)
	}
	return Library{Path: p.SourcePath(name), Name: name, Address: addr}, true, nil
}

func (p *Project) libraryPath(path, name string) string {
	if path == "" {
		return p.SourcePath(name)
	}
	return path
}
