package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// MatchKind describes how closely deployed code matches a build artifact.
type MatchKind string

const (
	MatchFull    MatchKind = "full"    // identical including metadata
	MatchPartial MatchKind = "partial" // executable code identical, metadata differs
	MatchNone    MatchKind = "none"
)

// BytecodeMatch is the result of comparing deployed code to an artifact.
type BytecodeMatch struct {
	Kind    MatchKind
	Message string
}

// Match reports whether the executable code matches.
func (m BytecodeMatch) Match() bool {
	return m.Kind == MatchFull || m.Kind == MatchPartial
}

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-f0-9]{34}\$__`)

// LinkPlaceholder returns the placeholder solc emits for a library:
// the first 17 bytes of keccak256("<path>:<Name>").
func LinkPlaceholder(path, name string) string {
	h := crypto.Keccak256([]byte(path + ":" + name))
	return "__$" + hex.EncodeToString(h)[:34] + "$__"
}

// HasLibraryPlaceholders checks if hex bytecode still has unlinked libraries
func HasLibraryPlaceholders(code string) bool {
	return libraryPlaceholder.MatchString(code)
}

// LinkBytecode substitutes library addresses into hex bytecode.
func LinkBytecode(code string, libs ...domain.Library) (string, error) {
	code = strings.TrimPrefix(code, "0x")
	for _, lib := range libs {
		if lib.IsZero() {
			continue
		}
		addr := strings.ToLower(strings.TrimPrefix(lib.Address, "0x"))
		code = strings.ReplaceAll(code, LinkPlaceholder(lib.Path, lib.Name), addr)
	}
	if HasLibraryPlaceholders(code) {
		return "", fmt.Errorf("bytecode references a library that is not configured")
	}
	return code, nil
}

// StripMetadata removes the CBOR metadata solc appends to runtime code.
// The last two bytes hold the metadata length.
func StripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	start := len(code) - 2 - n
	if n == 0 || start < 0 {
		return code
	}
	// CBOR map header with 1 to 3 entries
	if h := code[start]; h < 0xa1 || h > 0xa3 {
		return code
	}
	return code[:start]
}

// maskImmutables zeroes immutable slots, which are filled in at deploy time.
func maskImmutables(code []byte, refs map[string][]foundry.Link) []byte {
	if len(refs) == 0 {
		return code
	}
	out := bytes.Clone(code)
	for _, links := range refs {
		for _, l := range links {
			if l.Start < 0 || l.Start+l.Length > len(out) {
				continue
			}
			clear(out[l.Start : l.Start+l.Length])
		}
	}
	return out
}

// CompareBytecode compares deployed runtime code to the artifact's deployed bytecode
func CompareBytecode(deployed []byte, artifact foundry.BytecodeObject, libs ...domain.Library) (BytecodeMatch, error) {
	linked, err := LinkBytecode(artifact.Object, libs...)
	if err != nil {
		return BytecodeMatch{}, err
	}
	expected, err := hex.DecodeString(linked)
	if err != nil {
		return BytecodeMatch{}, fmt.Errorf("decoding artifact bytecode: %w", err)
	}
	if len(deployed) == 0 {
		return BytecodeMatch{Kind: MatchNone, Message: "No code deployed at address"}, nil
	}

	deployed = maskImmutables(deployed, artifact.ImmutableReferences)
	expected = maskImmutables(expected, artifact.ImmutableReferences)

	if bytes.Equal(deployed, expected) {
		return BytecodeMatch{Kind: MatchFull, Message: "Bytecode matches exactly including metadata"}, nil
	}
	if bytes.Equal(StripMetadata(deployed), StripMetadata(expected)) {
		return BytecodeMatch{Kind: MatchPartial, Message: "Executable code matches, metadata differs"}, nil
	}
	return BytecodeMatch{Kind: MatchNone, Message: "Bytecode does not match the local build"}, nil
}

// Precheck compares the code deployed for c with the local build artifact.
func (r *Resolver) Precheck(ctx context.Context, c domain.Contract) (BytecodeMatch, error) {
	artifact, err := foundry.ReadArtifact(r.project.ArtifactPath(c.SourcePath, c.Name))
	if err != nil {
		return BytecodeMatch{}, err
	}
	code, err := r.DeployedCode(ctx, c.Address)
	if err != nil {
		return BytecodeMatch{}, fmt.Errorf("getting deployed code: %w", err)
	}
	return CompareBytecode(code, artifact.DeployedBytecode, c.Library)
}
