// Package validation provides input validation for contraverify.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// ErrInvalidAddress is returned for anything that is not 0x + 40 hex chars.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidContractName is returned for names that are not Solidity identifiers.
	ErrInvalidContractName = errors.New("invalid contract name")
	// ErrInvalidChainID is returned for chain IDs that are not positive integers.
	ErrInvalidChainID = errors.New("invalid chain ID")
	// ErrInvalidCompilerVersion is returned for unparseable solc versions.
	ErrInvalidCompilerVersion = errors.New("invalid compiler version")
	// ErrInvalidConstructorArgs is returned for non-hex constructor arguments.
	ErrInvalidConstructorArgs = errors.New("invalid constructor arguments")
)

// Solidity identifiers: letters, digits, $ and _, not starting with a digit
var contractNameRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]{0,127}$`)

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return fmt.Errorf("%w: length %d, must be 42 characters (0x + 40 hex)", ErrInvalidAddress, len(addr))
	}
	if !strings.HasPrefix(addr, "0x") {
		return fmt.Errorf("%w: must start with 0x", ErrInvalidAddress)
	}
	if !isHex(addr[2:]) {
		return fmt.Errorf("%w: contains non-hex characters", ErrInvalidAddress)
	}
	return nil
}

// ValidateContractName validates a contract name
func ValidateContractName(name string) error {
	if !contractNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidContractName, name)
	}
	return nil
}

// ValidateChainID validates a decimal chain ID as reported by the node
func ValidateChainID(chainID string) error {
	n, err := strconv.ParseUint(chainID, 10, 64)
	if err != nil || n == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidChainID, chainID)
	}
	return nil
}

// ValidateConstructorArgs accepts an empty string or ABI-encoded hex,
// with or without a 0x prefix.
func ValidateConstructorArgs(args string) error {
	trimmed := strings.TrimPrefix(args, "0x")
	if trimmed == "" {
		return nil
	}
	if len(trimmed)%2 != 0 || !isHex(trimmed) {
		return fmt.Errorf("%w: must be even-length hex", ErrInvalidConstructorArgs)
	}
	return nil
}

// ValidateCompilerVersion validates a solc long version such as
// "v0.8.16+commit.07a7930e". The leading v is optional.
func ValidateCompilerVersion(v string) error {
	normalized := NormalizeCompilerVersion(v)
	if !semver.IsValid(normalized) {
		return fmt.Errorf("%w: %q", ErrInvalidCompilerVersion, v)
	}
	// solc always reports major.minor.patch
	core := strings.SplitN(strings.SplitN(normalized, "+", 2)[0], "-", 2)[0]
	if strings.Count(core, ".") != 2 {
		return fmt.Errorf("%w: %q must be major.minor.patch", ErrInvalidCompilerVersion, v)
	}
	return nil
}

// NormalizeCompilerVersion ensures the leading v that explorers expect
func NormalizeCompilerVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CompareCompilerVersions compares two solc versions, ignoring build metadata.
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareCompilerVersions(v1, v2 string) int {
	return semver.Compare(NormalizeCompilerVersion(v1), NormalizeCompilerVersion(v2))
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}
